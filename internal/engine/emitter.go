package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

type pairKey struct {
	group   string
	channel string
}

// CreatedAlert is an alert created this cycle together with the threshold it
// crossed, which downstream notification needs but the stored row does not
// carry.
type CreatedAlert struct {
	storage.Alert
	Threshold decimal.Decimal
}

// RunAlertCycle evaluates every distinct active (group, channel) pair and
// creates an alert for each computable gap over the pair's threshold that is
// not a recent duplicate. Pairs are evaluated independently; one pair's store
// failure never stops the others. Returns the alerts created this cycle and
// any per-pair errors joined.
func (e *Engine) RunAlertCycle(ctx context.Context) ([]CreatedAlert, error) {
	entities, err := e.watches.ListActiveWatchEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active watch entities: %w", err)
	}

	pairs := activePairs(entities)
	thresholds := pairThresholds(entities, e.defaultThreshold)

	created := make([]CreatedAlert, 0)
	var errs []error
	for _, pair := range pairs {
		alert, ok, pairErr := e.evaluatePair(ctx, pair, thresholds[pair])
		if pairErr != nil {
			e.logger.Error().Err(pairErr).
				Str("group", pair.group).
				Str("channel", pair.channel).
				Msg("pair evaluation failed")
			errs = append(errs, fmt.Errorf("%s/%s: %w", pair.group, pair.channel, pairErr))
			continue
		}
		if ok {
			created = append(created, CreatedAlert{Alert: alert, Threshold: thresholds[pair]})
		}
	}

	return created, errors.Join(errs...)
}

func (e *Engine) evaluatePair(ctx context.Context, pair pairKey, threshold decimal.Decimal) (storage.Alert, bool, error) {
	own, err := e.obs.LatestOwnObservation(ctx, pair.group, pair.channel)
	if err != nil {
		return storage.Alert{}, false, err
	}

	round, err := e.obs.LatestCompetitorRound(ctx, pair.group, pair.channel)
	if err != nil {
		return storage.Alert{}, false, err
	}

	result, ok := EvaluateGap(own, round)
	if !ok {
		e.logger.Debug().
			Str("group", pair.group).
			Str("channel", pair.channel).
			Msg("gap not computable; pair skipped")
		return storage.Alert{}, false, nil
	}

	// Strict inequality: a gap exactly at the threshold does not alert.
	if !result.GapPct.GreaterThan(threshold) {
		return storage.Alert{}, false, nil
	}

	now := e.now()
	since := e.dedup.WindowStart(now)

	recent, err := e.alerts.AlertsOpenedSince(ctx, pair.group, pair.channel, storage.KindGapOverThreshold, since)
	if err != nil {
		return storage.Alert{}, false, err
	}
	if e.dedup.IsDuplicate(recent) {
		e.logger.Debug().
			Str("group", pair.group).
			Str("channel", pair.channel).
			Msg("alert suppressed as duplicate")
		return storage.Alert{}, false, nil
	}

	candidate := storage.Alert{
		ProductGroupKey:       pair.group,
		Channel:               pair.channel,
		Kind:                  storage.KindGapOverThreshold,
		Detail:                renderDetail(result, threshold),
		OwnPrice:              result.OwnPrice,
		MinCompetitorPrice:    result.MinCompetitorPrice,
		GapPct:                result.GapPct,
		EndpointOwn:           result.Own.EndpointRef,
		EndpointMinCompetitor: result.MinCompetitor.EndpointRef,
	}

	stored, err := e.alerts.CreateAlert(ctx, candidate, since)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateAlert) {
			e.logger.Debug().
				Str("group", pair.group).
				Str("channel", pair.channel).
				Msg("concurrent duplicate rejected by store; suppressed")
			return storage.Alert{}, false, nil
		}
		return storage.Alert{}, false, err
	}

	e.logger.Info().
		Str("group", pair.group).
		Str("channel", pair.channel).
		Str("gap_pct", stored.GapPct.String()).
		Str("own_price", stored.OwnPrice.String()).
		Str("min_competitor_price", stored.MinCompetitorPrice.String()).
		Msg("alert created")

	return stored, true, nil
}

// activePairs returns the distinct (group, channel) pairs in first-seen
// order, so evaluation order is deterministic.
func activePairs(entities []storage.WatchEntity) []pairKey {
	seen := make(map[pairKey]struct{}, len(entities))
	pairs := make([]pairKey, 0, len(entities))
	for _, entity := range entities {
		key := pairKey{group: entity.ProductGroupKey, channel: entity.Channel}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pairs = append(pairs, key)
	}
	return pairs
}

// pairThresholds resolves the gap threshold per pair: the threshold declared
// on the pair's own-role entity, else the configured default.
func pairThresholds(entities []storage.WatchEntity, fallback decimal.Decimal) map[pairKey]decimal.Decimal {
	thresholds := make(map[pairKey]decimal.Decimal)
	for _, entity := range entities {
		key := pairKey{group: entity.ProductGroupKey, channel: entity.Channel}
		if _, ok := thresholds[key]; ok {
			continue
		}
		if entity.Role == storage.RoleOwn && entity.GapThreshold != nil {
			thresholds[key] = *entity.GapThreshold
		}
	}
	for _, entity := range entities {
		key := pairKey{group: entity.ProductGroupKey, channel: entity.Channel}
		if _, ok := thresholds[key]; !ok {
			thresholds[key] = fallback
		}
	}
	return thresholds
}

func renderDetail(result GapResult, threshold decimal.Decimal) string {
	label := result.MinCompetitor.EndpointRef
	if result.MinCompetitor.CompetitorLabel != nil && *result.MinCompetitor.CompetitorLabel != "" {
		label = *result.MinCompetitor.CompetitorLabel
	}
	return fmt.Sprintf("own %s %s vs min competitor %s (%s), gap %s%% > threshold %s%%",
		result.Own.Currency,
		result.OwnPrice.StringFixed(0),
		result.MinCompetitorPrice.StringFixed(0),
		label,
		result.GapPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
		threshold.Mul(decimal.NewFromInt(100)).StringFixed(2),
	)
}
