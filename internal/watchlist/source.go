// Package watchlist imports watch entities from operator-maintained
// documents. Expected columns (header row required, order free):
//
//	product_group_key | channel | role | endpoint_ref | competitor_label |
//	poll_frequency_minutes | gap_threshold | active
//
// Channels and roles are normalized to lower case. Rows missing one of the
// four identity columns are skipped, not errors.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

const (
	colGroup     = "product_group_key"
	colChannel   = "channel"
	colRole      = "role"
	colEndpoint  = "endpoint_ref"
	colLabel     = "competitor_label"
	colFrequency = "poll_frequency_minutes"
	colThreshold = "gap_threshold"
	colActive    = "active"
)

const defaultFrequencyMinutes = 60

// Source yields watch entities from an external watch-list document.
type Source interface {
	Load(ctx context.Context) ([]storage.WatchEntity, error)
}

// SyncReport counts one import pass.
type SyncReport struct {
	Loaded   int
	Upserted int
}

// Sync loads the source and upserts every entity. Per-entity store failures
// are isolated and joined into the returned error.
func Sync(ctx context.Context, source Source, store storage.WatchEntityStore, logger zerolog.Logger) (SyncReport, error) {
	entities, err := source.Load(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("load watchlist: %w", err)
	}

	report := SyncReport{Loaded: len(entities)}
	var errs []error
	for _, entity := range entities {
		if _, upsertErr := store.UpsertWatchEntity(ctx, entity); upsertErr != nil {
			logger.Error().Err(upsertErr).
				Str("group", entity.ProductGroupKey).
				Str("channel", entity.Channel).
				Str("endpoint", entity.EndpointRef).
				Msg("watchlist upsert failed")
			errs = append(errs, fmt.Errorf("%s/%s %s: %w", entity.ProductGroupKey, entity.Channel, entity.EndpointRef, upsertErr))
			continue
		}
		report.Upserted++
	}
	return report, errors.Join(errs...)
}

// parseEntities converts a header-plus-rows table into entities. Unknown
// columns are ignored; malformed optional values fall back to defaults.
func parseEntities(rows [][]string, logger zerolog.Logger) []storage.WatchEntity {
	if len(rows) == 0 {
		return nil
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	entities := make([]storage.WatchEntity, 0, len(rows)-1)
	for n, row := range rows[1:] {
		cell := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		group := cell(colGroup)
		channel := strings.ToLower(cell(colChannel))
		role := storage.Role(strings.ToLower(cell(colRole)))
		endpoint := cell(colEndpoint)
		if group == "" || channel == "" || role == "" || endpoint == "" {
			logger.Warn().Int("row", n+2).Msg("watchlist row missing identity columns, skipped")
			continue
		}
		if role != storage.RoleOwn && role != storage.RoleCompetitor {
			logger.Warn().Int("row", n+2).Str("role", string(role)).Msg("watchlist row has unknown role, skipped")
			continue
		}

		entity := storage.WatchEntity{
			ProductGroupKey:      group,
			Channel:              channel,
			Role:                 role,
			EndpointRef:          endpoint,
			PollFrequencyMinutes: parseFrequency(cell(colFrequency)),
			GapThreshold:         parseThreshold(cell(colThreshold)),
			Active:               parseBool(cell(colActive), true),
		}
		if label := cell(colLabel); label != "" {
			entity.CompetitorLabel = &label
		}
		entities = append(entities, entity)
	}
	return entities
}

// parseBool accepts the spellings operators actually type, including the
// Spanish si/sí.
func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "si", "sí":
		return true
	case "false", "0", "no", "n":
		return false
	}
	return fallback
}

// parseFrequency tolerates spreadsheet numerics like "60.0".
func parseFrequency(value string) int {
	if value == "" {
		return defaultFrequencyMinutes
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return defaultFrequencyMinutes
	}
	return int(f)
}

func parseThreshold(value string) *decimal.Decimal {
	if value == "" {
		return nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() {
		return nil
	}
	return &d
}
