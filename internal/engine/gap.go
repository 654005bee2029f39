package engine

import (
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

// GapResult carries the outcome of one gap evaluation. The chosen competitor
// observation is informational; only the price drives the threshold decision.
type GapResult struct {
	OwnPrice           decimal.Decimal
	MinCompetitorPrice decimal.Decimal
	GapPct             decimal.Decimal
	Own                storage.PriceObservation
	MinCompetitor      storage.PriceObservation
}

// EvaluateGap computes the relative gap between the latest own price and the
// cheapest competitor in the most recent competitor round. Returns false when
// either side is missing or the minimum competitor price is zero; neither is
// an error, the pair simply cannot be evaluated.
//
// Gap = (own - minCompetitor) / minCompetitor; positive means the own price
// is above the best competitor price.
func EvaluateGap(own *storage.PriceObservation, competitors []storage.PriceObservation) (GapResult, bool) {
	if own == nil || len(competitors) == 0 {
		return GapResult{}, false
	}

	round := latestRound(competitors)

	min := round[0]
	for _, obs := range round[1:] {
		if obs.Price.LessThan(min.Price) {
			min = obs
		}
	}

	if min.Price.IsZero() {
		return GapResult{}, false
	}

	gap := own.Price.Sub(min.Price).Div(min.Price)

	return GapResult{
		OwnPrice:           own.Price,
		MinCompetitorPrice: min.Price,
		GapPct:             gap,
		Own:                *own,
		MinCompetitor:      min,
	}, true
}

// latestRound restricts observations to those sharing the most recent capture
// timestamp. Competitors scraped together share one timestamp, so this is the
// latest scrape round.
func latestRound(observations []storage.PriceObservation) []storage.PriceObservation {
	latest := observations[0].CapturedAt
	for _, obs := range observations[1:] {
		if obs.CapturedAt.After(latest) {
			latest = obs.CapturedAt
		}
	}

	round := make([]storage.PriceObservation, 0, len(observations))
	for _, obs := range observations {
		if obs.CapturedAt.Equal(latest) {
			round = append(round, obs)
		}
	}
	return round
}
