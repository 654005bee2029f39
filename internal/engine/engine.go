package engine

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

// Options tune engine behaviour.
type Options struct {
	DedupWindow         time.Duration
	DefaultGapThreshold decimal.Decimal
}

// Engine decides which watch entities are due for polling and which price
// gaps become alerts. It reads entities and observations, appends alerts, and
// mutates nothing else.
type Engine struct {
	watches storage.WatchEntityStore
	obs     storage.ObservationStore
	alerts  storage.AlertStore

	dedup            Deduplicator
	defaultThreshold decimal.Decimal
	logger           zerolog.Logger
	now              func() time.Time
}

// New constructs the engine around the store gateway.
func New(watches storage.WatchEntityStore, obs storage.ObservationStore, alerts storage.AlertStore, opts Options, logger zerolog.Logger) *Engine {
	window := opts.DedupWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	threshold := opts.DefaultGapThreshold
	if threshold.IsZero() {
		threshold = decimal.NewFromFloat(0.10)
	}

	return &Engine{
		watches:          watches,
		obs:              obs,
		alerts:           alerts,
		dedup:            Deduplicator{Window: window},
		defaultThreshold: threshold,
		logger:           logger.With().Str("component", "engine").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}
