package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes the operator's own listings from competitor listings.
type Role string

const (
	RoleOwn        Role = "own"
	RoleCompetitor Role = "competitor"
)

// KindGapOverThreshold is the only alert kind currently emitted.
const KindGapOverThreshold = "gap_over_threshold"

// WatchEntity is a single monitored endpoint. Identity is
// (ProductGroupKey, Channel, Role, EndpointRef); everything else is mutable
// via upsert.
type WatchEntity struct {
	ID                   int64
	ProductGroupKey      string
	Channel              string
	Role                 Role
	EndpointRef          string
	CompetitorLabel      *string
	PollFrequencyMinutes int
	GapThreshold         *decimal.Decimal
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PollInterval returns the polling frequency as a duration.
func (w WatchEntity) PollInterval() time.Duration {
	return time.Duration(w.PollFrequencyMinutes) * time.Minute
}

// PriceObservation is an immutable captured price fact. History is
// append-only; rows are never updated or deleted.
type PriceObservation struct {
	ID              int64
	ProductGroupKey string
	Channel         string
	Role            Role
	EndpointRef     string
	CompetitorLabel *string
	Price           decimal.Decimal
	Stock           *int64
	Currency        string
	CapturedAt      time.Time
	RawPayload      json.RawMessage
}

// Alert records one detected price gap. Created by the engine; resolution is
// an external operator action.
type Alert struct {
	ID                    int64
	ProductGroupKey       string
	Channel               string
	Kind                  string
	Detail                string
	OwnPrice              decimal.Decimal
	MinCompetitorPrice    decimal.Decimal
	GapPct                decimal.Decimal
	EndpointOwn           string
	EndpointMinCompetitor string
	CreatedAt             time.Time
	Resolved              bool
}
