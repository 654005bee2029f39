package fetch

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Quote is one price captured from a sales channel.
type Quote struct {
	Price    decimal.Decimal
	Stock    *int64
	Currency string
	Raw      json.RawMessage
}

// ChannelFetcher retrieves the current price behind one endpoint reference.
// The reference format is channel specific: a listing id for API channels, a
// product page URL for browser channels.
type ChannelFetcher interface {
	Channel() string
	FetchPrice(ctx context.Context, endpointRef string) (Quote, error)
}
