package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const listingPath = "/listings/"

// APIOptions parameterise a first-party JSON API fetcher.
type APIOptions struct {
	Name      string
	BaseURL   string
	APIKey    string
	Currency  string
	Timeout   time.Duration
	UserAgent string
}

// API fetches prices from a shop's listing API.
type API struct {
	opts    APIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAPI constructs an API fetcher for one channel.
func NewAPI(opts APIOptions, logger zerolog.Logger) *API {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &API{
		opts:    opts,
		logger:  logger.With().Str("component", "api_fetcher").Str("channel", opts.Name).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

func (a *API) Channel() string { return a.opts.Name }

// FetchPrice retrieves one listing and returns its price and stock.
func (a *API) FetchPrice(ctx context.Context, endpointRef string) (Quote, error) {
	if a.baseURL == "" {
		return Quote{}, errors.New("base url required")
	}
	ref := strings.TrimSpace(endpointRef)
	if ref == "" {
		return Quote{}, errors.New("listing reference required")
	}

	endpoint := a.baseURL + listingPath + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "gapwatch/1.0")
	}
	if a.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", a.opts.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError(a.opts.Name, resp.StatusCode, payload)
	}

	var listing listingResponse
	if err := json.Unmarshal(payload, &listing); err != nil {
		return Quote{}, err
	}

	if listing.Price == "" {
		return Quote{}, errors.New("listing has no price")
	}
	price, err := decimal.NewFromString(listing.Price.String())
	if err != nil {
		return Quote{}, fmt.Errorf("parse price: %w", err)
	}
	if price.IsNegative() {
		return Quote{}, fmt.Errorf("negative price %s", price)
	}

	currency := strings.ToUpper(strings.TrimSpace(listing.Currency))
	if currency == "" {
		currency = a.opts.Currency
	}

	a.logger.Debug().
		Str("listing", ref).
		Str("price", price.String()).
		Msg("listing fetched")

	return Quote{
		Price:    price,
		Stock:    listing.Stock,
		Currency: currency,
		Raw:      json.RawMessage(payload),
	}, nil
}

type listingResponse struct {
	SKU      string      `json:"sku"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Stock    *int64      `json:"stock"`
	Currency string      `json:"currency"`
}

type apiErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(channel string, status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", channel, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", channel, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", channel, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", channel, status)
}

var _ ChannelFetcher = (*API)(nil)
