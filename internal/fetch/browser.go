package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BrowserOptions parameterise one selector-driven marketplace fetcher.
type BrowserOptions struct {
	Name          string
	PriceSelector string
	StockSelector string
	Currency      string
	UserAgent     string
	PageTimeout   time.Duration
}

// Browser fetches prices by rendering product pages in the shared session and
// reading configured CSS selectors.
type Browser struct {
	opts    BrowserOptions
	session *Session
	logger  zerolog.Logger
}

// NewBrowser constructs a browser fetcher for one marketplace channel.
func NewBrowser(session *Session, opts BrowserOptions, logger zerolog.Logger) *Browser {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}

	return &Browser{
		opts:    opts,
		session: session,
		logger:  logger.With().Str("component", "browser_fetcher").Str("channel", opts.Name).Logger(),
	}
}

func (b *Browser) Channel() string { return b.opts.Name }

// FetchPrice navigates the product page and extracts price and stock text.
func (b *Browser) FetchPrice(ctx context.Context, endpointRef string) (Quote, error) {
	if b.opts.PriceSelector == "" {
		return Quote{}, errors.New("price selector required")
	}
	ref := strings.TrimSpace(endpointRef)
	if !strings.HasPrefix(ref, "http") {
		return Quote{}, fmt.Errorf("endpoint %q is not a product page URL", endpointRef)
	}

	browser, err := b.session.Browser()
	if err != nil {
		return Quote{}, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return Quote{}, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(b.opts.PageTimeout)

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return Quote{}, fmt.Errorf("apply stealth script: %w", err)
	}
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			b.logger.Warn().Err(err).Msg("set user agent failed")
		}
	}

	if err := page.Navigate(ref); err != nil {
		return Quote{}, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		b.logger.Warn().Err(err).Str("url", ref).Msg("wait load failed, continuing")
	}

	priceEl, err := page.Element(b.opts.PriceSelector)
	if err != nil {
		return Quote{}, fmt.Errorf("find price element %q: %w", b.opts.PriceSelector, err)
	}
	priceText, err := priceEl.Text()
	if err != nil {
		return Quote{}, fmt.Errorf("read price element: %w", err)
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return Quote{}, err
	}

	var (
		stock     *int64
		stockText string
	)
	if b.opts.StockSelector != "" {
		// Stock is optional on most product pages; do not wait for it.
		if has, stockEl, hasErr := page.Has(b.opts.StockSelector); hasErr == nil && has {
			if text, textErr := stockEl.Text(); textErr == nil {
				stockText = text
				stock = ParseStock(text)
			}
		}
	}

	raw, _ := json.Marshal(pageCapture{URL: ref, PriceText: priceText, StockText: stockText})

	b.logger.Debug().
		Str("url", ref).
		Str("price", price.String()).
		Msg("page scraped")

	return Quote{
		Price:    price,
		Stock:    stock,
		Currency: b.opts.Currency,
		Raw:      raw,
	}, nil
}

type pageCapture struct {
	URL       string `json:"url"`
	PriceText string `json:"price_text"`
	StockText string `json:"stock_text,omitempty"`
}

// ParsePrice converts marketplace price text into a decimal amount. Chilean
// format uses '.' as thousands separator and ',' as decimal mark:
// "$1.234.990" is 1234990 and "$1.234,50" is 1234.50.
func ParsePrice(text string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '.' || r == ',':
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("no amount in price text %q", strings.TrimSpace(text))
	}

	switch strings.Count(cleaned, ",") {
	case 0:
		if parts := strings.Split(cleaned, "."); len(parts) > 1 && len(parts[len(parts)-1]) == 3 {
			cleaned = strings.Join(parts, "")
		}
	case 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price text %q: %w", strings.TrimSpace(text), err)
	}
	return price, nil
}

// ParseStock extracts a stock count from availability text. "Agotado" and
// "Sin stock" map to zero; text without digits carries no count.
func ParseStock(text string) *int64 {
	lower := strings.ToLower(text)

	digits := strings.Builder{}
	for _, r := range lower {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() > 0 {
		if n, err := strconv.ParseInt(digits.String(), 10, 64); err == nil {
			return &n
		}
	}

	if strings.Contains(lower, "agotado") || strings.Contains(lower, "sin stock") {
		zero := int64(0)
		return &zero
	}
	return nil
}

var _ ChannelFetcher = (*Browser)(nil)
