// Package sheets talks to the Google Sheets v4 values API with
// service-account auth. It covers only the value operations the watch-list
// import and the alert export need: read a tab, overwrite a range, append
// rows, clear a range.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"price-gap-monitor/internal/watchlist"
)

const (
	scopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"

	// USER_ENTERED makes the sheet coerce cells the way a typed value would
	// be, so numbers stay numbers.
	valueInputOption = "USER_ENTERED"
)

// Options parameterise the values client.
type Options struct {
	CredentialsFile string
	BaseURL         string
	Timeout         time.Duration
	UserAgent       string
}

// Client wraps the spreadsheets.values endpoints.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	baseURL string

	clientMux sync.Mutex
	client    *http.Client
}

// NewClient builds a values client. The authenticated HTTP client is created
// lazily, so a missing credentials file only fails commands that actually
// touch the spreadsheet.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://sheets.googleapis.com/v4"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "sheets_client").Logger(),
		baseURL: baseURL,
	}
}

// Values reads a whole range as rows of display strings.
func (c *Client) Values(ctx context.Context, spreadsheetID, readRange string) ([][]string, error) {
	var res valueRange
	if err := c.do(ctx, http.MethodGet, c.valuesURL(spreadsheetID, readRange, ""), nil, &res); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(res.Values))
	for _, raw := range res.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, cellString(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Update overwrites a range with the given rows.
func (c *Client) Update(ctx context.Context, spreadsheetID, writeRange string, rows [][]string) error {
	body := valueRangePayload{Range: writeRange, MajorDimension: "ROWS", Values: rows}
	endpoint := c.valuesURL(spreadsheetID, writeRange, "") + "?valueInputOption=" + valueInputOption
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

// Append adds rows after the last non-empty row of the range.
func (c *Client) Append(ctx context.Context, spreadsheetID, appendRange string, rows [][]string) error {
	body := valueRangePayload{Values: rows}
	endpoint := c.valuesURL(spreadsheetID, appendRange, ":append") +
		"?valueInputOption=" + valueInputOption + "&insertDataOption=INSERT_ROWS"
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Clear empties a range without touching formatting.
func (c *Client) Clear(ctx context.Context, spreadsheetID, clearRange string) error {
	return c.do(ctx, http.MethodPost, c.valuesURL(spreadsheetID, clearRange, ":clear"), struct{}{}, nil)
}

func (c *Client) valuesURL(spreadsheetID, valuesRange, verb string) string {
	return c.baseURL + "/spreadsheets/" + url.PathEscape(spreadsheetID) +
		"/values/" + url.PathEscape(valuesRange) + verb
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "gapwatch/1.0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	return decoder.Decode(out)
}

func (c *Client) getClient() (*http.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.CredentialsFile == "" {
		return nil, errors.New("sheets credentials file not configured")
	}

	raw, err := os.ReadFile(c.opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(raw, scopeSpreadsheets)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// Token refreshes outlive any single request context.
	httpClient := oauth2.NewClient(context.Background(), conf.TokenSource(context.Background()))
	httpClient.Timeout = timeout
	c.client = httpClient
	return c.client, nil
}

type valueRange struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type valueRangePayload struct {
	Range          string     `json:"range,omitempty"`
	MajorDimension string     `json:"majorDimension,omitempty"`
	Values         [][]string `json:"values"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// cellString renders one API cell the way the sheet displays it.
func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr googleErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("sheets api error (%d): %s", status, apiErr.Error.Message)
		}
		if apiErr.Error.Status != "" {
			return fmt.Errorf("sheets api error (%d): %s", status, apiErr.Error.Status)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("sheets api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("sheets api error (%d)", status)
}

var _ watchlist.ValuesReader = (*Client)(nil)
