package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-gap-monitor/internal/storage"
)

// alertHeader is the first row of both alert tabs.
var alertHeader = []string{
	"timestamp", "product_group_key", "channel", "kind", "own_price",
	"min_competitor_price", "gap_pct", "detail", "endpoint_own",
	"endpoint_min_competitor", "resolved",
}

// ExporterOptions parameterise the spreadsheet alert mirror.
type ExporterOptions struct {
	SpreadsheetID string
	OpenAlertsTab string
	HistoryTab    string
}

// Exporter mirrors alert state into the operator spreadsheet. The open-alerts
// tab is rewritten wholesale on every export; the history tab only grows.
type Exporter struct {
	client *Client
	opts   ExporterOptions
	logger zerolog.Logger
}

// NewExporter builds an alert exporter on top of a values client.
func NewExporter(client *Client, opts ExporterOptions, logger zerolog.Logger) *Exporter {
	if opts.OpenAlertsTab == "" {
		opts.OpenAlertsTab = "ALERTAS_ABIERTAS"
	}
	if opts.HistoryTab == "" {
		opts.HistoryTab = "ALERTAS_HISTORIAL"
	}

	return &Exporter{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "sheets_exporter").Logger(),
	}
}

// ExportOpen replaces the open-alerts tab with the given alerts.
func (e *Exporter) ExportOpen(ctx context.Context, alerts []storage.Alert) error {
	if e.opts.SpreadsheetID == "" {
		return errors.New("sheets spreadsheet id not configured")
	}

	rows := make([][]string, 0, len(alerts)+1)
	rows = append(rows, alertHeader)
	for _, alert := range alerts {
		rows = append(rows, alertRow(alert))
	}

	if err := e.client.Clear(ctx, e.opts.SpreadsheetID, e.opts.OpenAlertsTab); err != nil {
		return fmt.Errorf("clear open alerts tab: %w", err)
	}
	if err := e.client.Update(ctx, e.opts.SpreadsheetID, e.opts.OpenAlertsTab, rows); err != nil {
		return fmt.Errorf("write open alerts tab: %w", err)
	}

	e.logger.Debug().Int("alerts", len(alerts)).Str("tab", e.opts.OpenAlertsTab).Msg("open alerts exported")
	return nil
}

// AppendHistory appends alerts to the history tab, writing the header row
// first when the tab is still empty.
func (e *Exporter) AppendHistory(ctx context.Context, alerts []storage.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if e.opts.SpreadsheetID == "" {
		return errors.New("sheets spreadsheet id not configured")
	}

	existing, err := e.client.Values(ctx, e.opts.SpreadsheetID, e.opts.HistoryTab)
	if err != nil {
		return fmt.Errorf("read history tab: %w", err)
	}

	rows := make([][]string, 0, len(alerts)+1)
	if len(existing) == 0 {
		rows = append(rows, alertHeader)
	}
	for _, alert := range alerts {
		rows = append(rows, alertRow(alert))
	}

	if err := e.client.Append(ctx, e.opts.SpreadsheetID, e.opts.HistoryTab, rows); err != nil {
		return fmt.Errorf("append history tab: %w", err)
	}

	e.logger.Debug().Int("alerts", len(alerts)).Str("tab", e.opts.HistoryTab).Msg("alert history appended")
	return nil
}

func alertRow(alert storage.Alert) []string {
	resolved := "FALSE"
	if alert.Resolved {
		resolved = "TRUE"
	}
	return []string{
		alert.CreatedAt.UTC().Format(time.RFC3339),
		alert.ProductGroupKey,
		alert.Channel,
		alert.Kind,
		alert.OwnPrice.StringFixed(2),
		alert.MinCompetitorPrice.StringFixed(2),
		alert.GapPct.StringFixed(4),
		alert.Detail,
		alert.EndpointOwn,
		alert.EndpointMinCompetitor,
		resolved,
	}
}
