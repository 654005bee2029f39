package app

import (
	"context"

	"price-gap-monitor/internal/alerting"
	"price-gap-monitor/internal/storage"
)

// AlertsOnce runs a single alert cycle over already-stored observations,
// dispatches notifications and mirrors the spreadsheet, then exits.
func (a *App) AlertsOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	created, cycleErr := a.newEngine(store).RunAlertCycle(ctx)
	a.Logger.Info().Int("created", len(created)).Msg("alert cycle finished")

	if notifier := a.newNotifier(); notifier != nil {
		for _, c := range created {
			note := alerting.Notification{Alert: c.Alert, ThresholdPct: c.Threshold}
			if err := notifier.Notify(ctx, note); err != nil {
				a.Logger.Error().Err(err).Int64("alert_id", c.ID).Msg("failed to dispatch alert")
			}
		}
	}

	if exporter := a.newExporter(a.newSheetsClient()); exporter != nil {
		open, err := store.ListOpenAlerts(ctx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("failed to list open alerts for export")
		} else {
			if err := exporter.ExportOpen(ctx, open); err != nil {
				a.Logger.Error().Err(err).Msg("failed to export open alerts")
			}
			rows := make([]storage.Alert, 0, len(created))
			for _, c := range created {
				rows = append(rows, c.Alert)
			}
			if err := exporter.AppendHistory(ctx, rows); err != nil {
				a.Logger.Error().Err(err).Msg("failed to append alert history")
			}
		}
	}

	return cycleErr
}
