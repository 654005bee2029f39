package app

import (
	"context"
	"errors"

	"price-gap-monitor/internal/watchlist"
)

// SyncWatchlist performs a one-shot import of the configured watchlist
// source into the database.
func (a *App) SyncWatchlist(ctx context.Context) error {
	source := a.newWatchlistSource(a.newSheetsClient())
	if source == nil {
		return errors.New("watchlist.source 未配置，无法同步监控清单")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := watchlist.Sync(ctx, source, store, a.Logger)
	a.Logger.Info().
		Int("loaded", report.Loaded).
		Int("upserted", report.Upserted).
		Msg("watchlist sync finished")
	return err
}
