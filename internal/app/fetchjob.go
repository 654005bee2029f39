package app

import (
	"context"
	"errors"
	"time"

	"price-gap-monitor/internal/engine"
)

// FetchOnce captures prices for every entity due right now, then exits. The
// mode narrows the due set to own listings, competitor listings, or the
// legacy both behaviour.
func (a *App) FetchOnce(ctx context.Context, opts FetchOptions) error {
	mode, err := engine.ParseMode(opts.Mode)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := a.newEngine(store)
	now := time.Now().UTC()

	due, err := eng.SelectDueByMode(ctx, now, mode)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		a.Logger.Info().Str("mode", string(mode)).Msg("没有到期的监控项")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("dry-run：只列出到期项，不抓取也不写入")
		for _, entity := range due {
			a.Logger.Info().
				Str("group", entity.ProductGroupKey).
				Str("channel", entity.Channel).
				Str("role", string(entity.Role)).
				Str("endpoint", entity.EndpointRef).
				Msg("到期")
		}
		return nil
	}

	session := a.newSession()
	defer session.Stop()

	report, fetchErr := a.newRunner(store, session).Fetch(ctx, due, now)
	a.Logger.Info().
		Str("run_id", report.RunID).
		Str("mode", string(mode)).
		Int("due", len(due)).
		Int("stored", report.Stored).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("抓取完成")

	if fetchErr != nil {
		return errors.New("部分监控项抓取失败，请检查日志")
	}
	return nil
}
