package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-gap-monitor/internal/alerting"
	"price-gap-monitor/internal/config"
	"price-gap-monitor/internal/engine"
	"price-gap-monitor/internal/fetch"
	"price-gap-monitor/internal/scheduler"
	"price-gap-monitor/internal/sheets"
	"price-gap-monitor/internal/storage"
	"price-gap-monitor/internal/watchlist"
)

// Service orchestrates one watch cycle: watch-list refresh, price capture,
// gap evaluation, notification and spreadsheet export.
type Service struct {
	scheduler *scheduler.Scheduler
	runner    *fetch.Runner
	engine    *engine.Engine
	source    watchlist.Source
	exporter  *sheets.Exporter
	watches   storage.WatchEntityStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	syncEachCycle bool
	alertsOn      bool
	locker        storage.AdvisoryLocker
	lockKey       int64
}

// New constructs the monitoring service. The watch-list source and the
// spreadsheet exporter are optional; nil disables the respective step.
func New(cfg *config.Config, sched *scheduler.Scheduler, runner *fetch.Runner, eng *engine.Engine, source watchlist.Source, exporter *sheets.Exporter, watches storage.WatchEntityStore, alerts storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := watches.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:     sched,
		runner:        runner,
		engine:        eng,
		source:        source,
		exporter:      exporter,
		watches:       watches,
		alerts:        alerts,
		notifier:      notifier,
		logger:        logger.With().Str("component", "service").Logger(),
		syncEachCycle: cfg.Watchlist.SyncEachCycle,
		alertsOn:      cfg.Alerting.Enabled,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的完整巡检逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	// A stale watch list is not worth losing the cycle over; the stored
	// entities keep the capture going.
	if s.source != nil && s.syncEachCycle {
		if report, err := watchlist.Sync(ctx, s.source, s.watches, s.logger); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("watchlist refresh failed")
		} else {
			s.logger.Debug().Int("loaded", report.Loaded).Int("upserted", report.Upserted).Msg("watchlist refreshed")
		}
	}

	due, err := s.engine.SelectDueEntities(ctx, bucket)
	if err != nil {
		return fmt.Errorf("select due entities: %w", err)
	}

	if len(due) > 0 {
		report, fetchErr := s.runner.Fetch(ctx, due, bucket)
		if fetchErr != nil {
			// Failed entities stored nothing, stay due and retry next cycle.
			s.logger.Error().Err(fetchErr).Time("bucket", bucket).Msg("price capture finished with failures")
		}
		s.logger.Info().Time("bucket", bucket).
			Str("run_id", report.RunID).
			Int("due", len(due)).
			Int("stored", report.Stored).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("price capture finished")
	} else {
		s.logger.Debug().Time("bucket", bucket).Msg("no entities due this cycle")
	}

	var created []engine.CreatedAlert
	if s.alertsOn {
		var alertErr error
		created, alertErr = s.engine.RunAlertCycle(ctx)
		if alertErr != nil {
			s.logger.Error().Err(alertErr).Time("bucket", bucket).Msg("alert cycle finished with failures")
		}
		s.dispatch(ctx, created)
	}

	s.export(ctx, bucket, created)
	return nil
}

// dispatch fans created alerts out to the configured channels. Delivery
// failures are logged, never fatal to the cycle.
func (s *Service) dispatch(ctx context.Context, created []engine.CreatedAlert) {
	if s.notifier == nil {
		return
	}
	for _, c := range created {
		note := alerting.Notification{Alert: c.Alert, ThresholdPct: c.Threshold}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Int64("alert_id", c.ID).Msg("failed to dispatch alert")
		}
	}
}

// export mirrors alert state to the spreadsheet. Export failures are logged,
// never fatal to the cycle.
func (s *Service) export(ctx context.Context, bucket time.Time, created []engine.CreatedAlert) {
	if s.exporter == nil {
		return
	}

	open, err := s.alerts.ListOpenAlerts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to list open alerts for export")
		return
	}
	if err := s.exporter.ExportOpen(ctx, open); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to export open alerts")
	}

	if len(created) > 0 {
		rows := make([]storage.Alert, 0, len(created))
		for _, c := range created {
			rows = append(rows, c.Alert)
		}
		if err := s.exporter.AppendHistory(ctx, rows); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to append alert history")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
