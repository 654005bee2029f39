package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/alerting"
	"price-gap-monitor/internal/config"
	"price-gap-monitor/internal/engine"
	"price-gap-monitor/internal/fetch"
	"price-gap-monitor/internal/scheduler"
	"price-gap-monitor/internal/service"
	"price-gap-monitor/internal/sheets"
	"price-gap-monitor/internal/storage"
	"price-gap-monitor/internal/storage/migrations"
	"price-gap-monitor/internal/watchlist"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if a.Config.Database.AutoMigrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSession() *fetch.Session {
	return fetch.NewSession(fetch.SessionOptions{
		BinPath:   a.Config.Fetch.Browser.Bin,
		Headless:  a.Config.Fetch.Browser.Headless,
		NoSandbox: a.Config.Fetch.Browser.NoSandbox,
	}, a.Logger)
}

func (a *App) newFetchers(session *fetch.Session) []fetch.ChannelFetcher {
	fetchers := make([]fetch.ChannelFetcher, 0, len(a.Config.Channels))
	for _, ch := range a.Config.Channels {
		switch ch.Fetcher {
		case "api":
			fetchers = append(fetchers, fetch.NewAPI(fetch.APIOptions{
				Name:      ch.Name,
				BaseURL:   ch.BaseURL,
				APIKey:    ch.APIKey,
				Currency:  ch.Currency,
				Timeout:   a.Config.Fetch.RequestTimeout,
				UserAgent: a.Config.Fetch.UserAgent,
			}, a.Logger))
		case "browser":
			fetchers = append(fetchers, fetch.NewBrowser(session, fetch.BrowserOptions{
				Name:          ch.Name,
				PriceSelector: ch.PriceSelector,
				StockSelector: ch.StockSelector,
				Currency:      ch.Currency,
				UserAgent:     a.Config.Fetch.UserAgent,
				PageTimeout:   a.Config.Fetch.Browser.NavTimeout,
			}, a.Logger))
		default:
			a.Logger.Warn().Str("channel", ch.Name).Str("fetcher", ch.Fetcher).Msg("unknown fetcher kind; channel skipped")
		}
	}
	return fetchers
}

func (a *App) newRunner(store *storage.Store, session *fetch.Session) *fetch.Runner {
	return fetch.NewRunner(a.newFetchers(session), store, fetch.RunnerOptions{
		PerChannelWorkers: a.Config.Fetch.PerChannelWorkers,
		RatePerSecond:     a.Config.Fetch.RatePerSecond,
		RateBurst:         a.Config.Fetch.RateBurst,
		DefaultCurrency:   a.Config.Fetch.DefaultCurrency,
	}, a.Logger)
}

func (a *App) newEngine(store *storage.Store) *engine.Engine {
	return engine.New(store, store, store, engine.Options{
		DedupWindow:         a.Config.Engine.DedupWindow,
		DefaultGapThreshold: decimal.NewFromFloat(a.Config.Engine.DefaultGapThreshold),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers []alerting.Notifier
	for _, channel := range a.Config.Alerting.Channels {
		switch channel {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel selected but not enabled")
				continue
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
		case "email":
			cfg := a.Config.Alerting.Email
			if !cfg.Enabled {
				a.Logger.Warn().Msg("email channel selected but not enabled")
				continue
			}
			notifiers = append(notifiers, alerting.NewEmailNotifier(alerting.EmailOptions{
				Host:     cfg.Host,
				Port:     cfg.Port,
				Username: cfg.Username,
				Password: cfg.Password,
				From:     cfg.From,
				To:       cfg.To,
			}, a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alerting channel ignored")
		}
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return alerting.NewMulti(notifiers...)
	}
}

func (a *App) newSheetsClient() *sheets.Client {
	return sheets.NewClient(sheets.Options{
		CredentialsFile: a.Config.Sheets.CredentialsFile,
		BaseURL:         a.Config.Sheets.BaseURL,
		Timeout:         a.Config.Sheets.RequestTimeout,
		UserAgent:       a.Config.Fetch.UserAgent,
	}, a.Logger)
}

// newWatchlistSource returns nil when no import source is configured.
func (a *App) newWatchlistSource(client *sheets.Client) watchlist.Source {
	switch a.Config.Watchlist.Source {
	case "csv":
		return watchlist.NewCSVSource(a.Config.Watchlist.CSVPath, a.Logger)
	case "sheet":
		return watchlist.NewSheetSource(client, a.Config.Sheets.SpreadsheetID, a.Config.Sheets.WatchlistTab, a.Logger)
	default:
		return nil
	}
}

func (a *App) newExporter(client *sheets.Client) *sheets.Exporter {
	if !a.Config.Sheets.ExportEnabled {
		return nil
	}
	return sheets.NewExporter(client, sheets.ExporterOptions{
		SpreadsheetID: a.Config.Sheets.SpreadsheetID,
		OpenAlertsTab: a.Config.Sheets.OpenAlertsTab,
		HistoryTab:    a.Config.Sheets.HistoryTab,
	}, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	session := a.newSession()
	defer session.Stop()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	client := a.newSheetsClient()
	svc := service.New(a.Config, sched, a.newRunner(store, session), a.newEngine(store),
		a.newWatchlistSource(client), a.newExporter(client), store, store, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	ProductGroupKey string
	Channel         string
	From            *time.Time
	To              *time.Time
	PNGPath         string
	CSVPath         string
	MaxPoints       int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// FetchOptions configure the one-shot fetch job.
type FetchOptions struct {
	Mode   string
	DryRun bool
}

// SimulateOptions feed the alert simulation.
type SimulateOptions struct {
	ProductGroupKey string
	Channel         string
	OwnPrice        string
	CompetitorPrice string
}

// ResolveOptions identify the alert an operator closes.
type ResolveOptions struct {
	AlertID int64
}
