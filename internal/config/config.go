package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-gap-monitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Channels  []ChannelConfig `mapstructure:"channels"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EngineConfig tunes the gap-alert engine.
type EngineConfig struct {
	DedupWindow         time.Duration `mapstructure:"dedup_window"`
	DefaultGapThreshold float64       `mapstructure:"default_gap_threshold"`
}

// WatchlistConfig selects where watch entities are imported from.
type WatchlistConfig struct {
	Source        string `mapstructure:"source"`
	CSVPath       string `mapstructure:"csv_path"`
	SyncEachCycle bool   `mapstructure:"sync_each_cycle"`
}

// SheetsConfig covers Google Sheets access for watchlist import and alert export.
type SheetsConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	BaseURL         string        `mapstructure:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SpreadsheetID   string        `mapstructure:"spreadsheet_id"`
	WatchlistTab    string        `mapstructure:"watchlist_tab"`
	OpenAlertsTab   string        `mapstructure:"open_alerts_tab"`
	HistoryTab      string        `mapstructure:"history_tab"`
	ExportEnabled   bool          `mapstructure:"export_enabled"`
}

// FetchConfig governs the price fetch workers.
type FetchConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	RateBurst         int           `mapstructure:"rate_burst"`
	PerChannelWorkers int           `mapstructure:"per_channel_workers"`
	Browser           BrowserConfig `mapstructure:"browser"`
	DefaultCurrency   string        `mapstructure:"default_currency"`
}

// BrowserConfig 描述共享浏览器会话参数。
type BrowserConfig struct {
	Headless   bool          `mapstructure:"headless"`
	NoSandbox  bool          `mapstructure:"no_sandbox"`
	Bin        string        `mapstructure:"bin"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// ChannelConfig declares one sales channel and how prices are fetched from it.
type ChannelConfig struct {
	Name          string `mapstructure:"name"`
	Fetcher       string `mapstructure:"fetcher"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	PriceSelector string `mapstructure:"price_selector"`
	StockSelector string `mapstructure:"stock_selector"`
	Currency      string `mapstructure:"currency"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig 描述 SMTP 告警参数。
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gapwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x67617077))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("engine.dedup_window", "24h")
	v.SetDefault("engine.default_gap_threshold", 0.10)

	v.SetDefault("watchlist.source", "none")
	v.SetDefault("watchlist.sync_each_cycle", true)

	v.SetDefault("sheets.base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("sheets.request_timeout", "15s")
	v.SetDefault("sheets.watchlist_tab", "WATCHLIST")
	v.SetDefault("sheets.open_alerts_tab", "ALERTAS_ABIERTAS")
	v.SetDefault("sheets.history_tab", "ALERTAS_HISTORIAL")
	v.SetDefault("sheets.export_enabled", false)

	v.SetDefault("fetch.user_agent", "gapwatch/1.0")
	v.SetDefault("fetch.request_timeout", "20s")
	v.SetDefault("fetch.rate_per_second", 1.0)
	v.SetDefault("fetch.rate_burst", 1)
	v.SetDefault("fetch.per_channel_workers", 2)
	v.SetDefault("fetch.default_currency", "CLP")
	v.SetDefault("fetch.browser.headless", true)
	v.SetDefault("fetch.browser.no_sandbox", false)
	v.SetDefault("fetch.browser.nav_timeout", "45s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Engine.DedupWindow <= 0 {
		return fmt.Errorf("engine.dedup_window must be greater than zero")
	}
	if c.Engine.DefaultGapThreshold < 0 {
		return fmt.Errorf("engine.default_gap_threshold cannot be negative")
	}
	if c.Fetch.RatePerSecond <= 0 {
		return fmt.Errorf("fetch.rate_per_second must be greater than zero")
	}
	if c.Fetch.PerChannelWorkers <= 0 {
		return fmt.Errorf("fetch.per_channel_workers must be greater than zero")
	}

	switch c.Watchlist.Source {
	case "", "none":
	case "csv":
		if c.Watchlist.CSVPath == "" {
			return fmt.Errorf("watchlist.csv_path is required when watchlist.source is csv")
		}
	case "sheet":
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets.spreadsheet_id is required when watchlist.source is sheet")
		}
		if c.Sheets.CredentialsFile == "" {
			return fmt.Errorf("sheets.credentials_file is required when watchlist.source is sheet")
		}
	default:
		return fmt.Errorf("watchlist.source must be one of none, csv, sheet")
	}

	if c.Sheets.ExportEnabled {
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets.spreadsheet_id is required when sheets.export_enabled is set")
		}
		if c.Sheets.CredentialsFile == "" {
			return fmt.Errorf("sheets.credentials_file is required when sheets.export_enabled is set")
		}
	}

	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d].name is required", i)
		}
		switch ch.Fetcher {
		case "api":
			if ch.BaseURL == "" {
				return fmt.Errorf("channels[%d].base_url is required for api fetcher", i)
			}
		case "browser":
			if ch.PriceSelector == "" {
				return fmt.Errorf("channels[%d].price_selector is required for browser fetcher", i)
			}
		default:
			return fmt.Errorf("channels[%d].fetcher must be api or browser", i)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" {
			return fmt.Errorf("alerting.email.host 必须配置")
		}
		if c.Alerting.Email.From == "" || len(c.Alerting.Email.To) == 0 {
			return fmt.Errorf("alerting.email.from 与 to 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
