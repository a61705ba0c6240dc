package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"pricewatch/internal/parser"
)

// Fetch modes.
const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	BadgerDBPath string `mapstructure:"BADGERDB_PATH"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`

	// Scheduling
	CheckInterval time.Duration `mapstructure:"CHECK_INTERVAL"`
	RunOnStart    bool          `mapstructure:"RUN_ON_START"`

	// Scraping
	ScrapeWorkers  int           `mapstructure:"SCRAPE_WORKERS"`
	ScrapeTimeout  time.Duration `mapstructure:"SCRAPE_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	FetchRetries   int           `mapstructure:"FETCH_RETRIES"`
	RetryBackoff   time.Duration `mapstructure:"RETRY_BACKOFF"`
	BlockedBackoff time.Duration `mapstructure:"BLOCKED_BACKOFF"`
	HostInterval   time.Duration `mapstructure:"HOST_INTERVAL"`
	FetchMode      string        `mapstructure:"FETCH_MODE"`
	UserAgents     []string      `mapstructure:"USER_AGENTS"`
	// Sites overrides or extends the built-in selector table. YAML only.
	Sites map[string]parser.SiteRules `mapstructure:"SITES"`

	// Alerts
	MinDropPct     float64       `mapstructure:"MIN_DROP_PCT"`
	RiseAlertPct   float64       `mapstructure:"RISE_ALERT_PCT"`
	CurrencySymbol string        `mapstructure:"CURRENCY_SYMBOL"`
	HistoryWindow  time.Duration `mapstructure:"HISTORY_WINDOW"`

	// Email
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// Surfaces. Empty values disable them.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	HTTPAddr         string `mapstructure:"HTTP_ADDR"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BADGERDB_PATH", "./badger_data")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CHECK_INTERVAL", 6*time.Hour)
	v.SetDefault("RUN_ON_START", true)
	v.SetDefault("SCRAPE_WORKERS", 8)
	v.SetDefault("SCRAPE_TIMEOUT", 60*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 20*time.Second)
	v.SetDefault("FETCH_RETRIES", 3)
	v.SetDefault("RETRY_BACKOFF", time.Second)
	v.SetDefault("BLOCKED_BACKOFF", 2*time.Second)
	v.SetDefault("HOST_INTERVAL", time.Second)
	v.SetDefault("FETCH_MODE", FetchModeHTTP)
	v.SetDefault("USER_AGENTS", []string{})
	v.SetDefault("MIN_DROP_PCT", 1.0)
	v.SetDefault("RISE_ALERT_PCT", 5.0)
	v.SetDefault("CURRENCY_SYMBOL", "₹")
	v.SetDefault("HISTORY_WINDOW", 14*24*time.Hour)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("HTTP_ADDR", ":8080")
}

// LoadConfig reads configuration from a .env file, config.yaml under path
// and environment variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	// A missing .env file is fine; variables may come from the environment.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// User agents contain commas, so list values from the environment are
	// separated by "|".
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc("|"),
	))
	var cfg Config
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.UserAgents = compact(cfg.UserAgents)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.BadgerDBPath == "" {
		errs = append(errs, errors.New("BADGERDB_PATH must not be empty"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	positive := map[string]time.Duration{
		"CHECK_INTERVAL":  c.CheckInterval,
		"SCRAPE_TIMEOUT":  c.ScrapeTimeout,
		"REQUEST_TIMEOUT": c.RequestTimeout,
		"HISTORY_WINDOW":  c.HistoryWindow,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	nonNegative := map[string]time.Duration{
		"RETRY_BACKOFF":   c.RetryBackoff,
		"BLOCKED_BACKOFF": c.BlockedBackoff,
		"HOST_INTERVAL":   c.HostInterval,
	}
	for name, d := range nonNegative {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.ScrapeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("SCRAPE_WORKERS must be positive, got %d", c.ScrapeWorkers))
	}
	if c.FetchRetries <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_RETRIES must be positive, got %d", c.FetchRetries))
	}
	if c.FetchMode != FetchModeHTTP && c.FetchMode != FetchModeBrowser {
		errs = append(errs, fmt.Errorf("FETCH_MODE must be %q or %q, got %q", FetchModeHTTP, FetchModeBrowser, c.FetchMode))
	}
	if c.MinDropPct < 0 || c.RiseAlertPct < 0 {
		errs = append(errs, errors.New("MIN_DROP_PCT and RISE_ALERT_PCT must not be negative"))
	}
	if c.SMTPHost != "" && (c.SMTPPort <= 0 || c.SMTPPort > 65535) {
		errs = append(errs, fmt.Errorf("SMTP_PORT out of range: %d", c.SMTPPort))
	}
	return errors.Join(errs...)
}

// SMTPEnabled reports whether outbound email is configured.
func (c Config) SMTPEnabled() bool { return c.SMTPHost != "" }

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
