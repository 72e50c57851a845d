package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"time"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

// Options are the global command line options. Every option can also be set
// through the environment or a .env file.
type Options struct {
	// Storage
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./data/wire-comb.db" description:"Path to the sqlite database file"`
	StateFile string `long:"state-file" env:"STATE_FILE" description:"Keep job watermarks in this bbolt file instead of the database (optional)"`

	// Provider
	Provider    string `long:"provider" env:"PROVIDER" default:"http" choice:"http" choice:"rss" description:"News provider backend"`
	ProviderURL string `long:"provider-url" env:"PROVIDER_URL" default:"http://localhost:9060" description:"Base URL of the headlines API"`
	ProviderKey string `long:"provider-key" env:"PROVIDER_API_KEY" description:"API key sent to the headlines API (optional)"`
	UserAgent   string `long:"user-agent" env:"USER_AGENT" default:"Wire Comb/1.0" description:"User agent string for HTTP requests"`

	// Client adapter
	Timeout        time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"Timeout of a single provider call"`
	MaxRetries     int           `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Retries after the first attempt of a provider call"`
	RateLimitDelay time.Duration `long:"rate-limit-delay" env:"RATE_LIMIT_DELAY" default:"1s" description:"Initial retry backoff, doubled per attempt"`
	MaxBackoff     time.Duration `long:"max-backoff" env:"MAX_BACKOFF" default:"30s" description:"Upper bound of the retry backoff"`
	NotReadyDelay  time.Duration `long:"not-ready-delay" env:"NOT_READY_DELAY" default:"15s" description:"Delay before retrying an unreachable provider"`
	MinInterval    time.Duration `long:"min-interval" env:"MIN_INTERVAL" default:"1s" description:"Minimum delay between two provider calls"`

	// Orchestrator
	PageSize       int `long:"page-size" env:"PAGE_SIZE" default:"50" description:"Records requested per page"`
	MaxCount       int `long:"max-count" env:"MAX_COUNT" default:"500" description:"Upper bound for the article count of a single fetch"`
	MaxFailedPages int `long:"max-failed-pages" env:"MAX_FAILED_PAGES" default:"3" description:"Failed pages tolerated before a backfill fails"`
	MaxPages       int `long:"max-pages" env:"MAX_PAGES" default:"1000" description:"Pages after which a run stops paginating"`

	// Scheduler
	LatestInterval           time.Duration `long:"latest-interval" env:"LATEST_INTERVAL" default:"5m" description:"Interval of the latest headlines job (0 disables it)"`
	InitialLookback          time.Duration `long:"initial-lookback" env:"INITIAL_LOOKBACK" default:"1h" description:"Window of the first latest run"`
	LatestCount              int           `long:"latest-count" env:"LATEST_COUNT" default:"50" description:"Article count of the latest job"`
	DailyCheckInterval       time.Duration `long:"daily-check-interval" env:"DAILY_CHECK_INTERVAL" default:"1h" description:"How often the daily backfill checks whether it is due (0 disables it)"`
	DailyHour                int           `long:"daily-hour" env:"DAILY_HOUR" default:"3" description:"UTC hour after which the previous day is backfilled"`
	CatchUpDays              int           `long:"catch-up-days" env:"CATCH_UP_DAYS" default:"7" description:"How many missed days the daily job catches up"`
	CategoryPause            time.Duration `long:"category-pause" env:"CATEGORY_PAUSE" default:"2s" description:"Pause between per-category backfills"`
	NoFetchBodies            bool          `long:"no-fetch-bodies" env:"NO_FETCH_BODIES" description:"Do not fetch story bodies during daily and manual backfills"`
	MaintenanceCheckInterval time.Duration `long:"maintenance-check-interval" env:"MAINTENANCE_CHECK_INTERVAL" default:"1h" description:"How often maintenance checks whether it is due (0 disables it)"`
	MaintenancePeriod        time.Duration `long:"maintenance-period" env:"MAINTENANCE_PERIOD" default:"24h" description:"Minimum time between two maintenance runs"`
	RetentionDays            int           `long:"retention-days" env:"RETENTION_DAYS" default:"365" description:"Days of articles and fetch runs to keep"`
	HealthInterval           time.Duration `long:"health-interval" env:"HEALTH_INTERVAL" default:"15m" description:"Interval of the health check job (0 disables it)"`
	StaleAfter               time.Duration `long:"stale-after" env:"STALE_AFTER" default:"2h" description:"Warn when no run completed for this long"`
	ShutdownGrace            time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"30s" description:"Time running jobs get to finish on shutdown"`
	JobTimeout               time.Duration `long:"job-timeout" env:"JOB_TIMEOUT" default:"2h" description:"Upper bound of a single job execution (0 for none)"`

	// Ingest profile
	Profile string `long:"profile" env:"INGEST_PROFILE" default:"./config/ingest.yml" description:"Ingest profile with categories, feeds and keyword rules"`

	// Application metadata
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`
}

// Load resolves parsed options into a validated configuration and loads the
// ingest profile.
func Load(opts *Options) (*Cfg, error) {
	cfg := &Cfg{
		DBPath:                   opts.DBPath,
		StateFile:                opts.StateFile,
		Provider:                 opts.Provider,
		ProviderURL:              opts.ProviderURL,
		ProviderKey:              opts.ProviderKey,
		UserAgent:                opts.UserAgent,
		Timeout:                  opts.Timeout,
		MaxRetries:               opts.MaxRetries,
		RateLimitDelay:           opts.RateLimitDelay,
		MaxBackoff:               opts.MaxBackoff,
		NotReadyDelay:            opts.NotReadyDelay,
		MinInterval:              opts.MinInterval,
		PageSize:                 opts.PageSize,
		MaxCount:                 opts.MaxCount,
		MaxFailedPages:           opts.MaxFailedPages,
		MaxPages:                 opts.MaxPages,
		LatestInterval:           opts.LatestInterval,
		InitialLookback:          opts.InitialLookback,
		LatestCount:              opts.LatestCount,
		DailyCheckInterval:       opts.DailyCheckInterval,
		DailyHour:                opts.DailyHour,
		CatchUpDays:              opts.CatchUpDays,
		CategoryPause:            opts.CategoryPause,
		FetchBodies:              !opts.NoFetchBodies,
		MaintenanceCheckInterval: opts.MaintenanceCheckInterval,
		MaintenancePeriod:        opts.MaintenancePeriod,
		RetentionDays:            opts.RetentionDays,
		HealthInterval:           opts.HealthInterval,
		StaleAfter:               opts.StaleAfter,
		ShutdownGrace:            opts.ShutdownGrace,
		JobTimeout:               opts.JobTimeout,
		ProfilePath:              opts.Profile,
		Timezone:                 opts.Timezone,
		Debug:                    opts.Debug,
		LogFormat:                opts.LogFormat,
		Version:                  GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	profile, err := LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingest profile: %w", err)
	}
	cfg.Profile = profile

	if cfg.Provider == "rss" && len(profile.Feeds) == 0 {
		return nil, fmt.Errorf("invalid configuration: rss provider needs feeds in the ingest profile")
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if cfg.Provider == "http" && cfg.ProviderURL == "" {
		return fmt.Errorf("provider url is required for the http provider")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if cfg.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if cfg.MaxCount <= 0 || cfg.LatestCount <= 0 {
		return fmt.Errorf("counts must be positive")
	}
	if cfg.MaxFailedPages < 0 {
		return fmt.Errorf("max failed pages must be non-negative")
	}
	if cfg.DailyHour < 0 || cfg.DailyHour > 23 {
		return fmt.Errorf("daily hour must be within 0..23, got %d", cfg.DailyHour)
	}
	if cfg.CatchUpDays < 1 {
		return fmt.Errorf("catch-up days must be at least 1")
	}
	if cfg.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"latest interval":            cfg.LatestInterval,
		"daily check interval":       cfg.DailyCheckInterval,
		"maintenance check interval": cfg.MaintenanceCheckInterval,
		"health interval":            cfg.HealthInterval,
		"shutdown grace":             cfg.ShutdownGrace,
		"job timeout":                cfg.JobTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			slog.Debug("Timezone configured", "timezone", timezone)
		}
	}
	return nil
}
