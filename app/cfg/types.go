package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath    string
	StateFile string

	// Provider
	Provider    string
	ProviderURL string
	ProviderKey string
	UserAgent   string

	// Client adapter
	Timeout        time.Duration
	MaxRetries     int
	RateLimitDelay time.Duration
	MaxBackoff     time.Duration
	NotReadyDelay  time.Duration
	MinInterval    time.Duration

	// Orchestrator
	PageSize       int
	MaxCount       int
	MaxFailedPages int
	MaxPages       int

	// Scheduler
	LatestInterval           time.Duration
	InitialLookback          time.Duration
	LatestCount              int
	DailyCheckInterval       time.Duration
	DailyHour                int
	CatchUpDays              int
	CategoryPause            time.Duration
	FetchBodies              bool
	MaintenanceCheckInterval time.Duration
	MaintenancePeriod        time.Duration
	RetentionDays            int
	HealthInterval           time.Duration
	StaleAfter               time.Duration
	ShutdownGrace            time.Duration
	JobTimeout               time.Duration

	// Ingest profile
	ProfilePath string
	Profile     *Profile

	// Application metadata
	Timezone  string
	Debug     bool
	LogFormat string
	Version   string
}
