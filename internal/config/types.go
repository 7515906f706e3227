package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m"). Secrets may be overridden from the
// environment, see ApplyEnv.
type Config struct {
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Storage    StorageConfig     `json:"storage"`
	Cache      CacheConfig       `json:"cache"`
	Dispatcher *DispatcherConfig `json:"dispatcher,omitempty"`
	Cleanup    *CleanupConfig    `json:"cleanup,omitempty"`
	Appeals    AppealsConfig     `json:"appeals"`
	HTTP       HTTPConfig        `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout        string `json:"poll_timeout"`
	DropPendingUpdates bool   `json:"drop_pending_updates"`
	// OperatorChatID receives alert log lines and is treated as an admin.
	OperatorChatID int64  `json:"operator_chat_id,omitempty"`
	WebAppURL      string `json:"webapp_url,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the relational backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dsn": "./appealbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"` // sqlite (default) | postgres
	DSN          string `json:"dsn"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite only
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// CacheConfig backs session tokens.
type CacheConfig struct {
	Driver   string `json:"driver"` // memory (default) | redis
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TokenTTL string `json:"token_ttl,omitempty"` // default "1h"
}

// DispatcherConfig controls delivery of pending notifications.
// If the whole section is omitted the dispatcher runs with defaults.
type DispatcherConfig struct {
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval,omitempty"` // default "60s"
	SendTimeout  string `json:"send_timeout,omitempty"`  // default "10s"
	RatePerSec   int    `json:"rate_per_sec,omitempty"`  // default 20
}

// CleanupConfig controls the retention cleaner. Unset window components
// default to 7 days, 0 hours, 0 minutes; an explicit all-zero window is
// rejected by Validate.
type CleanupConfig struct {
	Enabled       bool   `json:"enabled"`
	Days          *int   `json:"days,omitempty"`
	Hours         *int   `json:"hours,omitempty"`
	Minutes       *int   `json:"minutes,omitempty"`
	IntervalHours *int   `json:"interval_hours,omitempty"`
	Schedule      string `json:"schedule,omitempty"` // optional cron spec, overrides interval_hours
}

type AppealsConfig struct {
	MinTextLen int    `json:"min_text_len,omitempty"` // default 10
	MaxTextLen int    `json:"max_text_len,omitempty"` // default 4000
	FilesDir   string `json:"files_dir,omitempty"`    // default "./files"
}

type HTTPConfig struct {
	Enabled     bool     `json:"enabled"`
	Addr        string   `json:"addr,omitempty"` // default "127.0.0.1:8080"
	CORSOrigins []string `json:"cors_origins,omitempty"`
	AdminToken  string   `json:"admin_token,omitempty"` // bearer token for /api/v1/tokens (do not log)
	// Pprof mounts /debug/pprof behind AdminToken.
	Pprof bool `json:"pprof,omitempty"`
}

// Defaults for optional knobs.
const (
	DefaultPollInterval   = "60s"
	DefaultSendTimeout    = "10s"
	DefaultRatePerSec     = 20
	DefaultRetentionDays  = 7
	DefaultIntervalHours  = 24
	DefaultTokenTTL       = "1h"
	DefaultMinTextLen     = 10
	DefaultMaxTextLen     = 4000
	DefaultFilesDir       = "./files"
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultStorageDriver  = "sqlite"
	DefaultCacheDriver    = "memory"
	DefaultTelegramPoll   = "10s"
	DefaultSQLiteFileName = "./appealbot.db"
)

// DispatcherOrDefault returns the dispatcher section, defaulting to enabled.
func (c *Config) DispatcherOrDefault() DispatcherConfig {
	if c == nil || c.Dispatcher == nil {
		return DispatcherConfig{Enabled: true}
	}
	return *c.Dispatcher
}

// CleanupOrDefault returns the cleanup section, defaulting to enabled.
func (c *Config) CleanupOrDefault() CleanupConfig {
	if c == nil || c.Cleanup == nil {
		return CleanupConfig{Enabled: true}
	}
	return *c.Cleanup
}

// Window returns the retention components with defaults applied.
func (c CleanupConfig) Window() (days, hours, minutes int) {
	days, hours, minutes = DefaultRetentionDays, 0, 0
	if c.Days != nil {
		days = *c.Days
	}
	if c.Hours != nil {
		hours = *c.Hours
	}
	if c.Minutes != nil {
		minutes = *c.Minutes
	}
	return days, hours, minutes
}

// Interval returns interval_hours with the default applied.
func (c CleanupConfig) Interval() int {
	if c.IntervalHours == nil {
		return DefaultIntervalHours
	}
	return *c.IntervalHours
}
