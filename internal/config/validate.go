package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrRetentionWindow means every retention component is zero, so the
	// cleaner would have nothing to keep.
	ErrRetentionWindow = errors.New("cleanup: at least one of days, hours, minutes must be > 0")
	ErrMissingToken    = errors.New("telegram.token is required")
)

// Validate checks values that must be rejected before anything starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Driver)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.Addr) == "" {
			errs = append(errs, errors.New("cache.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", cfg.Cache.Driver))
	}
	if _, err := ParseDurationField("cache.token_ttl", cfg.Cache.TokenTTL); err != nil {
		errs = append(errs, err)
	}

	d := cfg.DispatcherOrDefault()
	if err := validateDispatcherTiming(d); err != nil {
		errs = append(errs, err)
	}
	if d.RatePerSec < 0 {
		errs = append(errs, errors.New("dispatcher.rate_per_sec must be >= 0"))
	}

	if err := ValidateCleanup(cfg.CleanupOrDefault()); err != nil {
		errs = append(errs, err)
	}

	a := cfg.Appeals
	if a.MinTextLen < 0 || a.MaxTextLen < 0 {
		errs = append(errs, errors.New("appeals: text length bounds must be >= 0"))
	}
	if a.MaxTextLen > 0 && a.MinTextLen > a.MaxTextLen {
		errs = append(errs, errors.New("appeals.min_text_len must not exceed max_text_len"))
	}

	return errors.Join(errs...)
}

// ValidateCleanup checks the retention window and schedule. It runs even
// when the cleaner is disabled so a bad value is caught before it is
// switched on by a reload.
func ValidateCleanup(c CleanupConfig) error {
	days, hours, minutes := c.Window()
	if days < 0 || hours < 0 || minutes < 0 {
		return errors.New("cleanup: days, hours, minutes must be >= 0")
	}
	if days == 0 && hours == 0 && minutes == 0 {
		return ErrRetentionWindow
	}
	if c.Interval() <= 0 && strings.TrimSpace(c.Schedule) == "" {
		return errors.New("cleanup.interval_hours must be > 0")
	}
	if s := strings.TrimSpace(c.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("cleanup.schedule: %w", err)
		}
	}
	return nil
}

// MinPollInterval keeps a misconfigured dispatcher from hammering the
// database between wakes.
const MinPollInterval = time.Second

// validateDispatcherTiming checks poll_interval against MinPollInterval
// and an explicit send_timeout against the effective poll interval: one
// row must never be allowed to outlast a whole poll period.
func validateDispatcherTiming(d DispatcherConfig) error {
	poll, perr := ParseDurationOrDefault("dispatcher.poll_interval", d.PollInterval, 60*time.Second)
	if perr == nil && poll < MinPollInterval {
		perr = fmt.Errorf("dispatcher.poll_interval: %s is below the %s minimum", poll, MinPollInterval)
	}
	send, serr := ParseDurationField("dispatcher.send_timeout", d.SendTimeout)
	if serr == nil && perr == nil && send > poll {
		serr = fmt.Errorf("dispatcher.send_timeout: %s exceeds poll_interval %s", send, poll)
	}
	return errors.Join(perr, serr)
}

// ParseDurationField parses a Go duration string at the given config path.
// Empty means unset and yields 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"30s\" or \"5m\"", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
