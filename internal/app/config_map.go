package app

import (
	"strings"
	"time"

	"appealbot/internal/config"
	"appealbot/internal/domain"
	"appealbot/internal/notifier"
	"appealbot/internal/retention"
	"appealbot/internal/storage"
	logx "appealbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			ChatID:     cfg.Telegram.OperatorChatID,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = config.DefaultStorageDriver
	}
	dsn := strings.TrimSpace(sc.DSN)
	if dsn == "" && driver != "postgres" && driver != "pgx" {
		dsn = config.DefaultSQLiteFileName
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, DSN: dsn, BusyTimeout: busy, MaxOpenConns: sc.MaxOpenConns}, nil
}

func mapDispatcherConfig(cfg *config.Config) (notifier.Config, bool, error) {
	d := cfg.DispatcherOrDefault()
	poll, err := config.ParseDurationOrDefault("dispatcher.poll_interval", d.PollInterval, 60*time.Second)
	if err != nil {
		return notifier.Config{}, false, err
	}
	send, err := config.ParseDurationOrDefault("dispatcher.send_timeout", d.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, false, err
	}
	rps := d.RatePerSec
	if rps <= 0 {
		rps = config.DefaultRatePerSec
	}
	return notifier.Config{PollInterval: poll, SendTimeout: send, RatePerSec: rps}, d.Enabled, nil
}

func mapCleanupConfig(cfg *config.Config) (retention.Config, bool) {
	c := cfg.CleanupOrDefault()
	days, hours, minutes := c.Window()
	return retention.Config{
		Days:     days,
		Hours:    hours,
		Minutes:  minutes,
		Interval: time.Duration(c.Interval()) * time.Hour,
		Schedule: strings.TrimSpace(c.Schedule),
	}, c.Enabled
}

func mapRules(cfg *config.Config) domain.AppealRules {
	r := domain.AppealRules{MinTextLen: cfg.Appeals.MinTextLen, MaxTextLen: cfg.Appeals.MaxTextLen}
	if r.MinTextLen <= 0 {
		r.MinTextLen = config.DefaultMinTextLen
	}
	if r.MaxTextLen <= 0 {
		r.MaxTextLen = config.DefaultMaxTextLen
	}
	return r
}

func filesDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Appeals.FilesDir); d != "" {
		return d
	}
	return config.DefaultFilesDir
}

func httpAddr(cfg *config.Config) string {
	if a := strings.TrimSpace(cfg.HTTP.Addr); a != "" {
		return a
	}
	return config.DefaultHTTPAddr
}
