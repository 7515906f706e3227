package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
telegram:
  token: "123:abc"
logging:
  level: info
  console: true
storage:
  driver: sqlite
  dsn: ":memory:"
cache:
  driver: memory
appeals: {}
http:
  enabled: false
`

func intp(v int) *int { return &v }

func TestDecodeYAMLDefaults(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d := cfg.DispatcherOrDefault(); !d.Enabled {
		t.Fatal("dispatcher should default to enabled")
	}
	c := cfg.CleanupOrDefault()
	days, hours, minutes := c.Window()
	if days != 7 || hours != 0 || minutes != 0 || c.Interval() != 24 {
		t.Fatalf("unexpected cleanup defaults: %d/%d/%d every %dh", days, hours, minutes, c.Interval())
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"}}{}`))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateRetentionWindow(t *testing.T) {
	cases := []struct {
		name    string
		cleanup CleanupConfig
		want    error
		wantErr bool
	}{
		{name: "all zero", cleanup: CleanupConfig{Days: intp(0), Hours: intp(0), Minutes: intp(0)}, want: ErrRetentionWindow, wantErr: true},
		{name: "minutes only", cleanup: CleanupConfig{Days: intp(0), Minutes: intp(30)}},
		{name: "defaults", cleanup: CleanupConfig{}},
		{name: "negative", cleanup: CleanupConfig{Hours: intp(-1)}, wantErr: true},
		{name: "zero interval", cleanup: CleanupConfig{IntervalHours: intp(0)}, wantErr: true},
		{name: "zero interval with schedule", cleanup: CleanupConfig{IntervalHours: intp(0), Schedule: "0 3 * * *"}},
		{name: "bad schedule", cleanup: CleanupConfig{Schedule: "every tuesday"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCleanup(tc.cleanup)
			if tc.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: "oracle"},
		Cleanup: &CleanupConfig{Days: intp(0), Hours: intp(0), Minutes: intp(0)},
	}
	err := Validate(cfg)
	if !errors.Is(err, ErrMissingToken) || !errors.Is(err, ErrRetentionWindow) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvCacheAddr, "redis:6379")
	cfg, err := Decode("config.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Cache.Addr != "redis:6379" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Cache)
	}
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestDiffMarksRestartSections(t *testing.T) {
	a, _ := Decode("c.yaml", []byte(minimalYAML))
	b, _ := Decode("c.yaml", []byte(minimalYAML))
	b.Logging.Level = "debug"
	b.Storage.DSN = "other.db"
	ch := Diff(a, b)
	if strings.Join(ch.Sections, ",") != "logging,storage" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if strings.Join(ch.Restart, ",") != "storage" {
		t.Fatalf("restart = %v", ch.Restart)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(minimalYAML, "level: info", "level: debug", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"config.yaml":    "telegram: [unclosed",
		"config.yml":     "telegram:\n  token: x\n1: numeric key\n",
		"config.json":    `{"telegram":`,
		"nested.yaml":    "telegram:\n  token: x\nappeals:\n  2: y\n",
		"wrongtype.json": `{"appeals":{"min_text_len":"ten"}}`,
		"trailing.json":  `{}{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(name, []byte(body)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeEmptyYAMLIsEmptyConfig(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	cfg, err := Decode("config.yaml", nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "" || cfg.Dispatcher != nil {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidateDispatcherTiming(t *testing.T) {
	cases := []struct {
		name    string
		d       DispatcherConfig
		wantErr string
	}{
		{name: "defaults", d: DispatcherConfig{Enabled: true}},
		{name: "fast poll", d: DispatcherConfig{PollInterval: "1s", SendTimeout: "500ms"}},
		{name: "below floor", d: DispatcherConfig{PollInterval: "200ms"}, wantErr: "below"},
		{name: "send exceeds poll", d: DispatcherConfig{PollInterval: "5s", SendTimeout: "10s"}, wantErr: "exceeds"},
		{name: "send exceeds default poll", d: DispatcherConfig{SendTimeout: "2m"}, wantErr: "exceeds"},
		{name: "garbage", d: DispatcherConfig{SendTimeout: "soon"}, wantErr: "not a duration"},
		{name: "negative", d: DispatcherConfig{PollInterval: "-1s"}, wantErr: "negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateDispatcherTiming(tc.d)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("unset: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", " 90s ", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("set: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("dispatcher.poll_interval", "1x", time.Minute); err == nil || !strings.Contains(err.Error(), "dispatcher.poll_interval") {
		t.Fatalf("bad: %v", err)
	}
}
