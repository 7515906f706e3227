package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"appealbot/internal/config"
)

func intp(v int) *int { return &v }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestValidateConfigFile(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	ok := writeConfig(t, "telegram:\n  token: \"1:a\"\n")
	if err := Validate(ok); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	noToken := writeConfig(t, "telegram: {}\n")
	if err := Validate(noToken); !errors.Is(err, config.ErrMissingToken) {
		t.Fatalf("missing token: %v", err)
	}

	zeroWindow := writeConfig(t, "telegram:\n  token: \"1:a\"\ncleanup:\n  enabled: true\n  days: 0\n")
	if err := Validate(zeroWindow); !errors.Is(err, config.ErrRetentionWindow) {
		t.Fatalf("zero window: %v", err)
	}
}

func TestMapDefaults(t *testing.T) {
	cfg := &config.Config{}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.DSN != config.DefaultSQLiteFileName || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage = %+v", sc)
	}

	dc, enabled, err := mapDispatcherConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled || dc.PollInterval != time.Minute || dc.SendTimeout != 10*time.Second || dc.RatePerSec != config.DefaultRatePerSec {
		t.Fatalf("dispatcher = %+v enabled=%v", dc, enabled)
	}

	cc, enabled := mapCleanupConfig(cfg)
	if !enabled || cc.Window() != 7*24*time.Hour || cc.Interval != 24*time.Hour {
		t.Fatalf("cleanup = %+v enabled=%v", cc, enabled)
	}

	r := mapRules(cfg)
	if r.MinTextLen != config.DefaultMinTextLen || r.MaxTextLen != config.DefaultMaxTextLen {
		t.Fatalf("rules = %+v", r)
	}
	if filesDir(cfg) != config.DefaultFilesDir || httpAddr(cfg) != config.DefaultHTTPAddr {
		t.Fatal("dir/addr defaults not applied")
	}
}

func TestMapCleanupWindow(t *testing.T) {
	cfg := &config.Config{Cleanup: &config.CleanupConfig{
		Enabled:       true,
		Days:          intp(0),
		Hours:         intp(2),
		Minutes:       intp(30),
		IntervalHours: intp(1),
		Schedule:      " 0 3 * * * ",
	}}
	cc, _ := mapCleanupConfig(cfg)
	if cc.Window() != 150*time.Minute || cc.Interval != time.Hour || cc.Schedule != "0 3 * * *" {
		t.Fatalf("cleanup = %+v", cc)
	}
}

func TestMapStoragePostgresKeepsEmptyDSN(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "Postgres"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "postgres" || sc.DSN != "" {
		t.Fatalf("storage = %+v", sc)
	}
}
