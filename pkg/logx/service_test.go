package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	to   []int64
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, chatID)
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestFormatAlert(t *testing.T) {
	line := []byte(`{"level":"error","time":"x","message":"dispatch failed","notification_id":7,"err":"boom"}`)
	got := formatAlert(line)
	if !strings.HasPrefix(got, "[ERROR] dispatch failed") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "- err=boom") || !strings.Contains(got, "- notification_id=7") {
		t.Fatalf("missing fields: %q", got)
	}
	if strings.Index(got, "err=") > strings.Index(got, "notification_id=") {
		t.Fatalf("fields not sorted: %q", got)
	}
}

func TestFormatAlertNonJSON(t *testing.T) {
	if got := formatAlert([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestAlertSinkForwardsAboveMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:  "debug",
		Alerts: AlertConfig{Enabled: true, ChatID: 99, MinLevel: "warn", RatePerSec: 100},
	})
	t.Cleanup(func() { _ = svc.Close() })

	rec := &recordingSender{}
	svc.SetSender(rec)

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 {
		t.Fatalf("expected 1 alert, got %d: %v", len(rec.msgs), rec.msgs)
	}
	if rec.to[0] != 99 || !strings.Contains(rec.msgs[0], "loud") {
		t.Fatalf("unexpected alert %d %q", rec.to[0], rec.msgs[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(Int("a", 1)).Component("x").Error("nothing happens")
}
