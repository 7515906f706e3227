package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.NotificationSent()
	m.NotificationFailed(FailPermanent)
	m.NotificationCreated(SourceAppeal)
	m.Purged(3)
	m.Purged(0)
	m.Pending(2)
	m.ObserveTick(time.Millisecond)
	m.ObserveHTTP("GET", "/healthz", "200", time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			switch {
			case mt.GetCounter() != nil:
				got[f.GetName()] += mt.GetCounter().GetValue()
			case mt.GetGauge() != nil:
				got[f.GetName()] = mt.GetGauge().GetValue()
			}
		}
	}
	if got["appealbot_notifications_purged_total"] != 3 {
		t.Fatalf("purged = %v", got["appealbot_notifications_purged_total"])
	}
	if got["appealbot_notifications_pending"] != 2 || got["appealbot_notifications_sent_total"] != 1 {
		t.Fatalf("metrics = %v", got)
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.NotificationSent()
	m.NotificationFailed(FailTransient)
	m.Pending(1)
	m.ObserveHTTP("GET", "/", "200", 0)
}
