// Package retention purges delivered notifications older than a window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"appealbot/internal/eventbus"
	"appealbot/internal/metrics"
	logx "appealbot/pkg/logx"
)

var ErrEmptyWindow = errors.New("retention: at least one of days, hours, minutes must be > 0")

// Config is the retention window plus the purge schedule. Schedule, when
// set, is a standard cron spec and takes precedence over Interval.
type Config struct {
	Days     int
	Hours    int
	Minutes  int
	Interval time.Duration
	Schedule string
}

func (c Config) Window() time.Duration {
	return time.Duration(c.Days)*24*time.Hour + time.Duration(c.Hours)*time.Hour + time.Duration(c.Minutes)*time.Minute
}

func (c Config) schedule() (cron.Schedule, error) {
	if c.Days < 0 || c.Hours < 0 || c.Minutes < 0 {
		return nil, errors.New("retention: negative window component")
	}
	if c.Window() <= 0 {
		return nil, ErrEmptyWindow
	}
	if s := strings.TrimSpace(c.Schedule); s != "" {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return nil, fmt.Errorf("retention: schedule: %w", err)
		}
		return sched, nil
	}
	if c.Interval <= 0 {
		return nil, errors.New("retention: interval must be > 0")
	}
	return cron.Every(c.Interval), nil
}

type Store interface {
	DeleteSentNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Cleaner struct {
	mu    sync.Mutex
	cfg   Config
	sched cron.Schedule

	store   Store
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	reset chan struct{}
}

// New fails on an empty or negative window so a misconfigured process
// never starts.
func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) (*Cleaner, error) {
	sched, err := cfg.schedule()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Cleaner{
		cfg:     cfg,
		sched:   sched,
		store:   store,
		log:     log,
		bus:     bus,
		metrics: m,
		now:     time.Now,
		reset:   make(chan struct{}, 1),
	}, nil
}

// Apply swaps window and schedule. An invalid config is rejected and the
// current one kept.
func (c *Cleaner) Apply(cfg Config) error {
	sched, err := cfg.schedule()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg, c.sched = cfg, sched
	c.mu.Unlock()
	select {
	case c.reset <- struct{}{}:
	default:
	}
	return nil
}

func (c *Cleaner) snapshot() (Config, cron.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.sched
}

// Purge deletes sent rows created before now minus the window.
func (c *Cleaner) Purge(ctx context.Context) (int64, error) {
	cfg, _ := c.snapshot()
	cutoff := c.now().Add(-cfg.Window())
	n, err := c.store.DeleteSentNotificationsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.metrics.Purged(n)
	c.log.Info("old notifications purged", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	c.bus.Publish(eventbus.Event{Type: eventbus.TopicRetentionPurged, Time: c.now(), Data: n})
	return n, nil
}

// Run purges once immediately and then on every schedule tick until ctx
// is cancelled. A failing cycle is logged and the next one still runs.
func (c *Cleaner) Run(ctx context.Context) error {
	cfg, _ := c.snapshot()
	c.log.Info("retention cleaner started",
		logx.Duration("window", cfg.Window()),
		logx.Duration("interval", cfg.Interval),
		logx.String("schedule", cfg.Schedule),
	)
	defer c.log.Info("retention cleaner stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.safePurge(ctx)
		if !c.wait(ctx) {
			return nil
		}
	}
}

// wait blocks until the next scheduled run. A reload recomputes the next
// run from the new schedule without purging. It reports false on
// cancellation.
func (c *Cleaner) wait(ctx context.Context) bool {
	for {
		_, sched := c.snapshot()
		now := c.now()
		t := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-c.reset:
			t.Stop()
		case <-t.C:
			return true
		}
	}
}

func (c *Cleaner) safePurge(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("retention cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if _, err := c.Purge(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("retention cycle failed", logx.Err(err))
	}
}
