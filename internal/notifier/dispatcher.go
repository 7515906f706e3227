package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"appealbot/internal/domain"
	"appealbot/internal/eventbus"
	"appealbot/internal/metrics"
	"appealbot/internal/transport"
	logx "appealbot/pkg/logx"
)

// Config controls the poll loop.
type Config struct {
	PollInterval time.Duration
	// SendTimeout bounds one row (send plus mark) once it has started.
	SendTimeout time.Duration
	RatePerSec  int
	BatchSize   int
}

// Store is the part of the notification store the dispatcher uses.
type Store interface {
	ListUnsentNotifications(ctx context.Context, afterID int64, limit int) ([]domain.PendingNotification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	DeleteNotification(ctx context.Context, id int64) error
}

// TickResult counts per-row outcomes of one tick.
type TickResult struct {
	Fetched   int
	Sent      int
	Transient int
	Permanent int
	Skipped   int
}

// Outcome is the payload of the dispatcher's bus events.
type Outcome struct {
	NotificationID int64
	UserID         int64
	ChatID         int64
	Error          string
}

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	store   Store
	sender  transport.TextSender
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	wake chan struct{}
}

func New(cfg Config, store Store, sender transport.TextSender, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	d := &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log,
		bus:     bus,
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps the poll interval, timeout and rate. It takes effect from
// the next wait or send.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
	d.Wake()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	d.cfg = cfg
	// Burst = rate so a short backlog goes out without waiting.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Wake cuts the current wait short. Safe to call from any goroutine.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled. Errors and panics inside a tick are
// logged and the loop carries on after its normal wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	cfg, _ := d.snapshot()
	d.log.Info("dispatcher started", logx.Duration("poll_interval", cfg.PollInterval))
	defer d.log.Info("dispatcher stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		d.safeTick(ctx)

		cfg, _ := d.snapshot()
		t := time.NewTimer(cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-d.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

func (d *Dispatcher) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher tick panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error("dispatcher tick failed", logx.Err(err))
	}
}

// Tick drains every unsent row once, in id order. Per-row failures are
// counted, not returned; the error is for fetch failures and cancellation.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	start := time.Now()
	defer func() {
		d.metrics.ObserveTick(time.Since(start))
		d.metrics.Pending(res.Fetched - res.Sent - res.Permanent)
	}()

	cfg, limiter := d.snapshot()
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := d.store.ListUnsentNotifications(ctx, after, cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("fetch unsent: %w", err)
		}
		res.Fetched += len(batch)
		for _, p := range batch {
			after = p.ID
			if p.ChatID == 0 {
				res.Skipped++
				d.metrics.NotificationFailed(metrics.FailNoRecipient)
				d.log.Error("notification has no recipient chat", logx.Int64("id", p.ID), logx.Int64("user_id", p.UserID))
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return res, ctx.Err()
			}
			d.deliver(ctx, cfg, p, &res)
		}
		if len(batch) < cfg.BatchSize {
			break
		}
	}
	if res.Fetched > 0 {
		d.log.Debug("dispatcher tick done",
			logx.Int("fetched", res.Fetched),
			logx.Int("sent", res.Sent),
			logx.Int("transient", res.Transient),
			logx.Int("permanent", res.Permanent),
		)
	}
	return res, nil
}

// deliver handles one row to completion. It ignores cancellation of ctx
// and is bounded by SendTimeout instead.
func (d *Dispatcher) deliver(ctx context.Context, cfg Config, p domain.PendingNotification, res *TickResult) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
	defer cancel()

	fields := []logx.Field{logx.Int64("id", p.ID), logx.Int64("user_id", p.UserID), logx.Int64("chat_id", p.ChatID)}
	out := Outcome{NotificationID: p.ID, UserID: p.UserID, ChatID: p.ChatID}

	err := d.sender.SendText(rctx, p.ChatID, p.Message)
	switch {
	case err == nil:
		merr := d.store.MarkNotificationSent(rctx, p.ID)
		switch {
		case errors.Is(merr, domain.ErrNotFound):
			// Row was removed while in flight (appeal or user deleted).
			d.log.Debug("notification row removed while in flight", fields...)
		case merr != nil:
			// Delivered but not marked: it goes out again next tick.
			res.Transient++
			d.log.Warn("notification sent but not marked", append(fields, logx.Err(merr))...)
			return
		}
		res.Sent++
		d.metrics.NotificationSent()
		d.log.Info("notification sent", fields...)
		d.publish(eventbus.TopicNotificationSent, out)

	case transport.IsPermanent(err):
		res.Permanent++
		d.metrics.NotificationFailed(metrics.FailPermanent)
		out.Error = err.Error()
		if derr := d.store.DeleteNotification(rctx, p.ID); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			d.log.Error("undeliverable notification not deleted", append(fields, logx.Err(err), logx.String("delete_error", derr.Error()))...)
			return
		}
		d.log.Error("recipient unreachable, notification dropped", append(fields, logx.Err(err))...)
		d.publish(eventbus.TopicNotificationDropped, out)

	default:
		res.Transient++
		d.metrics.NotificationFailed(metrics.FailTransient)
		out.Error = err.Error()
		d.log.Warn("notification delivery failed, will retry", append(fields, logx.Err(err))...)
		d.publish(eventbus.TopicNotificationFailed, out)
	}
}

func (d *Dispatcher) publish(topic string, out Outcome) {
	d.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: out})
}
