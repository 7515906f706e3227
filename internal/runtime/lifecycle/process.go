// Package lifecycle orders startup and shutdown of the bot's receive loop
// and its background loops.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rtsup "appealbot/internal/runtime/supervisor"
	logx "appealbot/pkg/logx"
)

// Receiver is the inbound side of the bot. Start returns once receiving
// is under way.
type Receiver interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Task is a long-running background loop. Run returns nil once ctx is
// cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

var ErrStarted = errors.New("lifecycle: already started")

type Process struct {
	log      logx.Logger
	receiver Receiver
	tasks    []Task

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(receiver Receiver, log logx.Logger, tasks ...Task) *Process {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Process{log: log, receiver: receiver, tasks: tasks}
}

// Start launches the background tasks first, then the receiver. If the
// receiver fails to start the tasks are torn down and the error returned.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.sup != nil {
		p.mu.Unlock()
		return ErrStarted
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(p.log), rtsup.WithCancelOnError(false))
	p.sup = sup
	p.mu.Unlock()

	for _, t := range p.tasks {
		sup.GoRestart(t.Name, t.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithRestartOnCleanExit(true),
		)
	}
	p.log.Info("background tasks started", logx.Int("count", len(p.tasks)))

	if p.receiver != nil {
		if err := p.receiver.Start(sup.Context()); err != nil {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = sup.Stop(wctx)
			p.mu.Lock()
			p.sup = nil
			p.mu.Unlock()
			return fmt.Errorf("start receiver: %w", err)
		}
	}
	return nil
}

// Stop stops the receiver, then cancels the background tasks and waits
// for them until ctx expires.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	sup := p.sup
	p.sup = nil
	p.mu.Unlock()
	if sup == nil {
		return nil
	}

	var errs []error
	if p.receiver != nil {
		if err := p.receiver.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop receiver: %w", err))
		}
	}
	if err := sup.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop tasks: %w", err))
	}
	p.log.Info("process stopped")
	return errors.Join(errs...)
}

// Snapshot reports per-task restart and panic counters.
func (p *Process) Snapshot() []rtsup.TaskStats {
	p.mu.Lock()
	sup := p.sup
	p.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Snapshot()
}
