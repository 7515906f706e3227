package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/storage"
	"appealbot/internal/transport"
	logx "appealbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []int64
	// fail maps a message text to the error returned for it.
	fail  map[string]error
	panic map[string]bool
	// during runs inside SendText, before the result is returned.
	during func(text string)
}

func (f *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	f.calls = append(f.calls, chatID)
	p := f.panic[text]
	if p {
		delete(f.panic, text)
	}
	err := f.fail[text]
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during(text)
	}
	if p {
		panic("connection reset mid-send")
	}
	return err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "n.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func queue(t *testing.T, st *storage.Store, chatID int64, msgs ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	u, err := st.UpsertUser(ctx, domain.TelegramProfile{ID: chatID})
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, m := range msgs {
		n, err := st.CreateNotification(ctx, domain.Notification{UserID: u.ID, Message: m})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	return ids
}

func newDispatcher(st Store, s transport.TextSender) *Dispatcher {
	return New(Config{PollInterval: time.Hour, RatePerSec: 1000, BatchSize: 2}, st, s, logx.Nop(), nil, nil)
}

func TestTickTransientFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ids := queue(t, st, 10, "one", "two", "three")
	s := &fakeSender{fail: map[string]error{"two": errors.New("429 too many requests")}}

	res, err := newDispatcher(st, s).Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 3 || res.Sent != 2 || res.Transient != 1 {
		t.Fatalf("result = %+v", res)
	}
	for i, id := range ids {
		n, err := st.GetNotification(ctx, id)
		if err != nil {
			t.Fatalf("#%d: %v", i+1, err)
		}
		if want := i != 1; n.Sent != want {
			t.Fatalf("#%d sent = %v, want %v", i+1, n.Sent, want)
		}
	}
}

func TestTickPermanentFailureDeletesRow(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ids := queue(t, st, 11, "blocked")
	s := &fakeSender{fail: map[string]error{"blocked": transport.Permanent(errors.New("bot was blocked by the user"))}}

	res, err := newDispatcher(st, s).Tick(ctx)
	if err != nil || res.Permanent != 1 {
		t.Fatalf("res = %+v, err %v", res, err)
	}
	if _, err := st.GetNotification(ctx, ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("row should be gone: %v", err)
	}
}

func TestTickOnEmptyStoreIsNoop(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	s := &fakeSender{}
	d := newDispatcher(st, s)
	for i := 0; i < 2; i++ {
		res, err := d.Tick(ctx)
		if err != nil || res != (TickResult{}) {
			t.Fatalf("tick %d: %+v, %v", i, res, err)
		}
	}
	if s.count() != 0 {
		t.Fatal("sender called on empty store")
	}
}

func TestRetriedAfterCrashBeforeMark(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ids := queue(t, st, 12, "hello")
	s := &fakeSender{panic: map[string]bool{"hello": true}}

	// First run dies mid-send; the panic is contained by the loop.
	newDispatcher(st, s).safeTick(ctx)
	if n, _ := st.GetNotification(ctx, ids[0]); n.Sent {
		t.Fatal("row marked despite crash")
	}

	// A fresh dispatcher (process restart) retries the same row.
	res, err := newDispatcher(st, s).Tick(ctx)
	if err != nil || res.Sent != 1 {
		t.Fatalf("res = %+v, err %v", res, err)
	}
	n, _ := st.GetNotification(ctx, ids[0])
	if !n.Sent {
		t.Fatal("row not marked after retry")
	}
	if s.count() != 2 {
		t.Fatalf("send attempts = %d", s.count())
	}
	if res, _ := newDispatcher(st, s).Tick(ctx); res.Fetched != 0 {
		t.Fatalf("sent row fetched again: %+v", res)
	}
}

func TestSkipsRowsWithoutChat(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	queue(t, st, 0, "nobody")
	queue(t, st, 13, "somebody")
	s := &fakeSender{}
	res, err := newDispatcher(st, s).Tick(ctx)
	if err != nil || res.Skipped != 1 || res.Sent != 1 {
		t.Fatalf("res = %+v, err %v", res, err)
	}
}

func TestCancelledTickSendsNothing(t *testing.T) {
	st := openStore(t)
	queue(t, st, 14, "a", "b")
	s := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newDispatcher(st, s).Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if s.count() != 0 {
		t.Fatal("sent after cancellation")
	}
}

func TestRunStopsDuringWait(t *testing.T) {
	st := openStore(t)
	queue(t, st, 15, "x")
	s := &fakeSender{}
	d := newDispatcher(st, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return while waiting an hour-long interval")
	}
}

func TestRowDeletedWhileSendingCountsAsSent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	ids := queue(t, st, 13, "gone", "kept")
	s := &fakeSender{during: func(text string) {
		if text == "gone" {
			if err := st.DeleteNotification(context.Background(), ids[0]); err != nil {
				t.Errorf("delete: %v", err)
			}
		}
	}}

	res, err := newDispatcher(st, s).Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 || res.Transient != 0 {
		t.Fatalf("result = %+v", res)
	}
	if c, _ := st.CountUnsentNotifications(ctx); c != 0 {
		t.Fatalf("unsent = %d", c)
	}
}
