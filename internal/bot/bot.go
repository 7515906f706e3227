// Package bot is the chat front end: it routes Telegram commands and
// inline button callbacks to the workflow service and the token issuer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"appealbot/internal/files"
	rtsup "appealbot/internal/runtime/supervisor"
	"appealbot/internal/session"
	"appealbot/internal/storage"
	"appealbot/internal/transport"
	"appealbot/internal/workflow"
	logx "appealbot/pkg/logx"
)

const (
	defaultHandlerTimeout = 15 * time.Second
	defaultJobQueue       = 256
	defaultUpdateQueue    = 256
	// Telegram refuses bot downloads above 20 MB.
	defaultMaxUpload = 20 << 20
)

type Config struct {
	WebAppURL string
	// OperatorChatID is always treated as an admin.
	OperatorChatID int64
	Workers        int
	HandlerTimeout time.Duration
	MaxUploadBytes int64
}

type Deps struct {
	Adapter transport.Adapter
	Service *workflow.Service
	Store   *storage.Store
	Issuer  *session.Issuer
	Files   *files.Store
	Log     logx.Logger
}

// menuUpdater is implemented by adapters that can publish the command menu.
type menuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error
}

// Bot implements lifecycle.Receiver.
type Bot struct {
	cfg     Config
	adapter transport.Adapter
	svc     *workflow.Service
	store   *storage.Store
	issuer  *session.Issuer
	files   *files.Store
	log     logx.Logger

	commands  []Command
	byName    map[string]*Command
	callbacks map[string]map[string]CallbackRoute

	jobs chan func()

	runMu   sync.Mutex
	sup     *rtsup.Supervisor
	running bool
}

func New(cfg Config, d Deps) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 2 {
			cfg.Workers = 2
		}
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	b := &Bot{
		cfg:     cfg,
		adapter: d.Adapter,
		svc:     d.Service,
		store:   d.Store,
		issuer:  d.Issuer,
		files:   d.Files,
		log:     d.Log.Component("bot"),
		jobs:    make(chan func(), defaultJobQueue),
	}
	b.setRegistry(b.builtinCommands(), b.builtinCallbacks())
	return b
}

func (b *Bot) setRegistry(cmds []Command, cbs []CallbackRoute) {
	b.commands = cmds
	b.byName = make(map[string]*Command, len(cmds))
	for i := range b.commands {
		c := &b.commands[i]
		b.byName[c.Name] = c
		for _, a := range c.Aliases {
			b.byName[a] = c
		}
	}
	b.callbacks = make(map[string]map[string]CallbackRoute)
	for _, r := range cbs {
		if b.callbacks[r.Prefix] == nil {
			b.callbacks[r.Prefix] = make(map[string]CallbackRoute)
		}
		b.callbacks[r.Prefix][r.Action] = r
	}
}

// Supervisor returns the worker pool supervisor while running.
func (b *Bot) Supervisor() *rtsup.Supervisor {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup
}

// Start launches the worker pool and then the adapter. It returns once
// updates are being received.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(b.log), rtsup.WithCancelOnError(false))
	updates := make(chan transport.Update, defaultUpdateQueue)

	for i := 0; i < b.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return b.worker(c, idx)
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	sup.GoRestart("updates.dispatch", func(c context.Context) error {
		return b.dispatchLoop(c, updates)
	}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))

	if err := b.adapter.Start(sup.Context(), updates); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(sctx)
		cancel()
		return fmt.Errorf("bot: start adapter: %w", err)
	}
	if mu, ok := b.adapter.(menuUpdater); ok {
		sup.Go("menu.update", func(c context.Context) error {
			if err := mu.UpdateMenuCommands(c, b.menu()); err != nil {
				b.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}
	b.sup = sup
	b.running = true
	b.log.Info("bot started", logx.Int("workers", b.cfg.Workers), logx.Int("job_queue_cap", cap(b.jobs)))
	return nil
}

// Stop stops receiving first, then drains the worker pool.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	running := b.running
	b.sup, b.running = nil, false
	b.runMu.Unlock()
	if !running {
		return nil
	}
	err := b.adapter.Stop(ctx)
	if serr := sup.Stop(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
		err = errors.Join(err, serr)
	}
	b.log.Info("bot stopped")
	return err
}

func (b *Bot) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-b.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (b *Bot) dispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-updates:
			b.routeUpdate(ctx, up)
		}
	}
}

func (b *Bot) tryEnqueue(fn func()) bool {
	select {
	case b.jobs <- fn:
		return true
	default:
		return false
	}
}

func (b *Bot) routeUpdate(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		b.routeMessage(ctx, up.Message)
	case transport.UpdateCallback:
		b.routeCallback(ctx, up.Callback)
	}
}

// parseCommand splits "/cmd@bot a b" into the command word, the words
// after it and the raw remainder.
func parseCommand(text string) (word string, args []string, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, "", false
	}
	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i+1:]
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	rest = strings.TrimSpace(rest)
	return strings.ToLower(word), strings.Fields(rest), rest, word != ""
}

func (b *Bot) routeMessage(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		return
	}
	word, args, rest, ok := parseCommand(msg.Text)
	if !ok {
		if msg.Private {
			_ = b.adapter.SendText(ctx, msg.ChatID, "Unknown input. Try /help")
		}
		return
	}
	cmd, found := b.byName[word]
	if !found {
		_ = b.adapter.SendText(ctx, msg.ChatID, "Unknown command. Try /help")
		return
	}
	rid := uuid.NewString()
	req := &Request{
		Kind:      transport.UpdateMessage,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		From:      msg.From,
		Command:   cmd.Name,
		Args:      args,
		ArgText:   rest,
		Document:  msg.Document,
		ReqID:     rid,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.From.ID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(b.timeout(cmd.Timeout)),
		b.mwReplyErrors(),
		b.mwRegister(),
		b.mwAccess(cmd.Access),
	)
	if !b.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = b.adapter.SendText(ctx, msg.ChatID, "Busy, try again")
	}
}

func (b *Bot) routeCallback(ctx context.Context, cb *transport.Callback) {
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	route, ok := b.callbacks[parts[0]][parts[1]]
	if !ok {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "Unknown action")
		return
	}
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}
	name := "cb:" + parts[0] + ":" + parts[1]
	rid := uuid.NewString()
	req := &Request{
		Kind:       transport.UpdateCallback,
		ChatID:     cb.ChatID,
		MessageID:  cb.MessageID,
		From:       cb.From,
		Command:    name,
		CallbackID: cb.ID,
		Payload:    payload,
		ReqID:      rid,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.From.ID),
			logx.String("cmd", name),
		),
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(
		h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(b.timeout(route.Timeout)),
		b.mwReplyErrors(),
		b.mwRegister(),
		b.mwAccess(route.Access),
	)
	if !b.tryEnqueue(func() {
		_ = final(ctx, req)
		// stops the client's loading spinner if the handler did not answer
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again")
	}
}

func (b *Bot) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return b.cfg.HandlerTimeout
}

func (b *Bot) isAdmin(req *Request) bool {
	return req.User.IsAdmin || (b.cfg.OperatorChatID != 0 && req.From.ID == b.cfg.OperatorChatID)
}

// menu lists the commands everyone may run, sorted by name.
func (b *Bot) menu() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(b.commands))
	for _, c := range b.commands {
		if c.Access != AccessEveryone {
			continue
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}
