package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/files"
	"appealbot/internal/session"
	"appealbot/internal/storage"
	"appealbot/internal/transport"
	"appealbot/internal/workflow"
	logx "appealbot/pkg/logx"
)

const operatorID = 9000

type sent struct {
	chatID int64
	text   string
	opt    *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []string
	answers []string
	started chan chan<- transport.Update
	stopped bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{started: make(chan chan<- transport.Update, 1)}
}

func (f *fakeAdapter) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := f.Send(ctx, chatID, text, nil)
	return err
}

func (f *fakeAdapter) Send(_ context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: chatID, text: text, opt: opt})
	return transport.MessageRef{ChatID: chatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) Download(_ context.Context, fileID, dst string) error {
	return os.WriteFile(dst, []byte("content of "+fileID), 0o600)
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.started <- out
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	bot     *Bot
	adapter *fakeAdapter
	store   *storage.Store
	issuer  *session.Issuer
	files   *files.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fs, err := files.New(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	svc := workflow.NewService(workflow.Options{
		Store: st,
		Files: fs,
		Rules: domain.AppealRules{MinTextLen: 10, MaxTextLen: 200},
		Log:   logx.Nop(),
	})
	ad := newFakeAdapter()
	iss := session.NewIssuer(session.NewMemoryCache(), time.Hour, logx.Nop())
	b := New(Config{WebAppURL: "https://app.example.org/", OperatorChatID: operatorID, Workers: 2}, Deps{
		Adapter: ad,
		Service: svc,
		Store:   st,
		Issuer:  iss,
		Files:   fs,
		Log:     logx.Nop(),
	})
	return fixture{bot: b, adapter: ad, store: st, issuer: iss, files: fs}
}

// runJob executes the job the last route call queued.
func (f fixture) runJob(t *testing.T) {
	t.Helper()
	select {
	case job := <-f.bot.jobs:
		job()
	default:
		t.Fatal("no job queued")
	}
}

func (f fixture) message(t *testing.T, from int64, text string) {
	t.Helper()
	f.bot.routeMessage(context.Background(), &transport.Message{
		ChatID:  from,
		From:    transport.Sender{ID: from, FirstName: "Ann"},
		Text:    text,
		Private: true,
	})
	f.runJob(t)
}

func (f fixture) tap(t *testing.T, from int64, data string) {
	t.Helper()
	f.bot.routeCallback(context.Background(), &transport.Callback{
		ID:        "cb-" + data,
		ChatID:    from,
		MessageID: 7,
		From:      transport.Sender{ID: from},
		Data:      data,
	})
	f.runJob(t)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in    string
		word  string
		args  int
		rest  string
		valid bool
	}{
		{in: "/start", word: "start", valid: true},
		{in: "/Token@appeal_bot", word: "token", valid: true},
		{in: "/reject 4 not a staff member", word: "reject", args: 5, rest: "4 not a staff member", valid: true},
		{in: "/appeal\nline one", word: "appeal", args: 2, rest: "line one", valid: true},
		{in: "hello", valid: false},
		{in: "/", valid: false},
	}
	for _, tt := range tests {
		word, args, rest, ok := parseCommand(tt.in)
		if ok != tt.valid || word != tt.word || len(args) != tt.args || rest != tt.rest {
			t.Fatalf("parseCommand(%q) = %q %v %q %v", tt.in, word, args, rest, ok)
		}
	}
}

func TestStartRegistersUserAndOffersWebApp(t *testing.T) {
	f := newFixture(t)
	f.message(t, 100, "/start")

	u, err := f.store.GetUserByTelegramID(context.Background(), 100)
	if err != nil {
		t.Fatalf("user not registered: %v", err)
	}
	if u.FirstName != "Ann" {
		t.Fatalf("first name = %q", u.FirstName)
	}
	got := f.adapter.last()
	if got.opt == nil || len(got.opt.Keyboard) != 1 || got.opt.Keyboard[0][0].WebAppURL == "" {
		t.Fatalf("expected a web app button, got %+v", got.opt)
	}
}

func TestTokenIsReusedAndResolves(t *testing.T) {
	f := newFixture(t)
	f.message(t, 100, "/token")
	first := f.adapter.last().opt.Keyboard[0][0].WebAppURL
	f.message(t, 100, "/webapp")
	second := f.adapter.last().opt.Keyboard[0][0].WebAppURL
	if first != second {
		t.Fatalf("links differ: %q vs %q", first, second)
	}
	_, tok, ok := strings.Cut(first, "token=")
	if !ok {
		t.Fatalf("link has no token: %q", first)
	}
	chatID, err := f.issuer.Resolve(context.Background(), tok)
	if err != nil || chatID != 100 {
		t.Fatalf("Resolve = %d, %v", chatID, err)
	}

	f.message(t, 100, "/logout")
	if _, err := f.issuer.Resolve(context.Background(), tok); !errors.Is(err, session.ErrTokenNotFound) {
		t.Fatalf("token still valid after logout: %v", err)
	}
}

func TestAdminCallbackProcessesAppeal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.message(t, 100, "/appeal The playground fence is broken")
	list, err := f.store.ListAppeals(ctx, storage.AppealFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("appeals = %v, %v", list, err)
	}
	id := list[0].ID

	f.tap(t, operatorID, "appeal:processed:"+strconv.FormatInt(id, 10))

	a, err := f.store.GetAppeal(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.AppealProcessed {
		t.Fatalf("status = %s", a.Status)
	}
	ns, err := f.store.ListNotificationsByUser(ctx, a.UserID)
	if err != nil || len(ns) != 1 {
		t.Fatalf("notifications = %v, %v", ns, err)
	}
	if len(f.adapter.edits) != 1 || !strings.Contains(f.adapter.edits[0], "Processed") {
		t.Fatalf("edits = %v", f.adapter.edits)
	}
}

func TestNonAdminCallbackIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.message(t, 100, "/appeal The playground fence is broken")
	list, _ := f.store.ListAppeals(ctx, storage.AppealFilter{})

	f.tap(t, 100, "appeal:rejected:"+strconv.FormatInt(list[0].ID, 10))

	a, err := f.store.GetAppeal(ctx, list[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.AppealNew {
		t.Fatalf("status changed to %s", a.Status)
	}
	if len(f.adapter.answers) == 0 || f.adapter.answers[0] != "Forbidden" {
		t.Fatalf("answers = %v", f.adapter.answers)
	}
}

func TestRejectAdminRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.message(t, 100, "/adminrequest Head of housing")
	u, _ := f.store.GetUserByTelegramID(ctx, 100)
	r, err := f.store.GetAdminRequestByUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	sid := strconv.FormatInt(r.ID, 10)

	f.message(t, operatorID, "/reject "+sid)
	if got := f.adapter.last().text; !strings.HasPrefix(got, "Usage") && !strings.Contains(got, "comment") {
		t.Fatalf("reply = %q", got)
	}

	f.message(t, operatorID, "/reject "+sid+" not a staff member")
	r, err = f.store.GetAdminRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != domain.AdminRequestRejected || r.Comment != "not a staff member" {
		t.Fatalf("request = %+v", r)
	}
}

func TestAdminCommandNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	f.message(t, 100, "/pending")
	if got := f.adapter.last().text; got != "This command is for administrators." {
		t.Fatalf("reply = %q", got)
	}
}

func TestAppealWithAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bot.routeMessage(ctx, &transport.Message{
		ChatID:   100,
		From:     transport.Sender{ID: 100},
		Text:     "/appeal user@example.org Pothole on Lenina street",
		Private:  true,
		Document: &transport.Document{FileID: "f1", FileName: "photo.JPG", Size: 1024},
	})
	f.runJob(t)

	list, err := f.store.ListAppeals(ctx, storage.AppealFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("appeals = %v, %v", list, err)
	}
	a := list[0]
	if a.ContactInfo != "user@example.org" || !strings.HasSuffix(a.FilePath, ".jpg") {
		t.Fatalf("appeal = %+v", a)
	}
	body, err := os.ReadFile(f.files.Abs(a.FilePath))
	if err != nil || string(body) != "content of f1" {
		t.Fatalf("attachment = %q, %v", body, err)
	}
}

func TestAppealTooShortLeavesNoFile(t *testing.T) {
	f := newFixture(t)
	f.bot.routeMessage(context.Background(), &transport.Message{
		ChatID:   100,
		From:     transport.Sender{ID: 100},
		Text:     "/appeal short",
		Document: &transport.Document{FileID: "f1", FileName: "a.pdf"},
	})
	f.runJob(t)

	entries, err := os.ReadDir(f.files.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("attachment left behind: %v", entries)
	}
	if got := f.adapter.last().text; !strings.Contains(got, "too short") {
		t.Fatalf("reply = %q", got)
	}
}

func TestStartServesUpdatesUntilStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.bot.Start(ctx); err != nil {
		t.Fatal(err)
	}
	out := <-f.adapter.started
	out <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: 100, From: transport.Sender{ID: 100}, Text: "/help", Private: true,
	}}
	for f.adapter.last().text == "" {
		select {
		case <-ctx.Done():
			t.Fatal("no reply to /help")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !strings.Contains(f.adapter.last().text, "/appeal") {
		t.Fatalf("help = %q", f.adapter.last().text)
	}
	if err := f.bot.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !f.adapter.stopped {
		t.Fatal("adapter not stopped")
	}
}
