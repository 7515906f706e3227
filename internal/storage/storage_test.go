package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"appealbot/internal/domain"
	logx "appealbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustUser(t *testing.T, st *Store, tgID int64) domain.User {
	t.Helper()
	u, err := st.UpsertUser(context.Background(), domain.TelegramProfile{ID: tgID, Username: "u"})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

func TestRebindPostgres(t *testing.T) {
	got := dialectPostgres.rebind(`SELECT '?' FROM t WHERE a = ? AND b = ?`)
	want := `SELECT '?' FROM t WHERE a = $1 AND b = $2`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if q := dialectSQLite.rebind("a = ?"); q != "a = ?" {
		t.Fatalf("sqlite must keep placeholders: %q", q)
	}
}

func TestUpsertUserKeepsAdminFlag(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	u := mustUser(t, st, 1001)
	if err := st.SetUserAdmin(ctx, u.ID, true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	again, err := st.UpsertUser(ctx, domain.TelegramProfile{ID: 1001, Username: "renamed"})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if again.ID != u.ID || again.Username != "renamed" || !again.IsAdmin {
		t.Fatalf("unexpected user after upsert: %+v", again)
	}
	admins, err := st.ListAdmins(ctx)
	if err != nil || len(admins) != 1 || admins[0].ID != u.ID {
		t.Fatalf("admins = %+v, err %v", admins, err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetAppeal(context.Background(), 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := st.SetAppealStatus(context.Background(), 404, domain.AppealProcessed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAppealWithCommission(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	c, err := st.CreateCommission(ctx, "Finance", "money matters")
	if err != nil {
		t.Fatalf("commission: %v", err)
	}
	a, err := st.CreateAppeal(ctx, domain.Appeal{UserID: u.ID, CommissionID: &c.ID, Text: "please fix the road"})
	if err != nil {
		t.Fatalf("create appeal: %v", err)
	}
	if a.Status != domain.AppealNew || a.CommissionName != "Finance" {
		t.Fatalf("unexpected appeal %+v", a)
	}

	if err := st.DeleteCommission(ctx, c.ID); err != nil {
		t.Fatalf("delete commission: %v", err)
	}
	a, err = st.GetAppeal(ctx, a.ID)
	if err != nil {
		t.Fatalf("get appeal: %v", err)
	}
	if a.CommissionID != nil || a.CommissionName != "" {
		t.Fatalf("commission should be detached: %+v", a)
	}

	list, err := st.ListAppeals(ctx, AppealFilter{UserID: u.ID, Status: domain.AppealNew})
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, err %v", list, err)
	}
}

func TestAdminRequestIsUniquePerUser(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 7)
	if _, err := st.CreateAdminRequest(ctx, u.ID, "secretary"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := st.CreateAdminRequest(ctx, u.ID, "chair"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second request err = %v, want ErrConflict", err)
	}
}

func TestDeleteAppealCascadesNotifications(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	a, err := st.CreateAppeal(ctx, domain.Appeal{UserID: u.ID, Text: "text", FilePath: "files/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateNotification(ctx, domain.Notification{UserID: u.ID, AppealID: &a.ID, Message: "m"}); err != nil {
		t.Fatal(err)
	}
	path, err := st.DeleteAppeal(ctx, a.ID)
	if err != nil || path != "files/a.pdf" {
		t.Fatalf("delete appeal = %q, %v", path, err)
	}
	ns, err := st.ListNotificationsByUser(ctx, u.ID)
	if err != nil || len(ns) != 0 {
		t.Fatalf("notifications left: %+v, %v", ns, err)
	}
}

func TestDeleteAdminRequestKeepsNotification(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	ar, err := st.CreateAdminRequest(ctx, u.ID, "clerk")
	if err != nil {
		t.Fatal(err)
	}
	n, err := st.CreateNotification(ctx, domain.Notification{UserID: u.ID, AdminRequestID: &ar.ID, Message: "revoked"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteAdminRequest(ctx, ar.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("notification should survive: %v", err)
	}
	if got.AdminRequestID != nil || got.Message != "revoked" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestDeleteUserReturnsAttachments(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	for _, p := range []string{"", "files/x.png"} {
		if _, err := st.CreateAppeal(ctx, domain.Appeal{UserID: u.ID, Text: "t", FilePath: p}); err != nil {
			t.Fatal(err)
		}
	}
	files, err := st.DeleteUser(ctx, u.ID)
	if err != nil || len(files) != 1 || files[0] != "files/x.png" {
		t.Fatalf("files = %v, err %v", files, err)
	}
	if _, err := st.GetUser(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx *Queries) error {
		if err := tx.SetUserAdmin(ctx, u.ID, true); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := st.GetUser(ctx, u.ID)
	if got.IsAdmin {
		t.Fatal("admin flag should have been rolled back")
	}
}

func TestSavepointIsolatesInnerFailure(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 1)
	a, err := st.CreateAppeal(ctx, domain.Appeal{UserID: u.ID, Text: "t"})
	if err != nil {
		t.Fatal(err)
	}

	err = st.InTx(ctx, func(tx *Queries) error {
		if err := tx.SetAppealStatus(ctx, a.ID, domain.AppealProcessed); err != nil {
			return err
		}
		inner := tx.Savepoint(ctx, "notify", func(q *Queries) error {
			if _, err := q.CreateNotification(ctx, domain.Notification{UserID: u.ID, AppealID: &a.ID, Message: "x"}); err != nil {
				return err
			}
			// Violates the users foreign key.
			_, err := q.CreateNotification(ctx, domain.Notification{UserID: 9999, Message: "y"})
			return err
		})
		if inner == nil {
			t.Fatal("expected inner failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer tx: %v", err)
	}

	got, _ := st.GetAppeal(ctx, a.ID)
	if got.Status != domain.AppealProcessed {
		t.Fatalf("status = %s", got.Status)
	}
	ns, _ := st.ListNotificationsByUser(ctx, u.ID)
	if len(ns) != 0 {
		t.Fatalf("savepoint writes should be rolled back: %+v", ns)
	}
}

func TestStoreClock(t *testing.T) {
	st := openTestStore(t)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return fixed })
	u := mustUser(t, st, 5)
	if !u.CreatedAt.Equal(fixed) {
		t.Fatalf("created_at = %v", u.CreatedAt)
	}
}

func TestUnsentPagingAndPurge(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u := mustUser(t, st, 77)
	old := time.Now().Add(-48 * time.Hour)
	var ids []int64
	for i := 0; i < 3; i++ {
		n, err := st.CreateNotification(ctx, domain.Notification{UserID: u.ID, Message: "m", CreatedAt: old})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	page, err := st.ListUnsentNotifications(ctx, 0, 2)
	if err != nil || len(page) != 2 || page[0].ChatID != 77 {
		t.Fatalf("page = %+v, err %v", page, err)
	}
	rest, _ := st.ListUnsentNotifications(ctx, page[1].ID, 2)
	if len(rest) != 1 || rest[0].ID != ids[2] {
		t.Fatalf("rest = %+v", rest)
	}

	if err := st.MarkNotificationSent(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	n, err := st.DeleteSentNotificationsBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purged = %d, err %v", n, err)
	}
	if c, _ := st.CountUnsentNotifications(ctx); c != 2 {
		t.Fatalf("unsent = %d", c)
	}
}

func TestMarkSentIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	u := mustUser(t, st, 8)
	n, err := st.CreateNotification(ctx, domain.Notification{UserID: u.ID, Message: "m"})
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute)
	if err := st.MarkNotificationSent(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	first, err := st.GetNotification(ctx, n.ID)
	if err != nil || !first.Sent {
		t.Fatalf("after mark = %+v, err %v", first, err)
	}

	now = now.Add(time.Hour)
	if err := st.MarkNotificationSent(ctx, n.ID); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	again, _ := st.GetNotification(ctx, n.ID)
	if !again.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updated_at moved from %v to %v", first.UpdatedAt, again.UpdatedAt)
	}

	if err := st.MarkNotificationSent(ctx, n.ID+100); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing row: %v", err)
	}
}
