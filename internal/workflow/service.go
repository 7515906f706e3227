package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/eventbus"
	"appealbot/internal/files"
	"appealbot/internal/storage"
	logx "appealbot/pkg/logx"
)

type Service struct {
	store *storage.Store
	obs   *Observer
	files *files.Store
	rules atomic.Pointer[domain.AppealRules]
	bus   eventbus.Bus
	log   logx.Logger
}

type Options struct {
	Store    *storage.Store
	Observer *Observer
	Files    *files.Store
	Rules    domain.AppealRules
	Bus      eventbus.Bus
	Log      logx.Logger
}

func NewService(o Options) *Service {
	if o.Bus == nil {
		o.Bus = eventbus.Nop()
	}
	if o.Observer == nil {
		o.Observer = NewObserver(o.Log, nil)
	}
	s := &Service{store: o.Store, obs: o.Observer, files: o.Files, bus: o.Bus, log: o.Log}
	s.SetRules(o.Rules)
	return s
}

// StatusChange is the payload of eventbus.TopicStatusChanged.
type StatusChange struct {
	Entity string
	ID     int64
	From   string
	To     string
}

// SetRules replaces the appeal text limits (config reload).
func (s *Service) SetRules(r domain.AppealRules) { s.rules.Store(&r) }

// RegisterUser records or refreshes a Telegram user.
func (s *Service) RegisterUser(ctx context.Context, p domain.TelegramProfile) (domain.User, error) {
	return s.store.UpsertUser(ctx, p)
}

// UpdateAppealStatus moves an appeal to status. Setting the current status
// again is a no-op.
func (s *Service) UpdateAppealStatus(ctx context.Context, id int64, status domain.AppealStatus) (domain.Appeal, error) {
	if !status.Valid() {
		return domain.Appeal{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	var (
		a    domain.Appeal
		prev domain.AppealStatus
		n    *domain.Notification
	)
	err := s.store.InTx(ctx, func(tx *storage.Queries) error {
		var err error
		a, err = tx.GetAppealForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev = a.Status
		if prev == status {
			return nil
		}
		if err := tx.SetAppealStatus(ctx, id, status); err != nil {
			return err
		}
		a.Status = status
		n = s.obs.OnStatusChanged(ctx, tx, a, string(prev))
		return nil
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	if prev != status {
		s.log.Info("appeal status changed", logx.Int64("appeal_id", id), logx.String("from", string(prev)), logx.String("to", string(status)))
		s.publishChange("appeal", id, string(prev), string(status), n)
	}
	return a, nil
}

// UpdateAdminRequestStatus applies an admin decision. Approval grants the
// admin flag and rejection clears it, in the same transaction as the
// status write. Rejecting requires a comment.
func (s *Service) UpdateAdminRequestStatus(ctx context.Context, id int64, status domain.AdminRequestStatus, comment string) (domain.AdminRequest, error) {
	if !status.Valid() {
		return domain.AdminRequest{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	comment = strings.TrimSpace(comment)
	if status == domain.AdminRequestRejected && comment == "" {
		return domain.AdminRequest{}, domain.ErrCommentRequired
	}
	var (
		r    domain.AdminRequest
		prev domain.AdminRequestStatus
		n    *domain.Notification
	)
	err := s.store.InTx(ctx, func(tx *storage.Queries) error {
		var err error
		r, err = tx.GetAdminRequest(ctx, id)
		if err != nil {
			return err
		}
		prev = r.Status
		if prev == status && r.Comment == comment {
			return nil
		}
		if err := tx.SetAdminRequestStatus(ctx, id, status, comment); err != nil {
			return err
		}
		switch status {
		case domain.AdminRequestApproved:
			err = tx.SetUserAdmin(ctx, r.UserID, true)
		case domain.AdminRequestRejected:
			err = tx.SetUserAdmin(ctx, r.UserID, false)
		}
		if err != nil {
			return err
		}
		r.Status, r.Comment = status, comment
		n = s.obs.OnStatusChanged(ctx, tx, r, string(prev))
		return nil
	})
	if err != nil {
		return domain.AdminRequest{}, err
	}
	if prev != status {
		s.log.Info("admin request status changed", logx.Int64("request_id", id), logx.String("from", string(prev)), logx.String("to", string(status)))
		s.publishChange("admin_request", id, string(prev), string(status), n)
	}
	return r, nil
}

// RevokeAdminRequest deletes the request and strips admin rights. The
// notice is queued first because the request row is its context.
func (s *Service) RevokeAdminRequest(ctx context.Context, id int64) error {
	var (
		r domain.AdminRequest
		n *domain.Notification
	)
	err := s.store.InTx(ctx, func(tx *storage.Queries) error {
		var err error
		r, err = tx.GetAdminRequest(ctx, id)
		if err != nil {
			return err
		}
		n = s.obs.OnRevoked(ctx, tx, r)
		if err := tx.SetUserAdmin(ctx, r.UserID, false); err != nil {
			return err
		}
		return tx.DeleteAdminRequest(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("admin rights revoked", logx.Int64("request_id", id), logx.Int64("user_id", r.UserID))
	s.publishChange("admin_request", id, string(r.Status), "revoked", n)
	return nil
}

// SubmitAdminRequest files a new request. A user keeps at most one: a
// rejected request is replaced, a pending or approved one is a conflict.
func (s *Service) SubmitAdminRequest(ctx context.Context, userID int64, position string) (domain.AdminRequest, error) {
	position = strings.TrimSpace(position)
	if position == "" {
		return domain.AdminRequest{}, domain.ErrEmptyPosition
	}
	var r domain.AdminRequest
	err := s.store.InTx(ctx, func(tx *storage.Queries) error {
		existing, err := tx.GetAdminRequestByUser(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case existing.Status == domain.AdminRequestRejected:
			if err := tx.DeleteAdminRequest(ctx, existing.ID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("admin request #%d is %s: %w", existing.ID, existing.Status, domain.ErrConflict)
		}
		r, err = tx.CreateAdminRequest(ctx, userID, position)
		return err
	})
	if err != nil {
		return domain.AdminRequest{}, err
	}
	s.log.Info("admin request submitted", logx.Int64("request_id", r.ID), logx.Int64("user_id", userID))
	return r, nil
}

type AppealInput struct {
	UserID       int64
	CommissionID *int64
	Text         string
	ContactInfo  string
	// FilePath is relative to the attachment dir.
	FilePath string
}

func (s *Service) SubmitAppeal(ctx context.Context, in AppealInput) (domain.Appeal, error) {
	if err := s.rules.Load().ValidateText(in.Text); err != nil {
		return domain.Appeal{}, err
	}
	if err := domain.ValidateContact(in.ContactInfo); err != nil {
		return domain.Appeal{}, err
	}
	if in.CommissionID != nil {
		if _, err := s.store.GetCommission(ctx, *in.CommissionID); err != nil {
			return domain.Appeal{}, err
		}
	}
	a, err := s.store.CreateAppeal(ctx, domain.Appeal{
		UserID:       in.UserID,
		CommissionID: in.CommissionID,
		Text:         strings.TrimSpace(in.Text),
		ContactInfo:  strings.TrimSpace(in.ContactInfo),
		FilePath:     in.FilePath,
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	s.log.Info("appeal submitted", logx.Int64("appeal_id", a.ID), logx.Int64("user_id", in.UserID))
	return a, nil
}

// DeleteAppeal removes an appeal owned by actor (admins may delete any).
// Its notifications go with it; the attachment is removed after commit.
func (s *Service) DeleteAppeal(ctx context.Context, id int64, actor domain.User) error {
	var path string
	err := s.store.InTx(ctx, func(tx *storage.Queries) error {
		a, err := tx.GetAppealForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin && a.UserID != actor.ID {
			return fmt.Errorf("appeal #%d: %w", id, domain.ErrForbidden)
		}
		path, err = tx.DeleteAppeal(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.removeFiles(path)
	s.log.Info("appeal deleted", logx.Int64("appeal_id", id), logx.Int64("actor_id", actor.ID))
	return nil
}

// DeleteUser removes the user with everything they own.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	paths, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	s.removeFiles(paths...)
	s.log.Info("user deleted", logx.Int64("user_id", id), logx.Int("files", len(paths)))
	return nil
}

func (s *Service) removeFiles(paths ...string) {
	if s.files == nil {
		return
	}
	if err := s.files.Remove(paths...); err != nil {
		s.log.Warn("attachment cleanup failed", logx.Err(err))
	}
}

func (s *Service) publishChange(entity string, id int64, from, to string, n *domain.Notification) {
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicStatusChanged, Time: now, Data: StatusChange{Entity: entity, ID: id, From: from, To: to}})
	if n != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicNotificationCreated, Time: now, Data: *n})
	}
}
