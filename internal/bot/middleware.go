package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/transport"
	logx "appealbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{logx.String("kind", string(req.Kind)), logx.Duration("dur", d)}
			if err != nil {
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				// Short successful requests stay at DEBUG.
				req.Logger.Info("request ok", fields...)
			} else {
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// mwRegister upserts the sender and fills req.User.
func (b *Bot) mwRegister() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			u, err := b.svc.RegisterUser(ctx, req.profile())
			if err != nil {
				return fmt.Errorf("register user: %w", err)
			}
			req.User = u
			return next(ctx, req)
		}
	}
}

func (b *Bot) mwAccess(a Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if a == AccessAdmin && !b.isAdmin(req) {
				req.Logger.Info("access denied")
				if req.Kind == transport.UpdateCallback {
					return b.adapter.AnswerCallback(ctx, req.CallbackID, "Forbidden")
				}
				return b.adapter.SendText(ctx, req.ChatID, "This command is for administrators.")
			}
			return next(ctx, req)
		}
	}
}

// mwReplyErrors tells the user what went wrong and passes err on for
// logging.
func (b *Bot) mwReplyErrors() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := userMessage(err)
			if req.Kind == transport.UpdateCallback {
				_ = b.adapter.AnswerCallback(ctx, req.CallbackID, text)
			} else {
				_ = b.adapter.SendText(ctx, req.ChatID, text)
			}
			return err
		}
	}
}

func userMessage(err error) string {
	var ue usageError
	switch {
	case errors.As(err, &ue):
		return "Usage: " + string(ue)
	case errors.Is(err, domain.ErrNotFound):
		return "Not found."
	case errors.Is(err, domain.ErrForbidden):
		return "You are not allowed to do that."
	case errors.Is(err, domain.ErrConflict):
		return "You already have an active request."
	case errors.Is(err, domain.ErrCommentRequired),
		errors.Is(err, domain.ErrTextTooShort),
		errors.Is(err, domain.ErrTextTooLong),
		errors.Is(err, domain.ErrInvalidContact),
		errors.Is(err, domain.ErrEmptyPosition),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, errFileTooLarge):
		return capitalize(rootCause(err).Error()) + "."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	}
	return "Something went wrong. Please try again later."
}

// usageError carries the usage line of a command invoked with bad args.
type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
