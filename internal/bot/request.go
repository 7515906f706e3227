package bot

import (
	"context"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/transport"
	logx "appealbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

// Request is one routed update. User is filled by the registration
// middleware before the handler runs.
type Request struct {
	Kind      transport.UpdateKind
	ChatID    int64
	MessageID int
	From      transport.Sender
	User      domain.User

	// Command is the command word without slash or @botname. Args are the
	// whitespace separated words after it and ArgText the raw remainder.
	Command  string
	Args     []string
	ArgText  string
	Document *transport.Document

	// Callback fields. Payload is the third colon separated part.
	CallbackID string
	Payload    string

	ReqID  string
	Logger logx.Logger
}

func (r *Request) profile() domain.TelegramProfile {
	return domain.TelegramProfile{
		ID:        r.From.ID,
		Username:  r.From.Username,
		FirstName: r.From.FirstName,
		LastName:  r.From.LastName,
	}
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles "<prefix>:<action>:<payload>" button data.
type CallbackRoute struct {
	Prefix  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  func(ctx context.Context, req *Request, payload string) error
}
