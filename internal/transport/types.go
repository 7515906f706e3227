// Package transport defines the chat-platform boundary: inbound updates,
// outbound send options, and the Adapter that moves them.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Sender identifies who produced an update.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Message struct {
	ID       int
	ChatID   int64
	From     Sender
	Text     string
	Private  bool
	Document *Document
}

// Document is an attachment the user sent (file or photo).
type Document struct {
	FileID   string
	FileName string
	Size     int64
}

type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	From      Sender
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button. Exactly one of Data or WebAppURL
// is set.
type Button struct {
	Text      string
	Data      string
	WebAppURL string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Keyboard rows, rendered as an inline keyboard.
	Keyboard [][]Button
}

// TextSender is the minimal outbound capability. The notification
// dispatcher and the log alert sink only need this.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Messenger covers everything the bot front end does to chats.
type Messenger interface {
	TextSender
	Send(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Download(ctx context.Context, fileID, dst string) error
}

// Adapter is a running connection to the chat platform.
type Adapter interface {
	Messenger
	// Start begins receiving updates into out and returns once receiving is
	// under way. A failure here is fatal for the process.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the chat client's command menu.
type BotCommand struct {
	Command     string
	Description string
}
