package adapter

import (
	"errors"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"appealbot/internal/transport"
)

// Errors after which a chat will never accept messages from the bot again.
var permanentErrs = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrNotStartedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
}

// classify marks unreachable-recipient failures as permanent. Flood
// control, network errors, timeouts and 5xx stay transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, p := range permanentErrs {
		if errors.Is(err, p) {
			return transport.Permanent(err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return transport.Permanent(err)
	}
	// Descriptions telebot does not know come back as "telegram: <desc> (<code>)".
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "(403)") || strings.Contains(msg, "chat not found") || strings.Contains(msg, "user is deactivated") {
		return transport.Permanent(err)
	}
	return err
}
