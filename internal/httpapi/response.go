package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"appealbot/internal/domain"
	"appealbot/internal/session"
	logx "appealbot/pkg/logx"
)

// Stable error codes of the JSON error envelope.
const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeInternal     = "internal"
)

type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		loggerFrom(c).Error("api error", logx.Int("status", status), logx.String("code", code), logx.String("message", msg))
	}
	c.AbortWithStatusJSON(status, errorResponse{
		RequestID: c.Writer.Header().Get(requestIDHeader),
		Code:      code,
		Message:   msg,
	})
}

// failErr maps domain and session errors to HTTP statuses.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fail(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		fail(c, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, session.ErrTokenNotFound):
		fail(c, http.StatusForbidden, codeForbidden, "token is invalid or expired")
	case errors.Is(err, domain.ErrConflict):
		fail(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrCommentRequired),
		errors.Is(err, domain.ErrTextTooShort),
		errors.Is(err, domain.ErrTextTooLong),
		errors.Is(err, domain.ErrInvalidContact),
		errors.Is(err, domain.ErrEmptyPosition):
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		loggerFrom(c).Error("request failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

type userJSON struct {
	ID         int64  `json:"user_id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsAdmin    bool   `json:"is_admin"`
}

func toUserJSON(u domain.User) userJSON {
	return userJSON{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsAdmin:    u.IsAdmin,
	}
}

type appealJSON struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	CommissionID   *int64 `json:"commission_id"`
	CommissionName string `json:"commission_name,omitempty"`
	Text           string `json:"appeal_text"`
	ContactInfo    string `json:"contact_info,omitempty"`
	HasFile        bool   `json:"has_file"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toAppealJSON(a domain.Appeal) appealJSON {
	return appealJSON{
		ID:             a.ID,
		UserID:         a.UserID,
		CommissionID:   a.CommissionID,
		CommissionName: a.CommissionName,
		Text:           a.Text,
		ContactInfo:    a.ContactInfo,
		HasFile:        a.FilePath != "",
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt.Format(timeLayout),
		UpdatedAt:      a.UpdatedAt.Format(timeLayout),
	}
}

type adminRequestJSON struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Position  string `json:"position"`
	Status    string `json:"status"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toAdminRequestJSON(r domain.AdminRequest) adminRequestJSON {
	return adminRequestJSON{
		ID:        r.ID,
		UserID:    r.UserID,
		Position:  r.Position,
		Status:    string(r.Status),
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt.Format(timeLayout),
	}
}
