package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"appealbot/internal/domain"
	"appealbot/internal/storage"
	logx "appealbot/pkg/logx"
)

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		loggerFrom(c).Warn("health: database ping failed", logx.Err(err))
		body["status"] = "degraded"
		body["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.health != nil {
		body["tasks"] = s.health()
	}
	c.JSON(status, body)
}

// requireServiceToken guards internal routes with "Authorization: Bearer".
func (s *Server) requireServiceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			fail(c, http.StatusNotFound, codeNotFound, "route not found")
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			fail(c, http.StatusUnauthorized, codeUnauthorized, "invalid service token")
			return
		}
		c.Next()
	}
}

// requireSession resolves X-Session-Token to a registered user.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := c.GetHeader(sessionHeader)
		if tok == "" {
			fail(c, http.StatusUnauthorized, codeUnauthorized, sessionHeader+" header is required")
			return
		}
		u, err := s.userByToken(c.Request.Context(), tok)
		if err != nil {
			failErr(c, err)
			return
		}
		c.Set(ctxUser, u)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).IsAdmin {
			fail(c, http.StatusForbidden, codeForbidden, "administrators only")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.Get(ctxUser)
	user, _ := u.(domain.User)
	return user
}

func (s *Server) userByToken(ctx context.Context, tok string) (domain.User, error) {
	chatID, err := s.issuer.Resolve(ctx, tok)
	if err != nil {
		return domain.User{}, err
	}
	return s.store.GetUserByTelegramID(ctx, chatID)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, codeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

type issueTokenRequest struct {
	TelegramID int64 `json:"telegram_id" binding:"required"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "telegram_id is required")
		return
	}
	tok, err := s.issuer.Issue(c.Request.Context(), req.TelegramID)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

func (s *Server) userData(c *gin.Context) {
	u, err := s.userByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserJSON(u))
}

func (s *Server) logout(c *gin.Context) {
	raw := c.Query("telegram_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "telegram_id is required")
		return
	}
	if err := s.issuer.Revoke(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) listCommissions(c *gin.Context) {
	list, err := s.store.ListCommissions(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, cm := range list {
		out = append(out, gin.H{"id": cm.ID, "name": cm.Name, "description": cm.Description})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) myAppeals(c *gin.Context) {
	s.writeAppeals(c, storage.AppealFilter{UserID: currentUser(c).ID})
}

func (s *Server) listAppeals(c *gin.Context) {
	f := storage.AppealFilter{Status: domain.AppealStatus(c.Query("status"))}
	if f.Status != "" && !f.Status.Valid() {
		fail(c, http.StatusBadRequest, codeBadRequest, "unknown status")
		return
	}
	s.writeAppeals(c, f)
}

func (s *Server) writeAppeals(c *gin.Context, f storage.AppealFilter) {
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := s.store.ListAppeals(c.Request.Context(), f)
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]appealJSON, 0, len(list))
	for _, a := range list {
		out = append(out, toAppealJSON(a))
	}
	c.JSON(http.StatusOK, out)
}

// deleteAppeal serves both the owner and the admin route; the workflow
// decides whether the caller may delete.
func (s *Server) deleteAppeal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteAppeal(c.Request.Context(), id, currentUser(c)); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type adminRequestBody struct {
	Position string `json:"position"`
}

func (s *Server) submitAdminRequest(c *gin.Context) {
	var body adminRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	r, err := s.svc.SubmitAdminRequest(c.Request.Context(), currentUser(c).ID, body.Position)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAdminRequestJSON(r))
}

type statusBody struct {
	Status  string `json:"status" binding:"required"`
	Comment string `json:"comment"`
}

func (s *Server) updateAppealStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "status is required")
		return
	}
	a, err := s.svc.UpdateAppealStatus(c.Request.Context(), id, domain.AppealStatus(body.Status))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppealJSON(a))
}

func (s *Server) listAdminRequests(c *gin.Context) {
	status := domain.AdminRequestStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, codeBadRequest, "unknown status")
		return
	}
	list, err := s.store.ListAdminRequests(c.Request.Context(), status)
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]adminRequestJSON, 0, len(list))
	for _, r := range list {
		out = append(out, toAdminRequestJSON(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) updateAdminRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "status is required")
		return
	}
	r, err := s.svc.UpdateAdminRequestStatus(c.Request.Context(), id, domain.AdminRequestStatus(body.Status), body.Comment)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toAdminRequestJSON(r))
}

func (s *Server) revokeAdminRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.RevokeAdminRequest(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
