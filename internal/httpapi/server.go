// Package httpapi serves the web-app bridge: token exchange, the user's
// own appeals, admin decisions, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"appealbot/internal/metrics"
	"appealbot/internal/observability/pprof"
	rtsup "appealbot/internal/runtime/supervisor"
	"appealbot/internal/session"
	"appealbot/internal/storage"
	"appealbot/internal/workflow"
	logx "appealbot/pkg/logx"
)

type Config struct {
	Addr        string
	CORSOrigins []string
	// AdminToken guards POST /api/v1/tokens and the profiling routes.
	// Empty disables both.
	AdminToken string
	Pprof      bool
}

type Deps struct {
	Service  *workflow.Service
	Store    *storage.Store
	Issuer   *session.Issuer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Health reports background task state for /healthz.
	Health func() []rtsup.TaskStats
	Log    logx.Logger
}

type Server struct {
	cfg    Config
	svc    *workflow.Service
	store  *storage.Store
	issuer *session.Issuer
	health func() []rtsup.TaskStats
	log    logx.Logger

	engine *gin.Engine
}

func New(cfg Config, d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:    cfg,
		svc:    d.Service,
		store:  d.Store,
		issuer: d.Issuer,
		health: d.Health,
		log:    d.Log.Component("http"),
		engine: gin.New(),
	}
	s.routes(d.Metrics, d.Gatherer)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(m *metrics.Metrics, g prometheus.Gatherer) {
	r := s.engine
	r.HandleMethodNotAllowed = true

	r.Use(requestID(s.log), accessLog(), recovery(), limitBody(1<<20), observe(m))
	r.Use(cors.New(s.corsConfig()))

	r.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, codeNotFound, "route not found") })
	r.NoMethod(func(c *gin.Context) { fail(c, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed") })

	r.GET("/healthz", s.healthz)
	if g != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}

	if s.cfg.Pprof {
		pprof.Mount(r, pprof.DefaultPrefix, s.requireServiceToken())
	}

	api := r.Group("/api/v1")
	api.POST("/tokens", s.requireServiceToken(), s.issueToken)
	api.GET("/user-data/:token", s.userData)
	api.POST("/logout", s.logout)
	api.GET("/commissions", s.listCommissions)

	user := api.Group("/user", s.requireSession())
	user.GET("/appeals", s.myAppeals)
	user.DELETE("/appeals/:id", s.deleteAppeal)
	user.POST("/admin-request", s.submitAdminRequest)

	admin := api.Group("/admin", s.requireSession(), requireAdmin())
	admin.GET("/appeals", s.listAppeals)
	admin.PUT("/appeals/:id/status", s.updateAppealStatus)
	admin.DELETE("/appeals/:id", s.deleteAppeal)
	admin.GET("/admin-requests", s.listAdminRequests)
	admin.PUT("/admin-requests/:id", s.updateAdminRequest)
	admin.DELETE("/admin-requests/:id", s.revokeAdminRequest)
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", sessionHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.CORSOrigins
	}
	return cfg
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http stopped")
	return nil
}
