package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/report"
)

// Reports is the read side the API serves. *report.Reporter implements it.
type Reports interface {
	Stats(ctx context.Context) (report.Stats, error)
	TopIPs(ctx context.Context, n int) ([]report.IPCount, error)
	StatusCodes(ctx context.Context) ([]report.StatusCount, error)
	Hourly(ctx context.Context) ([]report.HourCount, error)
	Daily(ctx context.Context, days int) ([]report.DayCount, error)
	Resources(ctx context.Context, n int) ([]report.ResourceStat, error)
	Errors(ctx context.Context) ([]report.ErrorStat, error)
	Heatmap(ctx context.Context) (*report.Heatmap, error)
	Summary(ctx context.Context) (*report.Summary, error)
	Query(ctx context.Context, f report.Filter) ([]report.Entry, error)
}

// Server exposes reports as read-only JSON endpoints.
type Server struct {
	addr    string
	reports Reports
	cache   *report.Cache
	logger  *logging.Logger
	engine  *gin.Engine
}

// NewServer builds the router. cache may be nil.
func NewServer(cfg config.ServerConfig, reports Reports, cache *report.Cache, logger *logging.Logger) *Server {
	s := &Server{
		addr:    cfg.Addr,
		reports: reports,
		cache:   cache,
		logger:  logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	cc := cors.Config{
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) > 0 {
		cc.AllowOrigins = cfg.CORSOrigins
	} else {
		cc.AllowAllOrigins = true
	}
	r.Use(cors.New(cc))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := r.Group("/api")
	{
		g.GET("/stats", s.stats)
		g.GET("/top-ips", s.topIPs)
		g.GET("/status-codes", s.statusCodes)
		g.GET("/hourly", s.hourly)
		g.GET("/daily", s.daily)
		g.GET("/resources", s.resources)
		g.GET("/errors", s.errorStats)
		g.GET("/heatmap", s.heatmap)
		g.GET("/summary", s.summary)
		g.GET("/logs", s.logs)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infof("report API listening on %s", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debugf("[%s] %s %s %d %v",
			c.Request.Method,
			c.ClientIP(),
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
