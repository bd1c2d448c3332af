package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyra/logan/internal/report"
)

const maxLimit = 1000

var errBadRequest = errors.New("bad request")

func (s *Server) stats(c *gin.Context) {
	respond(c, s, "stats", func(ctx context.Context) (report.Stats, error) {
		return s.reports.Stats(ctx)
	})
}

func (s *Server) topIPs(c *gin.Context) {
	n, err := intParam(c, "limit", 0, maxLimit)
	if err != nil {
		fail(c, s, err)
		return
	}
	respond(c, s, fmt.Sprintf("top-ips:%d", n), func(ctx context.Context) ([]report.IPCount, error) {
		return s.reports.TopIPs(ctx, n)
	})
}

func (s *Server) statusCodes(c *gin.Context) {
	respond(c, s, "status-codes", s.reports.StatusCodes)
}

func (s *Server) hourly(c *gin.Context) {
	respond(c, s, "hourly", s.reports.Hourly)
}

func (s *Server) daily(c *gin.Context) {
	days, err := intParam(c, "days", 0, 3660)
	if err != nil {
		fail(c, s, err)
		return
	}
	respond(c, s, fmt.Sprintf("daily:%d", days), func(ctx context.Context) ([]report.DayCount, error) {
		return s.reports.Daily(ctx, days)
	})
}

func (s *Server) resources(c *gin.Context) {
	n, err := intParam(c, "limit", 0, maxLimit)
	if err != nil {
		fail(c, s, err)
		return
	}
	respond(c, s, fmt.Sprintf("resources:%d", n), func(ctx context.Context) ([]report.ResourceStat, error) {
		return s.reports.Resources(ctx, n)
	})
}

func (s *Server) errorStats(c *gin.Context) {
	respond(c, s, "errors", s.reports.Errors)
}

func (s *Server) heatmap(c *gin.Context) {
	respond(c, s, "heatmap", s.reports.Heatmap)
}

func (s *Server) summary(c *gin.Context) {
	respond(c, s, "summary", s.reports.Summary)
}

// logs is not cached: filters make every response distinct.
func (s *Server) logs(c *gin.Context) {
	var (
		f   report.Filter
		err error
	)
	f.IP = c.Query("ip")
	f.Method = c.Query("method")
	if f.Status, err = intParam(c, "status", 0, 999); err != nil {
		fail(c, s, err)
		return
	}
	if f.Limit, err = intParam(c, "limit", 0, maxLimit); err != nil {
		fail(c, s, err)
		return
	}
	if f.From, err = timeParam(c, "from"); err != nil {
		fail(c, s, err)
		return
	}
	if f.To, err = timeParam(c, "to"); err != nil {
		fail(c, s, err)
		return
	}

	entries, err := s.reports.Query(c.Request.Context(), f)
	if err != nil {
		fail(c, s, err)
		return
	}
	if entries == nil {
		entries = []report.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "logs": entries})
}

func respond[T any](c *gin.Context, s *Server, key string, load func(context.Context) (T, error)) {
	v, err := report.Cached(c.Request.Context(), s.cache, key, load)
	if err != nil {
		fail(c, s, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func fail(c *gin.Context, s *Server, err error) {
	if errors.Is(err, errBadRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intParam(c *gin.Context, name string, lo, hi int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", errBadRequest, name, lo, hi)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or a bare date, read as UTC midnight.
func timeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", errBadRequest, name)
}
