// Package runshttp serves a read-only HTTP view over run history.
package runshttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"qtrader/internal/logger"
	"qtrader/internal/report"
	"qtrader/internal/store/runs"

	"github.com/gin-gonic/gin"
)

// RunReader is the query side of *runs.Store.
type RunReader interface {
	List(ctx context.Context, limit int) ([]runs.Run, error)
	Get(ctx context.Context, id string) (runs.Run, error)
	Trace(ctx context.Context, id string) ([]float64, error)
}

// StatusFunc reports the live loop state for /api/status.
type StatusFunc func() any

type Config struct {
	Addr      string
	Runs      RunReader
	Status    StatusFunc
	SMAPeriod int
}

type Server struct {
	addr      string
	runs      RunReader
	status    StatusFunc
	smaPeriod int
	router    *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run reader cannot be empty")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		runs:      cfg.Runs,
		status:    cfg.Status,
		smaPeriod: cfg.SMAPeriod,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trace", s.handleRunTrace)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"status": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.status()})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	list, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": list})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrace(c *gin.Context) {
	id := c.Param("id")
	trace, err := s.runs.Trace(c.Request.Context(), id)
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "trace": trace})
}

func (s *Server) handleRunChart(c *gin.Context) {
	id := c.Param("id")
	trace, err := s.runs.Trace(c.Request.Context(), id)
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	if len(trace) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "run has no evaluation trace"})
		return
	}
	html, err := report.RenderChart(trace, report.Chart{
		Subtitle:  fmt.Sprintf("run %s", id),
		SMAPeriod: s.smaPeriod,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, runs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
