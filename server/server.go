// Package server exposes a small ops API next to the scheduler: health,
// current cycle state, a manual trigger, archive lookups and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"auto_telegram_post_publisher/archive"
	"auto_telegram_post_publisher/logging"
	"auto_telegram_post_publisher/pipeline"
	"auto_telegram_post_publisher/scheduler"
)

// Runner is the orchestrator as seen by the API.
type Runner interface {
	Execute(ctx context.Context) (pipeline.Result, error)
	State() pipeline.State
	Waiting() int
	LastResult() (pipeline.Result, bool)
}

// Archive answers similarity queries.
type Archive interface {
	Similar(ctx context.Context, query string, k int) ([]archive.Match, error)
}

// Schedule lists upcoming firings; optional.
type Schedule interface {
	Entries() []scheduler.Entry
}

// Options wires the optional parts of the server.
type Options struct {
	Archive  Archive
	Schedule Schedule
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *logging.Logger
}

type Server struct {
	runner   Runner
	archive  Archive
	schedule Schedule
	metrics  http.Handler
	logger   *logging.Logger
	started  time.Time
}

func New(runner Runner, opts Options) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Server{
		runner:   runner,
		archive:  opts.Archive,
		schedule: opts.Schedule,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("server"),
		started:  time.Now(),
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logMiddleware())

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	api := r.Group("/api")
	{
		api.POST("/cycles", s.handleRunCycle)
		api.GET("/archive/similar", s.handleSimilar)
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// --- Handlers ---

type resultView struct {
	pipeline.Result
	Error string `json:"error,omitempty"`
}

func viewOf(r pipeline.Result) resultView {
	return resultView{Result: r, Error: r.Failure()}
}

type statusResp struct {
	State      pipeline.State    `json:"state"`
	Waiting    int               `json:"waiting"`
	UptimeSec  int64             `json:"uptime_seconds"`
	LastResult *resultView       `json:"last_result,omitempty"`
	Schedule   []scheduler.Entry `json:"schedule,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResp{
		State:     s.runner.State(),
		Waiting:   s.runner.Waiting(),
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	if last, ok := s.runner.LastResult(); ok {
		v := viewOf(last)
		resp.LastResult = &v
	}
	if s.schedule != nil {
		resp.Schedule = s.schedule.Entries()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunCycle(c *gin.Context) {
	// 周期一旦开始就不跟随请求取消，避免发布到一半中断
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := s.runner.Execute(ctx)
	status := http.StatusOK
	if err != nil {
		s.logger.Warnf("manual cycle %s failed: %v", res.CycleID, err)
		status = http.StatusBadGateway
	}
	c.JSON(status, viewOf(res))
}

func (s *Server) handleSimilar(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not configured"})
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	k := archive.DefaultK
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
			return
		}
		k = n
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	matches, err := s.archive.Similar(ctx, q, k)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// --- Helpers ---

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Infof("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
