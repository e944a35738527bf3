package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/jobqueue"
	"github.com/autopost/internal/orchestrator"
)

// Enqueuer queues runs for the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, args jobqueue.EngagementRunArgs) (int64, error)
}

// Registrar records engagements created by outreach.
type Registrar interface {
	CreateEngagement(ctx context.Context, e *engagement.Engagement) (bool, error)
}

// Options wires the server's collaborators. Queue and Registrar are optional.
type Options struct {
	Port       int
	CronSecret string
	Runner     jobqueue.Runner
	Queue      Enqueuer
	Registrar  Registrar
	// Defaults is the run bundle request fields are layered onto.
	Defaults orchestrator.Options
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())

	server := &Server{echo: e, opts: opts}
	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	api := s.echo.Group("/api", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: s.validateSecret,
	}))
	api.POST("/engagement/run", s.runEngagement)
	if s.opts.Registrar != nil {
		api.POST("/engagements", s.createEngagement)
	}
}

func (s *Server) validateSecret(key string, _ echo.Context) (bool, error) {
	if s.opts.CronSecret == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.CronSecret)) == 1, nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.opts.Port).Msg("api server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

type runRequest struct {
	AccountID               string `json:"accountId"`
	DryRun                  bool   `json:"dryRun"`
	MaxConversationsToCheck int    `json:"maxConversationsToCheck"`
	MaxResponsesToSend      int    `json:"maxResponsesToSend"`
	UseSmartPolling         *bool  `json:"useSmartPolling"`
	// Async queues the run instead of executing it in the request.
	Async bool `json:"async"`
}

func (s *Server) runEngagement(c echo.Context) error {
	var req runRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	if req.Async {
		if s.opts.Queue == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue not configured")
		}
		id, err := s.opts.Queue.Enqueue(c.Request().Context(), jobqueue.EngagementRunArgs{AccountID: req.AccountID, DryRun: req.DryRun})
		if err != nil {
			log.Error().Err(err).Msg("failed to enqueue engagement run")
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue run")
		}
		return c.JSON(http.StatusAccepted, map[string]int64{"jobId": id})
	}

	opts := s.opts.Defaults
	if req.AccountID != "" {
		opts.AccountID = req.AccountID
	}
	if req.DryRun {
		opts.DryRun = true
	}
	if req.MaxConversationsToCheck > 0 {
		opts.MaxConversationsToCheck = req.MaxConversationsToCheck
	}
	if req.MaxResponsesToSend > 0 {
		opts.MaxResponsesToSend = req.MaxResponsesToSend
	}
	if req.UseSmartPolling != nil {
		opts.UseSmartPolling = *req.UseSmartPolling
	}

	// a disconnecting caller must not abort a run halfway through a send
	summary, err := s.opts.Runner.Run(context.WithoutCancel(c.Request().Context()), opts)
	if err != nil {
		log.Error().Err(err).Str("run_id", summary.RunID).Msg("engagement run failed")
		return c.JSON(http.StatusInternalServerError, summary)
	}
	return c.JSON(http.StatusOK, summary)
}

type engagementRequest struct {
	ID                 string `json:"id"`
	AccountID          string `json:"accountId"`
	Platform           string `json:"platform"`
	TargetPostID       string `json:"targetPostId"`
	TargetAuthorID     string `json:"targetAuthorId"`
	TargetAuthorHandle string `json:"targetAuthorHandle"`
	OriginalContent    string `json:"originalContent"`
}

func (s *Server) createEngagement(c echo.Context) error {
	var req engagementRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var missing []string
	for name, v := range map[string]string{"accountId": req.AccountID, "platform": req.Platform, "targetPostId": req.TargetPostID} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return echo.NewHTTPError(http.StatusBadRequest, "missing fields: "+strings.Join(missing, ", "))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	created, err := s.opts.Registrar.CreateEngagement(c.Request().Context(), &engagement.Engagement{
		ID:                 req.ID,
		AccountID:          req.AccountID,
		Platform:           req.Platform,
		TargetPostID:       req.TargetPostID,
		TargetAuthorID:     req.TargetAuthorID,
		TargetAuthorHandle: req.TargetAuthorHandle,
		OriginalContent:    req.OriginalContent,
		Status:             engagement.StatusPending,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create engagement")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create engagement")
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, map[string]any{"id": req.ID, "created": created})
}
