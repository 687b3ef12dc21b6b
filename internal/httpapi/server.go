// Package httpapi serves the read-only view of ingestion runs, duplicate
// pairs and the latest trending stories.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/news"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Store is the read side the API needs.
type Store interface {
	Ping(ctx context.Context) error
	LatestStoryRun(ctx context.Context) (*news.StoryRun, error)
	ListIngestRuns(ctx context.Context, limit int) ([]news.IngestRun, error)
	ListDuplicatePairs(ctx context.Context, since time.Time, limit int) ([]news.DuplicatePair, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// PingTimeout bounds the store check behind /healthz.
	PingTimeout time.Duration
}

type Server struct {
	store  Store
	clock  clock.Clock
	logger zerolog.Logger
	opts   Options
}

func NewServer(store Store, clk clock.Clock, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	opts.Host = host
	if clk == nil {
		clk = clock.System
	}

	return &Server{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "httpapi").Logger(),
		opts:   opts,
	}
}

// Handler builds the echo router with every route and middleware.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api/v1")
	api.GET("/stories/latest", s.handleLatestStories)
	api.GET("/ingest/runs", s.handleIngestRuns)
	api.GET("/duplicates", s.handleDuplicates)
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("newsradar api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newsradar api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = serverError(c, status, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.PingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("store ping failed")
		return serverError(c, http.StatusServiceUnavailable, "Store unreachable")
	}
	return success(c, map[string]any{
		"service": "newsradar",
		"time":    s.clock.Now().UTC(),
	})
}

func (s *Server) handleLatestStories(c echo.Context) error {
	run, err := s.store.LatestStoryRun(c.Request().Context())
	if errors.Is(err, news.ErrNotFound) {
		return failNotFound(c, "No story run recorded yet")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest story run failed")
		return serverError(c, http.StatusInternalServerError, "Failed to load stories")
	}
	return success(c, run)
}

func (s *Server) handleIngestRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	runs, err := s.store.ListIngestRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list ingest runs failed")
		return serverError(c, http.StatusInternalServerError, "Failed to load ingest runs")
	}
	if runs == nil {
		runs = []news.IngestRun{}
	}
	return success(c, map[string]any{
		"items": runs,
		"limit": limit,
	})
}

func (s *Server) handleDuplicates(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	since := s.clock.Now().Add(-24 * time.Hour)
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		parsed, err := parseTimeFilter(raw)
		if err != nil {
			return failValidation(c, map[string]string{"since": "must be RFC3339 or YYYY-MM-DD"})
		}
		since = parsed
	}

	pairs, err := s.store.ListDuplicatePairs(c.Request().Context(), since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list duplicate pairs failed")
		return serverError(c, http.StatusInternalServerError, "Failed to load duplicates")
	}
	if pairs == nil {
		pairs = []news.DuplicatePair{}
	}
	return success(c, map[string]any{
		"items": pairs,
		"since": since.UTC(),
		"limit": limit,
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return day.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
