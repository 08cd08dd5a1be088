package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dagbolade/mcp-readonly-gateway/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo   *echo.Echo
	config Config
	kind   string
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Headers         auth.Config
}

func New(cfg Config, d Dispatcher, rec Recorder) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{
		echo:   e,
		config: cfg,
		kind:   d.Kind().String(),
	}

	s.setupMiddleware()
	s.setupRoutes(d, rec)

	return s
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Str("mcp", s.kind).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout

	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("mcp", s.kind).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(auth.NewExtractor(s.config.Headers).Middleware())
}

func (s *Server) setupRoutes(d Dispatcher, rec Recorder) {
	queryHandler := NewQueryHandler(d, rec)

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.POST("/query", queryHandler.HandleQuery)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"mcp":    s.kind,
	})
}

// errorHandler answers routing failures with the gateway's JSON shape. An
// unknown path and a known path with the wrong method are both not found.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			status, code = http.StatusNotFound, "not_found"
		default:
			status = he.Code
			if status < http.StatusInternalServerError {
				code = "bad_request"
			}
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]any{"ok": false, "error": code})
	}
	if err != nil {
		log.Warn().Err(err).Msg("write error response")
	}
}
