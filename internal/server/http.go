// Package server provides the HTTP API over the data gateway.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datacache/config"
	"datacache/internal/monitor"
	"datacache/internal/service"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options.
type Config struct {
	// MetricsEnabled exposes the Prometheus endpoint at /metrics.
	MetricsEnabled bool

	// BodySizeLimit caps request bodies, e.g. "1M".
	BodySizeLimit string

	// Monitor, when present, backs the alerts section of /v1/stats.
	Monitor *monitor.Monitor

	// UpdateProvider registers or replaces a provider at runtime.
	UpdateProvider func(cfg config.ProviderConfig) error

	// RemoveProvider removes a provider from the routing table.
	RemoveProvider func(name string) bool
}

// New creates an HTTP server over the gateway service.
func New(svc *service.Service, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(svc, cfg)

	e.Use(middleware.Recover())
	e.Use(requestLogger())
	if cfg.BodySizeLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodySizeLimit))
	}

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.POST("/v1/data", handler.GetData)
	e.POST("/v1/data/batch", handler.GetBatch)
	e.POST("/v1/warm", handler.Warm)
	e.GET("/v1/stats", handler.Stats)
	e.GET("/v1/report", handler.Report)
	e.GET("/v1/export", handler.Export)
	e.PUT("/v1/providers/:name", handler.PutProvider)
	e.DELETE("/v1/providers/:name", handler.DeleteProvider)
	e.DELETE("/v1/cache", handler.InvalidateCache)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address. Blocks until the
// server stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server works with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
