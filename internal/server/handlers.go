package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"datacache/config"
	"datacache/internal/core"
	"datacache/internal/monitor"
	"datacache/internal/service"
)

// Handler holds the HTTP handlers.
type Handler struct {
	svc            *service.Service
	monitor        *monitor.Monitor
	updateProvider func(cfg config.ProviderConfig) error
	removeProvider func(name string) bool
}

// NewHandler creates a handler over the gateway service.
func NewHandler(svc *service.Service, cfg Config) *Handler {
	return &Handler{
		svc:            svc,
		monitor:        cfg.Monitor,
		updateProvider: cfg.UpdateProvider,
		removeProvider: cfg.RemoveProvider,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	health := h.svc.HealthCheck()
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

// GetData handles POST /v1/data.
func (h *Handler) GetData(c echo.Context) error {
	var req core.DataRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}

	resp, err := h.svc.GetData(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type batchRequest struct {
	Requests []*core.DataRequest `json:"requests"`
}

// GetBatch handles POST /v1/data/batch.
func (h *Handler) GetBatch(c echo.Context) error {
	var body batchRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}
	if len(body.Requests) == 0 {
		return handleError(c, core.NewInvalidRequestError("requests must not be empty"))
	}

	results := h.svc.GetBatch(c.Request().Context(), body.Requests)
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// Warm handles POST /v1/warm.
func (h *Handler) Warm(c echo.Context) error {
	var body batchRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}

	warmed := h.svc.WarmCache(c.Request().Context(), body.Requests)
	return c.JSON(http.StatusOK, map[string]any{
		"warmed":    warmed,
		"requested": len(body.Requests),
	})
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(c echo.Context) error {
	out := map[string]any{
		"metrics": h.svc.Metrics(),
	}
	if h.monitor != nil {
		out["alerts"] = h.monitor.ActiveAlerts()
	}
	return c.JSON(http.StatusOK, out)
}

// Report handles GET /v1/report?period=24h.
func (h *Handler) Report(c echo.Context) error {
	period, err := parsePeriod(c.QueryParam("period"))
	if err != nil {
		return handleError(c, err)
	}

	report, err := h.svc.OptimizationReport(c.Request().Context(), period)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// Export handles GET /v1/export?format=json|csv&period=24h.
func (h *Handler) Export(c echo.Context) error {
	format := service.ExportFormat(c.QueryParam("format"))
	if format == "" {
		format = service.ExportJSON
	}
	period, err := parsePeriod(c.QueryParam("period"))
	if err != nil {
		return handleError(c, err)
	}

	data, err := h.svc.ExportMetrics(c.Request().Context(), format, period)
	if err != nil {
		return handleError(c, err)
	}

	contentType := echo.MIMEApplicationJSON
	if format == service.ExportCSV {
		contentType = "text/csv"
	}
	return c.Blob(http.StatusOK, contentType, data)
}

// PutProvider handles PUT /v1/providers/:name, registering or replacing a
// provider without restarting the process.
func (h *Handler) PutProvider(c echo.Context) error {
	if h.updateProvider == nil {
		return handleError(c, core.NewInvalidRequestError("provider updates are not enabled"))
	}

	var cfg config.ProviderConfig
	if err := c.Bind(&cfg); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}
	cfg.Name = c.Param("name")

	if err := h.updateProvider(cfg); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated", "provider": cfg.Name})
}

// DeleteProvider handles DELETE /v1/providers/:name.
func (h *Handler) DeleteProvider(c echo.Context) error {
	if h.removeProvider == nil {
		return handleError(c, core.NewInvalidRequestError("provider updates are not enabled"))
	}

	name := c.Param("name")
	if !h.removeProvider(name) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown provider: " + name})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "removed", "provider": name})
}

type invalidateRequest struct {
	Keys []string `json:"keys"`
	Tags []string `json:"tags"`
}

// InvalidateCache handles DELETE /v1/cache.
func (h *Handler) InvalidateCache(c echo.Context) error {
	var body invalidateRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}
	if len(body.Keys) == 0 && len(body.Tags) == 0 {
		return handleError(c, core.NewInvalidRequestError("at least one key or tag is required"))
	}

	ctx := c.Request().Context()
	invalidated := 0
	if len(body.Keys) > 0 {
		invalidated += h.svc.Invalidate(ctx, body.Keys...)
	}
	if len(body.Tags) > 0 {
		invalidated += h.svc.InvalidateTags(ctx, body.Tags...)
	}
	return c.JSON(http.StatusOK, map[string]int{"invalidated": invalidated})
}

func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, core.NewInvalidRequestError("invalid period: " + s)
	}
	if d < 0 {
		return 0, core.NewInvalidRequestError("period must not be negative")
	}
	return d, nil
}

// handleError converts gateway errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
