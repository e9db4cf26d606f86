package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"feedbackhub/internal/server/service"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the feedback hub API.
type Handler struct {
	auth  *service.AuthService
	files *service.FileShareService
	chat  *service.ChatService
	db    HealthChecker
	now   func() time.Time
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(authSvc *service.AuthService, files *service.FileShareService, chat *service.ChatService, db HealthChecker) *Handler {
	return &Handler{
		auth:  authSvc,
		files: files,
		chat:  chat,
		db:    db,
		now:   time.Now,
	}
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "ok"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		slog.Warn("database health check failed", "error", err)
		status = "degraded"
		dbStatus = "unavailable"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":    status,
		"database":  dbStatus,
		"timestamp": h.now().UTC(),
	})
}
