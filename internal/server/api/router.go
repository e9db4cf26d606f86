package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"feedbackhub/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
// realtime serves the WebSocket endpoint; limiter guards the /api/auth routes.
func SetupRouter(handler *Handler, realtime http.Handler, limiter *RateLimiter, cfg *config.Config, report ErrorReporter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{validate: validate}
	e.HTTPErrorHandler = NewHTTPErrorHandler(report)

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(RequestLogger())
	// Headroom over the file limit lets the service check most oversized
	// uploads itself; anything past it is rejected before the handler runs.
	e.Use(BodyLimit(2*cfg.MaxFileSize + 1<<20, handler.files.TooLarge))

	e.GET("/health", handler.HandleHealth)
	e.GET("/ws", echo.WrapHandler(realtime))

	requireAuth := RequireAuth(handler.auth.Authenticate)

	authGroup := e.Group("/api/auth", limiter.Middleware())
	authGroup.POST("/register", handler.HandleRegister)
	authGroup.POST("/login", handler.HandleLogin)
	authGroup.POST("/google-login", handler.HandleGoogleLogin)
	authGroup.POST("/forgot-password", handler.HandleForgotPassword)
	authGroup.GET("/verify-reset-token/:token", handler.HandleVerifyResetToken)
	authGroup.POST("/reset-password", handler.HandleResetPassword)
	authGroup.GET("/me", handler.HandleMe, requireAuth)

	files := e.Group("/api/fileshare", requireAuth)
	files.GET("/admins", handler.HandleListAdmins)
	files.POST("/share", handler.HandleShare)
	files.GET("/sent", handler.HandleListSent)
	files.GET("/sent/export", handler.HandleExportSent)
	files.GET("/received", handler.HandleListReceived)
	files.GET("/download/:fileId", handler.HandleDownload)
	files.POST("/chat/send", handler.HandleSendMessage)
	files.GET("/chat/unread-count", handler.HandleUnreadCount)
	files.GET("/chat/:userId", handler.HandleConversation)

	return e
}
