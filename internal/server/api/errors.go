package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rollbar/rollbar-go"

	"feedbackhub/internal/server/service"
)

const internalErrorDetail = "Internal server error"

// ErrorReporter forwards unexpected errors to an external tracker.
type ErrorReporter func(r *http.Request, err error)

// NewRollbarReporter configures the global Rollbar notifier. It returns nil
// when token is empty, which disables reporting.
func NewRollbarReporter(token, env string) ErrorReporter {
	if token == "" {
		return nil
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetEnabled(true)
	return func(r *http.Request, err error) {
		rollbar.RequestError(rollbar.ERR, r, err)
	}
}

// NewHTTPErrorHandler renders every failure as {"detail": "..."}.
func NewHTTPErrorHandler(report ErrorReporter) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, detail := mapServiceError(err)
		if code >= http.StatusInternalServerError {
			req := c.Request()
			slog.Error("request failed",
				"method", req.Method,
				"path", req.URL.Path,
				"account_id", accountID(c),
				"error", err,
			)
			if report != nil {
				report(req, err)
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, echo.Map{"detail": detail})
		}
		if err != nil {
			slog.Error("failed to write error response", "error", err)
		}
	}
}

// mapServiceError translates an error into an HTTP status and client-facing detail.
func mapServiceError(err error) (int, string) {
	var (
		verrs validator.ValidationErrors
		herr  *echo.HTTPError
	)

	switch {
	case errors.As(err, &verrs) && len(verrs) > 0:
		return http.StatusBadRequest, verrs[0].Translate(translator)
	case errors.As(err, &herr):
		if inner, ok := herr.Internal.(*echo.HTTPError); ok {
			herr = inner
		}
		if herr.Code >= http.StatusInternalServerError {
			return herr.Code, internalErrorDetail
		}
		return herr.Code, fmt.Sprint(herr.Message)
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrConflict):
		return http.StatusBadRequest, detailOr(err, "Invalid request")
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, detailOr(err, "Not authenticated")
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, detailOr(err, "Access denied")
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, detailOr(err, "Not found")
	default:
		return http.StatusInternalServerError, internalErrorDetail
	}
}

func detailOr(err error, fallback string) string {
	if d := service.Detail(err); d != "" {
		return d
	}
	return fallback
}
