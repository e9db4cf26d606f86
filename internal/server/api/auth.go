package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/service"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,handle"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=admin student"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	sess, err := h.auth.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     database.Role(req.Role),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	sess, err := h.auth.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleGoogleLogin handles POST /api/auth/google-login.
func (h *Handler) HandleGoogleLogin(c echo.Context) error {
	var req googleLoginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	sess, err := h.auth.LoginWithGoogle(c.Request().Context(), req.Credential)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleMe handles GET /api/auth/me.
func (h *Handler) HandleMe(c echo.Context) error {
	p, err := h.auth.Me(c.Request().Context(), accountID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// HandleForgotPassword handles POST /api/auth/forgot-password.
// The reply is the same whether or not the email is registered.
func (h *Handler) HandleForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	reply, err := h.auth.ForgotPassword(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": reply})
}

// HandleVerifyResetToken handles GET /api/auth/verify-reset-token/:token.
func (h *Handler) HandleVerifyResetToken(c echo.Context) error {
	if err := h.auth.VerifyResetToken(c.Request().Context(), c.Param("token")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

// HandleResetPassword handles POST /api/auth/reset-password.
func (h *Handler) HandleResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	if err := h.auth.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password has been reset successfully"})
}
