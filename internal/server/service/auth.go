package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/mail"
)

const (
	resetTokenBytes   = 32
	minPasswordLength = 6
	maxUsernameLen    = 50

	forgotPasswordReply = "If an account with that email exists, a reset link has been sent."
)

// Session is returned after a successful registration or login.
type Session struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	Role        database.Role `json:"role"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
}

// Profile describes the authenticated account.
type Profile struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Email    string        `json:"email"`
	Role     database.Role `json:"role"`
	Name     string        `json:"name"`
}

// RegisterInput holds the fields of a registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     database.Role
}

// AuthService contains account and credential logic.
type AuthService struct {
	accounts AccountStore
	resets   ResetTokenStore
	tokens   *auth.TokenManager
	identity auth.IdentityVerifier
	mailer   mail.Mailer
	cfg      *config.Config
	now      func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	accounts AccountStore,
	resets ResetTokenStore,
	tokens *auth.TokenManager,
	identity auth.IdentityVerifier,
	mailer mail.Mailer,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		resets:   resets,
		tokens:   tokens,
		identity: identity,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return nil, newError(ErrValidation, "Username, email and password are required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, newError(ErrValidation, "Password must be at least 6 characters long")
	}
	role := in.Role
	if role == "" {
		role = database.RoleStudent
	}
	if !role.Valid() {
		return nil, newError(ErrValidation, "Role must be admin or student")
	}

	exists, err := s.accounts.AccountExists(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if exists {
		return nil, newError(ErrConflict, "Username or email already registered")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	account := &database.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, newError(ErrConflict, "Username or email already registered")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account registered", "account_id", account.ID, "username", account.Username, "role", account.Role)
	return s.session(account)
}

// Login verifies a username and password.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || !auth.CheckPassword(account.PasswordHash, password) {
		return nil, newError(ErrUnauthenticated, "Incorrect username or password")
	}
	return s.session(account)
}

// LoginWithGoogle signs in with a Google ID token, creating an admin account
// on first use.
func (s *AuthService) LoginWithGoogle(ctx context.Context, credential string) (*Session, error) {
	if credential == "" {
		return nil, newError(ErrValidation, "Google credential is required")
	}

	id, err := s.identity.Verify(ctx, credential)
	if err != nil {
		slog.Warn("google assertion rejected", "error", err)
		return nil, newError(ErrValidation, "Invalid Google token")
	}
	if id.Name == "" {
		return nil, newError(ErrValidation, "Insufficient Google profile information")
	}
	email := strings.ToLower(id.Email)

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, database.ErrNotFound):
		account, err = s.createExternalAccount(ctx, id, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up account: %w", err)
	case account.Name == "":
		if err := s.accounts.UpdateAccountName(ctx, account.ID, id.Name); err != nil {
			return nil, fmt.Errorf("failed to update account name: %w", err)
		}
		account.Name = id.Name
	}

	return s.session(account)
}

func (s *AuthService) createExternalAccount(ctx context.Context, id *auth.Identity, email string) (*database.Account, error) {
	now := s.now().UTC()
	local, _, _ := strings.Cut(email, "@")
	suffix := "_" + strconv.FormatInt(now.UnixMilli(), 10)
	googleID := id.Subject

	account := &database.Account{
		ID:        uuid.NewString(),
		Username:  truncateUTF8(local, maxUsernameLen-len(suffix)) + suffix,
		Email:     email,
		Role:      database.RoleAdmin,
		GoogleID:  &googleID,
		Name:      id.Name,
		CreatedAt: now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created from google identity", "account_id", account.ID, "username", account.Username)
	return account, nil
}

// Me returns the profile of accountID.
func (s *AuthService) Me(ctx context.Context, accountID string) (*Profile, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &Profile{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
		Role:     account.Role,
		Name:     account.DisplayName(),
	}, nil
}

// ForgotPassword issues a reset token and emails a link to it. The reply is
// the same whether or not the email belongs to an account.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", newError(ErrValidation, "Email is required")
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		slog.Info("password reset requested for unknown email")
		return forgotPasswordReply, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := auth.RandomToken(resetTokenBytes)
	if err != nil {
		return "", err
	}

	if err := s.resets.DeleteResetTokens(ctx, account.ID); err != nil {
		return "", fmt.Errorf("failed to clear reset tokens: %w", err)
	}

	now := s.now().UTC()
	if err := s.resets.CreateResetToken(ctx, &database.PasswordResetToken{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
	}); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	link := s.cfg.FrontendURL + "/#/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.Send(ctx, mail.PasswordReset(account.Email, account.Username, link)); err != nil {
		slog.Error("failed to send password reset email", "account_id", account.ID, "error", err)
	} else {
		slog.Info("password reset email sent", "account_id", account.ID)
	}

	return forgotPasswordReply, nil
}

// VerifyResetToken reports whether token can still be used.
func (s *AuthService) VerifyResetToken(ctx context.Context, token string) error {
	_, err := s.validResetToken(ctx, token)
	return err
}

// ResetPassword consumes token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" || password == "" {
		return newError(ErrValidation, "Reset token and new password are required")
	}
	if len(password) < minPasswordLength {
		return newError(ErrValidation, "Password must be at least 6 characters long")
	}

	rt, err := s.validResetToken(ctx, token)
	if err != nil {
		return err
	}

	if _, err := s.accounts.GetAccountByID(ctx, rt.AccountID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return newError(ErrNotFound, "User not found")
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	// Claim the token before writing so two concurrent resets cannot both succeed.
	claimed, err := s.resets.MarkResetTokenUsed(ctx, rt.ID)
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if !claimed {
		return newError(ErrValidation, "Invalid or expired reset token")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateAccountPassword(ctx, rt.AccountID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password reset completed", "account_id", rt.AccountID)
	return nil
}

// Authenticate verifies a bearer token and returns its claims.
func (s *AuthService) Authenticate(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, newError(ErrUnauthenticated, "Not authenticated")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, newError(ErrUnauthenticated, "Invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) validResetToken(ctx context.Context, token string) (*database.PasswordResetToken, error) {
	if token == "" {
		return nil, newError(ErrValidation, "Reset token is required")
	}
	rt, err := s.resets.GetValidResetToken(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(ErrValidation, "Invalid or expired reset token")
		}
		return nil, fmt.Errorf("failed to look up reset token: %w", err)
	}
	return rt, nil
}

func (s *AuthService) session(a *database.Account) (*Session, error) {
	token, err := s.tokens.Issue(a.ID, string(a.Role))
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		Role:        a.Role,
		UserID:      a.ID,
		Name:        a.DisplayName(),
	}, nil
}
