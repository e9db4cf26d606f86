package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/database"
)

func TestAuth_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.auth.Register(ctx, RegisterInput{
		Username: "ada", Email: "Ada@Example.com", Password: "secret1", Role: database.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, "bearer", sess.TokenType)
	assert.Equal(t, database.RoleAdmin, sess.Role)
	assert.Equal(t, "ada", sess.Name)

	claims, err := f.auth.Authenticate(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	stored, err := f.repo.GetAccountByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)

	_, err = f.auth.Login(ctx, "ada", "secret1")
	assert.NoError(t, err)

	_, err = f.auth.Login(ctx, "ada", "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.auth.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuth_RegisterDuplicateLeavesAccountUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.auth.Register(ctx, RegisterInput{Username: "ada", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	before, err := f.repo.GetAccountByUsername(ctx, "ada")
	require.NoError(t, err)

	_, err = f.auth.Register(ctx, RegisterInput{Username: "ada", Email: "other@example.com", Password: "another1", Role: database.RoleAdmin})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "Username or email already registered", Detail(err))

	after, err := f.repo.GetAccountByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, database.RoleStudent, after.Role)
}

func TestAuth_RegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Register(context.Background(), RegisterInput{Username: "ada", Email: "a@x.io", Password: "123"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.auth.Register(context.Background(), RegisterInput{Username: "ada", Email: "a@x.io", Password: "123456", Role: "moderator"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuth_Me(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "ada", database.RoleAdmin)

	p, err := f.auth.Me(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", p.Name)

	_, err = f.auth.Me(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuth_Authenticate(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Authenticate("")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.auth.Authenticate("garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuth_LoginWithGoogle(t *testing.T) {
	ctx := context.Background()

	t.Run("creates admin on first login", func(t *testing.T) {
		f := newFixture(t)
		f.auth.identity = fakeIdentity{id: &auth.Identity{Subject: "g-1", Email: "Grace@Example.com", Name: "Grace Hopper"}}

		sess, err := f.auth.LoginWithGoogle(ctx, "cred")
		require.NoError(t, err)
		assert.Equal(t, database.RoleAdmin, sess.Role)
		assert.Equal(t, "Grace Hopper", sess.Name)

		a, err := f.repo.GetAccountByEmail(ctx, "grace@example.com")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(a.Username, "grace_"))
		assert.Empty(t, a.PasswordHash)
		require.NotNil(t, a.GoogleID)
		assert.Equal(t, "g-1", *a.GoogleID)

		again, err := f.auth.LoginWithGoogle(ctx, "cred")
		require.NoError(t, err)
		assert.Equal(t, sess.UserID, again.UserID)
	})

	t.Run("long local part fits the username column", func(t *testing.T) {
		f := newFixture(t)
		local := strings.Repeat("g", 60)
		f.auth.identity = fakeIdentity{id: &auth.Identity{Subject: "g-4", Email: local + "@example.com", Name: "Grace"}}

		sess, err := f.auth.LoginWithGoogle(ctx, "cred")
		require.NoError(t, err)

		a, err := f.repo.GetAccountByID(ctx, sess.UserID)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(a.Username), maxUsernameLen)
		assert.True(t, strings.HasPrefix(a.Username, strings.Repeat("g", 30)))
		assert.Regexp(t, `_\d{13}$`, a.Username)
	})

	t.Run("fills missing name on existing account", func(t *testing.T) {
		f := newFixture(t)
		existing := f.account(t, "ada", database.RoleStudent)
		f.auth.identity = fakeIdentity{id: &auth.Identity{Subject: "g-2", Email: existing.Email, Name: "Ada Lovelace"}}

		sess, err := f.auth.LoginWithGoogle(ctx, "cred")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, sess.UserID)
		assert.Equal(t, database.RoleStudent, sess.Role)
		assert.Equal(t, "Ada Lovelace", sess.Name)
	})

	t.Run("invalid assertion", func(t *testing.T) {
		f := newFixture(t)
		f.auth.identity = fakeIdentity{err: errors.New("bad signature")}

		_, err := f.auth.LoginWithGoogle(ctx, "cred")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.auth.LoginWithGoogle(ctx, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing name", func(t *testing.T) {
		f := newFixture(t)
		f.auth.identity = fakeIdentity{id: &auth.Identity{Subject: "g-3", Email: "x@example.com"}}

		_, err := f.auth.LoginWithGoogle(ctx, "cred")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func resetTokenFromMail(t *testing.T, f *fixture) string {
	t.Helper()
	sent := f.mailer.Sent()
	require.NotEmpty(t, sent)
	_, token, ok := strings.Cut(sent[len(sent)-1].Text, "reset-password?token=")
	require.True(t, ok)
	return strings.Fields(token)[0]
}

func TestAuth_PasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "ada", database.RoleAdmin)

	reply, err := f.auth.ForgotPassword(ctx, "  ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, forgotPasswordReply, reply)

	token := resetTokenFromMail(t, f)
	assert.Len(t, token, 64)
	assert.Contains(t, f.mailer.Sent()[0].Text, "http://app.test/#/reset-password?token=")

	require.NoError(t, f.auth.VerifyResetToken(ctx, token))
	require.NoError(t, f.auth.ResetPassword(ctx, token, "newpass1"))

	_, err = f.auth.Login(ctx, a.Username, "newpass1")
	assert.NoError(t, err)
	_, err = f.auth.Login(ctx, a.Username, "password123")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	err = f.auth.ResetPassword(ctx, token, "another1")
	assert.ErrorIs(t, err, ErrValidation, "token is single use")
	assert.ErrorIs(t, f.auth.VerifyResetToken(ctx, token), ErrValidation)
}

func TestAuth_ForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)

	reply, err := f.auth.ForgotPassword(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, forgotPasswordReply, reply)
	assert.Empty(t, f.mailer.Sent())
}

func TestAuth_NewResetTokenReplacesOld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "ada", database.RoleAdmin)

	_, err := f.auth.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	first := resetTokenFromMail(t, f)

	_, err = f.auth.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	second := resetTokenFromMail(t, f)

	assert.ErrorIs(t, f.auth.VerifyResetToken(ctx, first), ErrValidation)
	assert.NoError(t, f.auth.VerifyResetToken(ctx, second))
}

func TestAuth_ResetTokenExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "ada", database.RoleAdmin)

	_, err := f.auth.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	token := resetTokenFromMail(t, f)

	f.auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.ErrorIs(t, f.auth.ResetPassword(ctx, token, "newpass1"), ErrValidation)
}

func TestAuth_ResetPasswordValidation(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.auth.ResetPassword(context.Background(), "", "newpass1"), ErrValidation)
	assert.ErrorIs(t, f.auth.ResetPassword(context.Background(), "tok", "123"), ErrValidation)
	assert.ErrorIs(t, f.auth.ResetPassword(context.Background(), "unknown", "newpass1"), ErrValidation)
}
