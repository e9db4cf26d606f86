package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/config"
	"feedbackhub/internal/server/database/memdb"
	"feedbackhub/internal/server/mail"
	"feedbackhub/internal/server/realtime"
	"feedbackhub/internal/server/service"
	"feedbackhub/internal/server/storage"
)

type testServer struct {
	e      *echo.Echo
	repo   *memdb.Store
	mailer *mail.ConsoleMailer
	hub    *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:    1 << 20,
		JWTSecret:      "test-secret",
		TokenExpiry:    time.Hour,
		FrontendURL:    "http://app.test",
		ResetTokenTTL:  time.Hour,
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}

	repo := memdb.New()
	mailer := mail.NewConsoleMailer()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenExpiry)
	authSvc := service.NewAuthService(repo, repo, tokens, auth.NewGoogleVerifier(""), mailer, cfg)

	hub := realtime.NewHub(func(token string) (string, error) {
		claims, err := authSvc.Authenticate(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}, cfg.CORSOrigins)
	t.Cleanup(hub.Close)

	files := service.NewFileShareService(repo, repo, storage.NewFileSystemStore(t.TempDir()), hub, cfg)
	chat := service.NewChatService(repo, repo, hub)

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	t.Cleanup(limiter.Close)

	h := NewHandler(authSvc, files, chat, repo)
	return &testServer{
		e:      SetupRouter(h, hub, limiter, cfg, nil),
		repo:   repo,
		mailer: mailer,
		hub:    hub,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return s.serve(req, token)
}

func (s *testServer) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// register creates an account over HTTP and returns its session.
func (s *testServer) register(t *testing.T, username, role string) service.Session {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", echo.Map{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret1",
		"role":     role,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess service.Session
	decode(t, rec, &sess)
	return sess
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &body)
	return body.Detail
}

func workbookBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "rating"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 5))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func shareRequest(t *testing.T, receiverID, message string, uploads ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("receiverId", receiverID))
	require.NoError(t, w.WriteField("message", message))
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+u.name+`"`)
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/fileshare/share", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}
