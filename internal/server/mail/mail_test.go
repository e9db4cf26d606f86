package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, ok := New("", "noreply@example.com").(*ConsoleMailer)
	assert.True(t, ok)

	_, ok = New("key", "noreply@example.com").(*SendgridMailer)
	assert.True(t, ok)
}

func TestPasswordReset(t *testing.T) {
	msg := PasswordReset("ada@example.com", "ada", "http://app/#/reset-password?token=abc")

	assert.Equal(t, "ada@example.com", msg.To.Address)
	assert.Contains(t, msg.Text, "http://app/#/reset-password?token=abc")
	assert.Contains(t, msg.HTML, `href="http://app/#/reset-password?token=abc"`)
}

func TestSendgridMailer_Send(t *testing.T) {
	m := NewSendgridMailer("key", "noreply@example.com")

	var captured rest.Request
	m.api = func(req rest.Request) (*rest.Response, error) {
		captured = req
		return &rest.Response{StatusCode: http.StatusAccepted}, nil
	}

	err := m.Send(context.Background(), PasswordReset("ada@example.com", "ada", "http://x"))
	require.NoError(t, err)

	assert.Equal(t, rest.Post, captured.Method)
	assert.Equal(t, host+endpoint, captured.BaseURL)
	assert.Equal(t, "Bearer key", captured.Headers["Authorization"])

	var body struct {
		Personalizations []struct {
			Subject string `json:"subject"`
			To      []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
	}
	require.NoError(t, json.Unmarshal(captured.Body, &body))
	require.Len(t, body.Personalizations, 1)
	assert.Equal(t, "[Feedback Hub] Password reset", body.Personalizations[0].Subject)
	assert.Equal(t, "ada@example.com", body.Personalizations[0].To[0].Email)
}

func TestSendgridMailer_SendRejected(t *testing.T) {
	m := NewSendgridMailer("key", "noreply@example.com")
	m.api = func(rest.Request) (*rest.Response, error) {
		return &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"}, nil
	}

	err := m.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorContains(t, err, "401")
}

func TestConsoleMailer(t *testing.T) {
	m := NewConsoleMailer()
	require.NoError(t, m.Send(context.Background(), Message{Subject: "hi"}))

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Subject)
}

func TestConsoleMailer_KeepsRecentBacklog(t *testing.T) {
	m := NewConsoleMailer()
	for i := 0; i < consoleBacklog+10; i++ {
		require.NoError(t, m.Send(context.Background(), Message{Subject: strconv.Itoa(i)}))
	}

	sent := m.Sent()
	require.Len(t, sent, consoleBacklog)
	assert.Equal(t, "10", sent[0].Subject)
	assert.Equal(t, strconv.Itoa(consoleBacklog+9), sent[len(sent)-1].Subject)
}

func TestPasswordReset_EscapesHTML(t *testing.T) {
	msg := PasswordReset("x@example.com", `<b>eve</b>`, `http://app.test/#/reset-password?token=a"b&c`)

	assert.NotContains(t, msg.HTML, "<b>eve</b>")
	assert.Contains(t, msg.HTML, "&lt;b&gt;eve&lt;/b&gt;")
	assert.Contains(t, msg.HTML, `href="http://app.test/#/reset-password?token=a&#34;b&amp;c"`)
	assert.Contains(t, msg.Text, `token=a"b&c`)
}
