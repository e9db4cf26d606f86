package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAuth(token string) (string, error) {
	if strings.HasPrefix(token, "tok-") {
		return strings.TrimPrefix(token, "tok-"), nil
	}
	return "", errors.New("bad token")
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(tokenAuth, []string{"*"})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func join(t *testing.T, conn *websocket.Conn, room string) Frame {
	t.Helper()
	data, _ := json.Marshal(room)
	require.NoError(t, conn.WriteJSON(Frame{Event: EventJoin, Data: data}))
	return readFrame(t, conn)
}

func TestHub_JoinAndEmit(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "tok-alice")

	ack := join(t, conn, "alice")
	assert.Equal(t, EventJoined, ack.Event)
	assert.Equal(t, 1, hub.RoomSize("alice"))

	hub.Emit("alice", "chatMessage", map[string]string{"message": "hello"})

	f := readFrame(t, conn)
	assert.Equal(t, "chatMessage", f.Event)
	assert.JSONEq(t, `{"message":"hello"}`, string(f.Data))
}

func TestHub_EmitReachesEverySocketInRoom(t *testing.T) {
	hub, srv := newTestServer(t)
	first := dial(t, srv, "tok-bob")
	second := dial(t, srv, "tok-bob")
	join(t, first, "bob")
	join(t, second, "bob")

	hub.Emit("bob", "fileReceived", map[string]string{"id": "t1"})

	assert.Equal(t, "fileReceived", readFrame(t, first).Event)
	assert.Equal(t, "fileReceived", readFrame(t, second).Event)
}

func TestHub_RejectsJoiningAnotherRoom(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "tok-mallory")

	f := join(t, conn, "alice")
	assert.Equal(t, EventError, f.Event)
	assert.Equal(t, 0, hub.RoomSize("alice"))
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=nope"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_EmitWithoutListenersIsNoop(t *testing.T) {
	hub, _ := newTestServer(t)
	assert.NotPanics(t, func() { hub.Emit("nobody", "chatMessage", "x") })
}

func TestHub_LeavesRoomOnDisconnect(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "tok-carol")
	join(t, conn, "carol")
	require.Equal(t, 1, hub.RoomSize("carol"))

	conn.Close()

	assert.Eventually(t, func() bool { return hub.RoomSize("carol") == 0 },
		2*time.Second, 10*time.Millisecond)
}
