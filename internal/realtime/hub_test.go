package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// newTestServer authenticates every request as the account named in ?as=.
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("as"); id != "" {
			r = r.WithContext(accounts.WithActor(r.Context(), accounts.Actor{ID: id, Role: accounts.RolePatient}))
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?as=" + as
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_EmitReachesRoomOnly(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := newTestServer(t, hub)

	alice := dial(t, srv, "patient-1")
	bob := dial(t, srv, "patient-2")
	require.Eventually(t, func() bool {
		return hub.RoomSize("patient-1") == 1 && hub.RoomSize("patient-2") == 1
	}, time.Second, 10*time.Millisecond)

	sent := hub.Emit("patient-1", EventNewReport, map[string]string{"report_id": "r1"})
	assert.Equal(t, 1, sent)

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := alice.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, EventNewReport, msg.Event)
	assert.JSONEq(t, `{"report_id":"r1"}`, string(msg.Data))

	_ = bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err)
}

func TestHub_RejectsAnonymousSocket(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := newTestServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_EmitToEmptyRoom(t *testing.T) {
	hub := NewHub(logging.Discard())
	assert.Equal(t, 0, hub.Emit("nobody", EventNewReport, struct{}{}))
}

func TestHub_DisconnectLeavesRoom(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "doctor-1")
	require.Eventually(t, func() bool { return hub.RoomSize("doctor-1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize("doctor-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnectsSockets(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "patient-1")
	require.Eventually(t, func() bool { return hub.RoomSize("patient-1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.RoomSize("patient-1"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	hub.Close()
	assert.Equal(t, 0, hub.Emit("patient-1", EventNewReport, nil))
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(logging.Discard())
	c, ok := hub.join("patient-9")
	require.True(t, ok)

	for i := 0; i < sendBuffer; i++ {
		require.Equal(t, 1, hub.Emit("patient-9", EventNewReport, i))
	}
	assert.Equal(t, 0, hub.Emit("patient-9", EventNewReport, "overflow"))
	assert.Equal(t, 1, hub.Dropped())

	hub.leave(c)
	assert.Equal(t, 0, hub.RoomSize("patient-9"))
}
