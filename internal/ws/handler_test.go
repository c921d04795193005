package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/models"
)

const testSecret = "ws-test-secret"

type echoDispatcher struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (d *echoDispatcher) Connected(_, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, connID)
}

func (d *echoDispatcher) Dispatch(_ context.Context, userID, connID string, in models.InboundEvent) *models.Event {
	ev := models.Event{Event: "echo", Data: map[string]string{"from": userID, "conn": connID, "event": in.Event}}
	return &ev
}

func (d *echoDispatcher) Disconnected(_, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, connID)
}

func (d *echoDispatcher) connects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.connected...)
}

func (d *echoDispatcher) disconnects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.disconnected...)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) (*httptest.Server, *Registry, *echoDispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := NewRegistry(NewBroadcaster(nil, zap.NewNop()), zap.NewNop())
	dispatcher := &echoDispatcher{}
	h := NewHandler(registry, auth.NewJWTVerifier(testSecret), dispatcher, true, 1<<20, zap.NewNop())

	router := gin.New()
	router.GET("/ws", h.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry, dispatcher
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func onlineEquals(want ...string) func(frame) bool {
	return func(f frame) bool {
		if f.Event != models.EventOnlineUsers {
			return false
		}
		var got []string
		if err := json.Unmarshal(f.Data, &got); err != nil {
			return false
		}
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

func TestHandlerPresenceLifecycle(t *testing.T) {
	srv, registry, dispatcher := setupServer(t)

	a := dial(t, srv, "?userId=A", nil)
	readUntil(t, a, onlineEquals("A"))

	b := dial(t, srv, "?userId=B", nil)
	readUntil(t, a, onlineEquals("A", "B"))
	readUntil(t, b, onlineEquals("A", "B"))
	hb, ok := registry.Lookup("B")
	require.True(t, ok)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	b.Close()
	readUntil(t, a, onlineEquals("A"))

	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("B")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(dispatcher.disconnects()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{hb.ID()}, dispatcher.disconnects())
	assert.Contains(t, dispatcher.connects(), hb.ID())
}

func TestHandlerAuthenticatesBearerToken(t *testing.T) {
	srv, registry, _ := setupServer(t)
	token, err := auth.Issue(testSecret, "user-42", time.Hour)
	require.NoError(t, err)

	conn := dial(t, srv, "", http.Header{"Authorization": {"Bearer " + token}})
	readUntil(t, conn, onlineEquals("user-42"))

	_, ok := registry.Lookup("user-42")
	assert.True(t, ok)
}

func TestHandlerAuthenticatesQueryToken(t *testing.T) {
	srv, _, _ := setupServer(t)
	token, err := auth.Issue(testSecret, "user-7", time.Hour)
	require.NoError(t, err)

	conn := dial(t, srv, "?token="+token, nil)
	readUntil(t, conn, onlineEquals("user-7"))
}

func TestHandlerRejectsMissingCredentials(t *testing.T) {
	srv, registry, _ := setupServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, registry.Len())
}

func TestHandlerDispatchesInboundFrames(t *testing.T) {
	srv, _, _ := setupServer(t)
	conn := dial(t, srv, "?userId=A", nil)
	readUntil(t, conn, onlineEquals("A"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "ping-test", "data": map[string]string{}}))
	f := readUntil(t, conn, func(f frame) bool { return f.Event == "echo" })

	var data map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, "A", data["from"])
	assert.NotEmpty(t, data["conn"])
	assert.Equal(t, "ping-test", data["event"])
}

func TestHandlerReplacedConnectionIsClosed(t *testing.T) {
	srv, registry, dispatcher := setupServer(t)
	first := dial(t, srv, "?userId=A", nil)
	readUntil(t, first, onlineEquals("A"))

	second := dial(t, srv, "?userId=A", nil)
	readUntil(t, second, onlineEquals("A"))

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	h, ok := registry.Lookup("A")
	require.True(t, ok)
	require.NoError(t, second.WriteJSON(map[string]interface{}{"event": "still-here"}))
	f := readUntil(t, second, func(f frame) bool { return f.Event == "echo" })
	var data map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, h.ID(), data["conn"])

	// each connection starts its own session; only the replaced one ends
	conns := dispatcher.connects()
	require.Len(t, conns, 2)
	assert.Equal(t, h.ID(), conns[1])
	assert.Eventually(t, func() bool {
		return len(dispatcher.disconnects()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{conns[0]}, dispatcher.disconnects())
}
