package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msg map[string]any

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ids := app.NewIDAllocator()
	reg := app.NewRegistry(ids)
	router := app.NewRouter(reg)
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(ids),
		Router:   router,
		Notifier: app.NewNotifier(router, 2, nil),
		Policy:   app.DropPolicy{},
		Relays:   sfu.NewRelayManager(),
	}
	ctl := NewSignalWSController(o, NewRoomRateLimiter(3, time.Minute), Options{SendBuffer: 16})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("token"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, m msg) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(m))
}

// expect reads until a message of the given type arrives.
func expect(t *testing.T, ws *websocket.Conn, typ string) msg {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %q", typ)
		var m msg
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func TestSignalJoinFlow(t *testing.T) {
	srv, o := newServer(t)

	alice := dial(t, srv, "alice-token")
	hello := expect(t, alice, "hello")
	assert.NotEmpty(t, hello["session"])

	send(t, alice, msg{"type": "join", "room": "lobby", "name": "alice", "notifications": true, "data": true})
	state := expect(t, alice, "room_state")
	assert.Equal(t, "lobby", state["room_name"])
	assert.Len(t, state["members"], 1)

	bob := dial(t, srv, "bob-token")
	expect(t, bob, "hello")
	send(t, bob, msg{"type": "join", "room": "lobby", "name": "bob", "data": true})
	expect(t, bob, "room_state")

	joined := expect(t, alice, "join")
	assert.Equal(t, "bob", joined["username"])

	send(t, bob, msg{"type": "data", "body": msg{"hello": "alice"}})
	data := expect(t, alice, "data")
	assert.Equal(t, msg{"hello": "alice"}, msg(data["body"].(map[string]any)))

	send(t, alice, msg{"type": "join", "room": "stage"})
	failed := expect(t, alice, "error")
	assert.Equal(t, "already_joined", failed["error"])

	send(t, alice, msg{"type": "whoami"})
	who := expect(t, alice, "whoami")
	assert.Equal(t, "lobby", who["room_name"])
	st := who["state"].(map[string]any)
	assert.Equal(t, true, st["notify"])
	assert.Equal(t, true, st["has_data"])

	assert.Equal(t, 2, o.Registry.Len())
	_ = bob.Close()
	left := expect(t, alice, "leave")
	assert.NotEmpty(t, left["session"])
	assert.Eventually(t, func() bool { return o.Registry.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestSignalFlagsAndControl(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv, "tok")
	expect(t, ws, "hello")

	send(t, ws, msg{"type": "ping"})
	expect(t, ws, "pong")

	send(t, ws, msg{"type": "flags", "notifications": true})
	who := expect(t, ws, "whoami")
	st := who["state"].(map[string]any)
	assert.Equal(t, true, st["notify"])
	assert.Equal(t, false, st["has_data"])
	assert.Nil(t, st["room"])

	send(t, ws, msg{"type": "nope"})
	assert.Equal(t, "unknown_type", expect(t, ws, "error")["error"])

	send(t, ws, msg{"type": "join", "room": ""})
	assert.Equal(t, "invalid_room", expect(t, ws, "error")["error"])

	send(t, ws, msg{"type": "mute", "session": "nobody", "muted": true})
	assert.Equal(t, "not_subscribed", expect(t, ws, "error")["error"])
	send(t, ws, msg{"type": "mute"})
	assert.Equal(t, "bad_payload", expect(t, ws, "error")["error"])
}

func TestSignalWhoAmICountsUserSessions(t *testing.T) {
	srv, _ := newServer(t)
	first := dial(t, srv, "same-token")
	expect(t, first, "hello")
	second := dial(t, srv, "same-token")
	expect(t, second, "hello")

	send(t, first, msg{"type": "join", "room": "lobby"})
	expect(t, first, "room_state")
	send(t, second, msg{"type": "join", "room": "lobby"})
	expect(t, second, "room_state")

	send(t, first, msg{"type": "whoami"})
	who := expect(t, first, "whoami")
	assert.Equal(t, float64(2), who["user_sessions"])
}

func TestSignalJoinRateLimited(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv, "tok")
	expect(t, ws, "hello")

	for i := 0; i < 3; i++ {
		send(t, ws, msg{"type": "join", "room": "lobby"})
		expect(t, ws, "room_state")
	}
	send(t, ws, msg{"type": "join", "room": "lobby"})
	assert.Equal(t, "rate_limited", expect(t, ws, "error")["error"])
}
