package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/middleware"
	"github.com/quartissimo/realtime/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts sockets the way the hub does: auth frame first, then
// envelopes both ways.
type fakeServer struct {
	t        *testing.T
	server   *httptest.Server
	accepted atomic.Int32
	conns    chan *websocket.Conn
	inbound  chan events.Envelope
	// dropFirst closes the first accepted connection right after the handshake.
	dropFirst bool
	// when holdAck is set, handshakes after the first are signalled on
	// reached and acknowledged only once holdAck is closed.
	handshakes atomic.Int32
	holdAck    chan struct{}
	reached    chan struct{}
}

func newFakeServer(t *testing.T, dropFirst bool) *fakeServer {
	return startFakeServer(t, &fakeServer{dropFirst: dropFirst})
}

func startFakeServer(t *testing.T, f *fakeServer) *fakeServer {
	f.t = t
	f.conns = make(chan *websocket.Conn, 4)
	f.inbound = make(chan events.Envelope, 16)
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/socket.io" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var auth events.Auth
		if err := ws.ReadJSON(&auth); err != nil {
			return
		}
		if _, err := middleware.ParseToken("secret", auth.Token); err != nil {
			frame, _ := events.Encode(events.Error, events.ErrorPayload{Message: "unauthorized"})
			ws.WriteMessage(websocket.TextMessage, frame)
			return
		}
		if f.holdAck != nil && f.handshakes.Add(1) > 1 {
			f.reached <- struct{}{}
			<-f.holdAck
		}
		frame, _ := events.Encode(events.Connected, events.ConnectedPayload{UserID: 1})
		ws.WriteMessage(websocket.TextMessage, frame)

		n := f.accepted.Add(1)
		if f.dropFirst && n == 1 {
			return
		}
		f.conns <- ws
		for {
			var env events.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			f.inbound <- env
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) session(token string) *session.Session {
	return &session.Session{
		BaseURL: mustParse(f.t, f.server.URL),
		UserID:  1,
		Tokens:  session.StaticToken(token),
		HTTP:    f.server.Client(),
	}
}

func (f *fakeServer) nextConn() *websocket.Conn {
	select {
	case ws := <-f.conns:
		return ws
	case <-time.After(2 * time.Second):
		f.t.Fatal("no connection accepted")
		return nil
	}
}

func push(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := events.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func validToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.SignToken("secret", 1, time.Hour)
	require.NoError(t, err)
	return token
}

func fastOptions() Options {
	return Options{ReconnectAttempts: 3, ReconnectDelay: 10 * time.Millisecond, HandshakeTimeout: time.Second}
}

func TestDial_DispatchesToEveryListener(t *testing.T) {
	srv := newFakeServer(t, false)
	ch, err := Dial(t.Context(), srv.session(validToken(t)), fastOptions())
	require.NoError(t, err)
	defer ch.Close()
	ws := srv.nextConn()
	assert.True(t, ch.Connected())

	var mu sync.Mutex
	var got []string
	gotTwo := make(chan struct{}, 4)
	record := func(name string) events.Handler {
		return func(data json.RawMessage) {
			var change events.StatusChange
			assert.NoError(t, json.Unmarshal(data, &change))
			mu.Lock()
			got = append(got, name+":"+change.Status)
			mu.Unlock()
			gotTwo <- struct{}{}
		}
	}
	offA := ch.On(events.UserStatusChange, record("a"))
	ch.On(events.UserStatusChange, record("b"))
	assert.Equal(t, 2, ch.ListenerCount(events.UserStatusChange))

	push(t, ws, events.UserStatusChange, events.StatusChange{UserID: 5, Status: "online"})
	for i := 0; i < 2; i++ {
		select {
		case <-gotTwo:
		case <-time.After(2 * time.Second):
			t.Fatal("listener not called")
		}
	}

	offA()
	offA()
	assert.Equal(t, 1, ch.ListenerCount(events.UserStatusChange))

	push(t, ws, events.UserStatusChange, events.StatusChange{UserID: 5, Status: "offline"})
	select {
	case <-gotTwo:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a:online", "b:online", "b:offline"}, got)
}

func TestEmit(t *testing.T) {
	srv := newFakeServer(t, false)
	ch, err := Dial(t.Context(), srv.session(validToken(t)), fastOptions())
	require.NoError(t, err)
	srv.nextConn()

	require.NoError(t, ch.Emit(events.NewMessage, events.MessageRef{ID: 12}))
	select {
	case env := <-srv.inbound:
		assert.Equal(t, events.NewMessage, env.Event)
		assert.JSONEq(t, `{"id":12}`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Emit(events.NewMessage, events.MessageRef{ID: 13}), ErrNotConnected)
}

func TestDial_RejectedTokenIsPermanent(t *testing.T) {
	srv := newFakeServer(t, false)
	_, err := Dial(t.Context(), srv.session("bogus"), fastOptions())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newFakeServer(t, true)
	ch, err := Dial(t.Context(), srv.session(validToken(t)), fastOptions())
	require.NoError(t, err)
	defer ch.Close()

	received := make(chan struct{}, 1)
	ch.On(events.ReceiveMessage, func(json.RawMessage) { received <- struct{}{} })

	ws := srv.nextConn()
	require.Eventually(t, ch.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), srv.accepted.Load())

	push(t, ws, events.ReceiveMessage, map[string]any{"id": 1})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("listener lost across reconnect")
	}
}

func TestClose_DuringReconnectHandshake(t *testing.T) {
	srv := startFakeServer(t, &fakeServer{
		dropFirst: true,
		holdAck:   make(chan struct{}),
		reached:   make(chan struct{}, 1),
	})
	opts := fastOptions()
	opts.PongWait = time.Minute
	ch, err := Dial(t.Context(), srv.session(validToken(t)), opts)
	require.NoError(t, err)

	select {
	case <-srv.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt")
	}

	closed := make(chan struct{})
	go func() {
		ch.Close()
		close(closed)
	}()
	<-ch.ctx.Done()
	close(srv.holdAck)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a connection established after it started")
	}
	assert.False(t, ch.Connected())
}
