package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantrybot/pantrybot/internal/protocol"
	"github.com/pantrybot/pantrybot/internal/session"
)

func TestBackoffDelay(t *testing.T) {
	base := 250 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, 750 * time.Millisecond},
		{5, 1250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, base); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// wsServer runs handler for every accepted WebSocket connection.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendEvent(t *testing.T, ws *websocket.Conn, evt any) {
	t.Helper()
	if err := ws.WriteJSON(evt); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatch(t *testing.T) {
	got := make(chan any, 16)
	srv, url := wsServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, protocol.NewConversationStarted("c_1"))
		sendEvent(t, ws, protocol.NewTyping(true))
		sendEvent(t, ws, protocol.NewToolActivity(session.ToolInvocation{
			Name:   "get_pantry_items",
			Status: session.StatusExecuting,
		}))
		sendEvent(t, ws, protocol.NewMessage(session.Message{Role: "assistant", Content: "hi"}))
		sendEvent(t, ws, protocol.NewError("oops"))
		// Keep the connection open until the client closes.
		ws.ReadMessage()
	})
	defer srv.Close()

	c := New(Config{URL: url}, Handlers{
		ConversationStarted: func(id string) { got <- id },
		Typing:              func(v bool) { got <- v },
		ToolActivity:        func(a protocol.ToolActivity) { got <- a },
		Message:             func(m session.Message) { got <- m },
		ServerError:         func(msg string) { got <- errors.New(msg) },
	}, nil)
	c.Connect(context.Background())
	defer c.Close()

	expect := func(check func(any) bool, what string) {
		select {
		case v := <-got:
			if !check(v) {
				t.Errorf("unexpected %s: %#v", what, v)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
		}
	}

	expect(func(v any) bool { return v == "c_1" }, "conversation id")
	expect(func(v any) bool { return v == true }, "typing")
	expect(func(v any) bool {
		a, ok := v.(protocol.ToolActivity)
		return ok && a.Name == "get_pantry_items" && a.Status == session.StatusExecuting
	}, "tool activity")
	expect(func(v any) bool {
		m, ok := v.(session.Message)
		return ok && m.Content == "hi"
	}, "message")
	expect(func(v any) bool {
		err, ok := v.(error)
		return ok && err.Error() == "oops"
	}, "server error")
}

func TestSendBeforeConnect(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/"}, Handlers{}, nil)
	if err := c.Chat("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendWhenOpen(t *testing.T) {
	received := make(chan protocol.Command, 1)
	srv, url := wsServer(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		received <- cmd
		ws.ReadMessage()
	})
	defer srv.Close()

	c := New(Config{URL: url}, Handlers{}, nil)
	c.Connect(context.Background())
	defer c.Close()

	waitFor(t, "open", func() bool { return c.Status() == StatusOpen })

	if err := c.Chat("what's for supper?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	select {
	case cmd := <-received:
		chat, ok := cmd.(protocol.ChatCommand)
		if !ok || chat.Text != "what's for supper?" {
			t.Errorf("server received %#v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the command")
	}
}

func TestConnectIdempotent(t *testing.T) {
	var conns atomic.Int32
	srv, url := wsServer(t, func(ws *websocket.Conn) {
		conns.Add(1)
		ws.ReadMessage()
	})
	defer srv.Close()

	c := New(Config{URL: url}, Handlers{}, nil)
	c.Connect(context.Background())
	c.Connect(context.Background())
	c.Connect(context.Background())
	defer c.Close()

	waitFor(t, "open", func() bool { return c.Status() == StatusOpen })
	time.Sleep(50 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("expected 1 connection, got %d", n)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv, url := wsServer(t, func(ws *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			ws.Close()
			return
		}
		ws.ReadMessage()
	})
	defer srv.Close()

	var sawReconnecting atomic.Bool
	c := New(Config{URL: url, BaseDelay: 10 * time.Millisecond}, Handlers{
		StatusChanged: func(s Status, attempt int) {
			if s == StatusReconnecting {
				sawReconnecting.Store(true)
			}
		},
	}, nil)
	c.Connect(context.Background())
	defer c.Close()

	waitFor(t, "second connection", func() bool { return conns.Load() >= 2 })
	waitFor(t, "open after reconnect", func() bool { return c.Status() == StatusOpen })
	if !sawReconnecting.Load() {
		t.Error("never observed the reconnecting state")
	}
}

func TestRedialDelayAfterDrop(t *testing.T) {
	base := 150 * time.Millisecond
	var conns atomic.Int32
	dropped := make(chan time.Time, 1)
	redialed := make(chan time.Time, 1)
	srv, url := wsServer(t, func(ws *websocket.Conn) {
		switch conns.Add(1) {
		case 1:
			ws.Close()
			dropped <- time.Now()
		case 2:
			redialed <- time.Now()
			ws.ReadMessage()
		default:
			ws.ReadMessage()
		}
	})
	defer srv.Close()

	c := New(Config{URL: url, BaseDelay: base}, Handlers{}, nil)
	c.Connect(context.Background())
	defer c.Close()

	var dropAt, redialAt time.Time
	select {
	case dropAt = <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatal("first connection never dropped")
	}
	select {
	case redialAt = <-redialed:
	case <-time.After(5 * time.Second):
		t.Fatal("client never redialed")
	}

	// The client notices the drop after the server closes, so measuring
	// from the server side undercounts the wait. An immediate redial
	// would still land far under one base delay.
	if got := redialAt.Sub(dropAt); got < base-20*time.Millisecond {
		t.Errorf("first redial arrived %v after the drop, want about %v", got, base)
	}
	waitFor(t, "open after redial", func() bool { return c.Status() == StatusOpen })
}

func TestConnectAfterTerminalFailure(t *testing.T) {
	// Reserve an address, then shut the server down so every dial fails.
	srv, url := wsServer(t, func(ws *websocket.Conn) { ws.ReadMessage() })
	addr := srv.Listener.Addr().String()
	srv.Close()

	failed := make(chan error, 1)
	c := New(Config{URL: url, MaxAttempts: 1, BaseDelay: 5 * time.Millisecond}, Handlers{
		Failed: func(err error) { failed <- err },
	}, nil)
	c.Connect(context.Background())

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("Failed handler never fired")
	}
	if c.Status() != StatusFailed {
		t.Errorf("status = %q, want failed", c.Status())
	}

	// The gateway comes back on the same address.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("relisten on %s: %v", addr, err)
	}
	upgrader := websocket.Upgrader{}
	revived := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.ReadMessage()
	})}
	go revived.Serve(ln)
	defer revived.Close()
	defer c.Close()

	// An explicit Connect must start a fresh run; repeat it while the
	// previous run finishes winding down.
	waitFor(t, "open after explicit reconnect", func() bool {
		c.Connect(context.Background())
		return c.Status() == StatusOpen
	})
}

func TestTerminalFailure(t *testing.T) {
	// A server that went away: dialing always fails.
	srv, url := wsServer(t, func(ws *websocket.Conn) { ws.Close() })
	srv.Close()

	var failures atomic.Int32
	failed := make(chan error, 1)
	c := New(Config{URL: url, MaxAttempts: 2, BaseDelay: 5 * time.Millisecond}, Handlers{
		Failed: func(err error) {
			failures.Add(1)
			failed <- err
		},
	}, nil)
	c.Connect(context.Background())

	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "giving up after 2 attempts") {
			t.Errorf("terminal error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Failed handler never fired")
	}

	if c.Status() != StatusFailed {
		t.Errorf("status = %q, want failed", c.Status())
	}
	if err := c.Chat("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after failure = %v, want ErrNotConnected", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := failures.Load(); n != 1 {
		t.Errorf("Failed fired %d times, want exactly 1", n)
	}
}
