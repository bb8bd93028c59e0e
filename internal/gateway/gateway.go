// Package gateway exposes the conversation protocol over WebSocket. Each
// connection is one conversation: frames in are commands, frames out are
// events, and the per-connection write pump keeps event order intact.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantrybot/pantrybot/internal/agent"
	"github.com/pantrybot/pantrybot/internal/events"
	"github.com/pantrybot/pantrybot/internal/protocol"
	"github.com/pantrybot/pantrybot/internal/session"
)

// Config tunes connection handling.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	SendBuffer   int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// Gateway upgrades HTTP requests and drives conversations over them.
type Gateway struct {
	sessions *session.Store
	loop     *agent.Loop
	bus      *events.Bus
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a gateway. bus may be nil.
func New(sessions *session.Store, loop *agent.Loop, bus *events.Bus, cfg Config, logger *slog.Logger) *Gateway {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessions: sessions,
		loop:     loop,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the WebSocket endpoint handler. The request context is
// cancelled as soon as the HTTP handler returns, so connection goroutines
// run against ctx, the server lifecycle context, instead.
func (g *Gateway) Handler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		sess := g.sessions.Create()
		c := &connection{
			ws:   ws,
			sess: sess,
			send: make(chan []byte, g.cfg.SendBuffer),
			done: make(chan struct{}),
		}

		g.logger.Info("conversation opened", "conversation_id", sess.ID, "remote", r.RemoteAddr)
		g.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceGateway,
			Kind:      events.KindSessionOpen,
			Data:      map[string]any{"conversation_id": sess.ID, "remote": r.RemoteAddr},
		})

		c.enqueue(protocol.NewConversationStarted(sess.ID))

		go g.writePump(c)
		g.readPump(ctx, c)
	})
}

// connection is one WebSocket conversation.
type connection struct {
	ws   *websocket.Conn
	sess *session.Session
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// enqueue serializes an event onto the write pump. Events sent after the
// connection is torn down are discarded.
func (c *connection) enqueue(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *connection) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *connection) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
}

func (c *connection) cancelCycle() {
	c.cancelMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.cancelMu.Unlock()
}

func (g *Gateway) readPump(ctx context.Context, c *connection) {
	defer func() {
		c.cancelCycle()
		c.close()
		c.ws.Close()
		g.sessions.Remove(c.sess.ID)
		g.logger.Info("conversation closed", "conversation_id", c.sess.ID)
		g.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceGateway,
			Kind:      events.KindSessionClose,
			Data:      map[string]any{"conversation_id": c.sess.ID},
		})
	}()

	c.ws.SetReadLimit(g.cfg.ReadLimit)

	// Unanswered pings eventually trip the read deadline, dropping the
	// connection independently of the command protocol.
	pongWait := 2 * g.cfg.PingInterval
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read ended", "conversation_id", c.sess.ID, "error", err)
			}
			return
		}
		g.handleFrame(ctx, c, frame)
	}
}

func (g *Gateway) writePump(c *connection) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Protocol violations produce
// an error event and leave the connection open.
func (g *Gateway) handleFrame(ctx context.Context, c *connection, frame []byte) {
	cmd, err := protocol.DecodeCommand(frame)
	if err != nil {
		var unknown *protocol.UnknownKindError
		if errors.As(err, &unknown) {
			c.enqueue(protocol.NewError("unknown message type: " + unknown.Kind))
		} else {
			c.enqueue(protocol.NewError("malformed message"))
		}
		return
	}

	switch cmd := cmd.(type) {
	case protocol.ChatCommand:
		g.startChat(ctx, c, cmd.Text)
	case protocol.NewConversationCommand:
		g.resetConversation(c)
	case protocol.GetHistoryCommand:
		c.enqueue(protocol.NewError("get_history is not supported"))
	}
}

// startChat runs one request cycle. Overlapping chats on the same
// conversation are rejected while the current cycle is in flight.
func (g *Gateway) startChat(ctx context.Context, c *connection, text string) {
	if !c.sess.TryAcquire() {
		c.enqueue(protocol.NewError("a message is already being processed"))
		return
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)

	go func() {
		defer func() {
			c.setCancel(nil)
			// Releases the cycle context from the server context even
			// on normal completion.
			cancel()
			c.sess.Release()
		}()
		g.runCycle(cycleCtx, c, text)
	}()
}

func (g *Gateway) runCycle(ctx context.Context, c *connection, text string) {
	c.sess.Append(session.Message{Role: "user", Content: text, CreatedAt: time.Now()})
	history := c.sess.History()
	// The new user turn is delivered separately to the loop.
	history = history[:len(history)-1]

	c.enqueue(protocol.NewTyping(true))

	res, err := g.loop.Run(ctx, c.sess.ID, history, text, func(inv session.ToolInvocation) {
		c.enqueue(protocol.NewToolActivity(inv))
	})
	if err != nil {
		c.enqueue(protocol.NewTyping(false))
		if ctx.Err() != nil {
			// Disconnect or shutdown cancelled the cycle mid-flight.
			g.logger.Debug("cycle cancelled", "conversation_id", c.sess.ID)
			return
		}
		g.logger.Error("request cycle failed", "conversation_id", c.sess.ID, "error", err)
		c.enqueue(protocol.NewError("Sorry, something went wrong while processing your message."))
		return
	}

	reply := session.Message{
		Role:            "assistant",
		Content:         res.Reply,
		Recipes:         res.Recipes,
		ToolInvocations: res.Invocations,
		CreatedAt:       time.Now(),
	}
	c.sess.Append(reply)

	c.enqueue(protocol.NewTyping(false))
	if len(res.Recipes) > 0 {
		c.enqueue(protocol.NewRecipes(res.Recipes))
	}
	c.enqueue(protocol.NewMessage(reply))
}

// resetConversation clears the transcript but keeps the conversation ID,
// so the client sees the same conversation restart fresh.
func (g *Gateway) resetConversation(c *connection) {
	c.sess.Reset()
	g.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceGateway,
		Kind:      events.KindSessionReset,
		Data:      map[string]any{"conversation_id": c.sess.ID},
	})
	c.enqueue(protocol.NewConversationStarted(c.sess.ID))
}
