// Package client is the connection-owning side of the conversation
// protocol: it dials the gateway, dispatches events to handlers, and
// redials with linear backoff when the connection drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantrybot/pantrybot/internal/protocol"
	"github.com/pantrybot/pantrybot/internal/session"
	"github.com/pantrybot/pantrybot/internal/spoonacular"
)

// ErrNotConnected is returned by Send when no connection is open. The
// caller decides whether to retry after the next status change.
var ErrNotConnected = errors.New("not connected")

// Status is the connection lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// Handlers receives protocol events and connection state changes. All
// fields are optional; handlers are invoked from the client's reader
// goroutine, one at a time.
type Handlers struct {
	ConversationStarted func(conversationID string)
	Typing              func(active bool)
	ToolActivity        func(activity protocol.ToolActivity)
	Recipes             func(items []spoonacular.Candidate)
	Message             func(msg session.Message)
	ServerError         func(msg string)

	// StatusChanged fires on every transition. attempt is non-zero only
	// while reconnecting.
	StatusChanged func(status Status, attempt int)

	// Failed fires once per connection run, when the retry budget is
	// exhausted. An explicit Connect afterwards re-arms it.
	Failed func(err error)
}

// Config tunes the client.
type Config struct {
	URL              string
	MaxAttempts      int
	BaseDelay        time.Duration
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Client maintains one conversation connection to the gateway.
type Client struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	mu             sync.Mutex
	status         Status
	ws             *websocket.Conn
	started        bool
	cancel         context.CancelFunc
	conversationID string
}

// New creates a client. Handlers are fixed at construction so no event
// can arrive before its handler exists.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		status:   StatusIdle,
	}
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConversationID reports the active conversation, or "" before the
// gateway has announced one.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Connect starts the connection manager. Calling it again while running
// is a no-op; after a Close or a terminal failure it starts a fresh run
// with a full retry budget.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Close tears the connection down. It does not count as a failure, and
// a later Connect starts the manager again.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
}

// Send writes a command on the open connection. It fails fast while
// connecting, reconnecting, or failed rather than queueing.
func (c *Client) Send(cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen || c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Chat sends a user message.
func (c *Client) Chat(text string) error {
	return c.Send(protocol.ChatCommand{Text: text})
}

// NewConversation asks the gateway to reset the transcript.
func (c *Client) NewConversation() error {
	return c.Send(protocol.NewConversationCommand{})
}

func (c *Client) run(ctx context.Context) {
	// Once the run ends, for whatever reason, an explicit Connect must
	// be able to start a fresh one.
	defer func() {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
	}()

	attempt := 0
	everConnected := false
	for {
		if ctx.Err() != nil {
			c.setStatus(StatusIdle, 0)
			return
		}

		if attempt > 0 {
			// Every retry, including the first one after a drop, is
			// scheduled on the backoff timer rather than dialed
			// immediately.
			delay := backoffDelay(attempt, c.cfg.BaseDelay)
			c.logger.Warn("reconnecting",
				"url", c.cfg.URL,
				"attempt", attempt,
				"delay", delay,
			)
			c.setStatus(StatusReconnecting, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.setStatus(StatusIdle, 0)
				return
			}
		} else if !everConnected {
			c.setStatus(StatusConnecting, 0)
		}

		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Debug("dial failed", "url", c.cfg.URL, "error", err)
			attempt++
			if attempt > c.cfg.MaxAttempts {
				c.setStatus(StatusFailed, 0)
				c.logger.Error("connection failed permanently",
					"url", c.cfg.URL,
					"attempts", c.cfg.MaxAttempts,
					"error", err,
				)
				if c.handlers.Failed != nil {
					c.handlers.Failed(fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxAttempts, err))
				}
				return
			}
			continue
		}

		attempt = 0
		everConnected = true
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.setStatus(StatusOpen, 0)
		c.logger.Info("connected", "url", c.cfg.URL)

		readErr := c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()

		if ctx.Err() != nil {
			c.setStatus(StatusIdle, 0)
			return
		}
		c.logger.Warn("connection lost", "url", c.cfg.URL, "error", readErr)
		// The first redial counts as attempt 1 and waits one base delay.
		attempt = 1
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return ws, nil
}

func (c *Client) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := protocol.DecodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt any) {
	switch e := evt.(type) {
	case protocol.ConversationStartedEvent:
		c.mu.Lock()
		c.conversationID = e.ConversationID
		c.mu.Unlock()
		if c.handlers.ConversationStarted != nil {
			c.handlers.ConversationStarted(e.ConversationID)
		}
	case protocol.TypingEvent:
		if c.handlers.Typing != nil {
			c.handlers.Typing(e.Value)
		}
	case protocol.ToolActivityEvent:
		if c.handlers.ToolActivity != nil {
			c.handlers.ToolActivity(e.Tool)
		}
	case protocol.RecipesEvent:
		if c.handlers.Recipes != nil {
			c.handlers.Recipes(e.Items)
		}
	case protocol.MessageEvent:
		if c.handlers.Message != nil {
			c.handlers.Message(e.Message)
		}
	case protocol.ErrorEvent:
		if c.handlers.ServerError != nil {
			c.handlers.ServerError(e.Error)
		}
	}
}

func (c *Client) setStatus(status Status, attempt int) {
	c.mu.Lock()
	changed := c.status != status || status == StatusReconnecting
	c.status = status
	c.mu.Unlock()
	if changed && c.handlers.StatusChanged != nil {
		c.handlers.StatusChanged(status, attempt)
	}
}

// backoffDelay grows linearly with the attempt number, so attempt 3
// with a one second base waits three seconds.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}
