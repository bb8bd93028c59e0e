// Package session tracks per-connection conversation state. Each
// WebSocket connection owns one session holding the conversation
// transcript; sessions live in memory and die with the connection.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pantrybot/pantrybot/internal/spoonacular"
)

// ErrNotFound is returned when a session ID is unknown.
var ErrNotFound = errors.New("session not found")

// Status values for a tool invocation.
const (
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ToolInvocation records one tool call made during a request cycle.
type ToolInvocation struct {
	Name   string         `json:"name"`
	Status string         `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
}

// Message is one turn of the conversation transcript. Assistant
// messages carry the tool invocations and recipe candidates produced
// while generating them.
type Message struct {
	Role            string                  `json:"role"`
	Content         string                  `json:"content"`
	Recipes         []spoonacular.Candidate `json:"recipes,omitempty"`
	ToolInvocations []ToolInvocation        `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// Session holds the conversation state for one connection.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []Message
	busy     atomic.Bool
}

// Append adds a message to the transcript.
func (s *Session) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// History returns a copy of the transcript.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset clears the transcript. The session keeps its ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// TryAcquire marks the session busy for a request cycle. It returns
// false if a cycle is already in flight.
func (s *Session) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

// Release marks the session idle again.
func (s *Session) Release() {
	s.busy.Store(false)
}

// Store is an in-memory session registry keyed by conversation ID.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new session with a fresh conversation ID.
func (st *Store) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
	return s
}

// Get looks up a session by conversation ID.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops a session. Unknown IDs are a no-op.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
