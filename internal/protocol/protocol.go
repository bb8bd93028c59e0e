// Package protocol defines the JSON frames exchanged over the chat
// WebSocket. Inbound command frames and outbound event frames are both
// tagged unions on a "type" field; decoding yields a concrete frame
// type so dispatch is exhaustive rather than stringly-typed.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pantrybot/pantrybot/internal/session"
	"github.com/pantrybot/pantrybot/internal/spoonacular"
)

// Inbound command kinds.
const (
	KindChat            = "chat"
	KindNewConversation = "new_conversation"
	KindGetHistory      = "get_history"
)

// Outbound event kinds.
const (
	KindConversationStarted = "conversation_started"
	KindTyping              = "typing"
	KindToolActivity        = "tool_activity"
	KindRecipes             = "recipes"
	KindMessage             = "message"
	KindError               = "error"
)

// UnknownKindError reports a frame whose "type" is not recognized.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Kind)
}

// Command is an inbound client request.
type Command interface {
	commandKind() string
}

// ChatCommand asks the assistant to handle one user turn.
type ChatCommand struct {
	Text string `json:"text"`
}

// NewConversationCommand clears the conversation transcript.
type NewConversationCommand struct{}

// GetHistoryCommand is reserved for transcript retrieval.
type GetHistoryCommand struct{}

func (ChatCommand) commandKind() string            { return KindChat }
func (NewConversationCommand) commandKind() string { return KindNewConversation }
func (GetHistoryCommand) commandKind() string      { return KindGetHistory }

type frameHeader struct {
	Type string `json:"type"`
}

// DecodeCommand parses an inbound frame into its concrete command type.
func DecodeCommand(data []byte) (Command, error) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch hdr.Type {
	case KindChat:
		var cmd ChatCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("malformed chat frame: %w", err)
		}
		return cmd, nil
	case KindNewConversation:
		return NewConversationCommand{}, nil
	case KindGetHistory:
		return GetHistoryCommand{}, nil
	default:
		return nil, &UnknownKindError{Kind: hdr.Type}
	}
}

// EncodeCommand serializes a command for the wire.
func EncodeCommand(cmd Command) ([]byte, error) {
	var frame any
	switch c := cmd.(type) {
	case ChatCommand:
		frame = struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{KindChat, c.Text}
	case NewConversationCommand:
		frame = frameHeader{Type: KindNewConversation}
	case GetHistoryCommand:
		frame = frameHeader{Type: KindGetHistory}
	default:
		return nil, fmt.Errorf("unsupported command type %T", cmd)
	}
	return json.Marshal(frame)
}

// ToolActivity describes one tool invocation status transition.
type ToolActivity struct {
	Name   string         `json:"name"`
	Status string         `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
}

// Outbound event frames. Constructors set the type tag so a frame can
// never go out with a mismatched kind.

// ConversationStartedEvent announces the session's conversation ID,
// once per new or reset conversation.
type ConversationStartedEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// TypingEvent toggles the assistant's typing indicator.
type TypingEvent struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

// ToolActivityEvent reports a tool invocation status transition.
type ToolActivityEvent struct {
	Type string       `json:"type"`
	Tool ToolActivity `json:"tool"`
}

// RecipesEvent carries recipe candidates extracted from a search, sent
// before the final message of the cycle.
type RecipesEvent struct {
	Type  string                  `json:"type"`
	Items []spoonacular.Candidate `json:"items"`
}

// MessageEvent carries the final assistant turn.
type MessageEvent struct {
	Type    string          `json:"type"`
	Message session.Message `json:"message"`
}

// ErrorEvent reports a protocol, session, or cycle failure.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewConversationStarted(conversationID string) ConversationStartedEvent {
	return ConversationStartedEvent{Type: KindConversationStarted, ConversationID: conversationID}
}

func NewTyping(value bool) TypingEvent {
	return TypingEvent{Type: KindTyping, Value: value}
}

func NewToolActivity(inv session.ToolInvocation) ToolActivityEvent {
	return ToolActivityEvent{Type: KindToolActivity, Tool: ToolActivity{
		Name:   inv.Name,
		Status: inv.Status,
		Input:  inv.Input,
		Output: inv.Output,
	}}
}

func NewRecipes(items []spoonacular.Candidate) RecipesEvent {
	return RecipesEvent{Type: KindRecipes, Items: items}
}

func NewMessage(msg session.Message) MessageEvent {
	return MessageEvent{Type: KindMessage, Message: msg}
}

func NewError(msg string) ErrorEvent {
	return ErrorEvent{Type: KindError, Error: msg}
}

// DecodeEvent parses an outbound frame into its concrete event type.
// Used by the client side of the protocol.
func DecodeEvent(data []byte) (any, error) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var (
		evt any
		err error
	)
	switch hdr.Type {
	case KindConversationStarted:
		var e ConversationStartedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case KindTyping:
		var e TypingEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case KindToolActivity:
		var e ToolActivityEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case KindRecipes:
		var e RecipesEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case KindMessage:
		var e MessageEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case KindError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		evt = e
	default:
		return nil, &UnknownKindError{Kind: hdr.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", hdr.Type, err)
	}
	return evt, nil
}
