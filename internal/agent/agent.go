// Package agent drives the bounded tool-calling loop: one user turn in,
// zero or more tool invocations, one assistant reply out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pantrybot/pantrybot/internal/events"
	"github.com/pantrybot/pantrybot/internal/llm"
	"github.com/pantrybot/pantrybot/internal/session"
	"github.com/pantrybot/pantrybot/internal/spoonacular"
)

// apologyReply is returned when the iteration ceiling is hit. A stuck
// tool-calling sequence degrades to this rather than erroring out.
const apologyReply = "I apologize, but I encountered an issue processing your request. Please try again."

// recipeSearchTool is the capability whose output carries the
// structured recipe side-payload.
const recipeSearchTool = "search_recipes_by_ingredients"

// ToolGateway enumerates and invokes the capabilities available to the
// model.
type ToolGateway interface {
	Descriptors() []llm.ToolDef
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config tunes one loop instance.
type Config struct {
	Model         string
	SystemPrompt  string
	MaxIterations int
	// HistoryMessages caps how many transcript messages are forwarded
	// to the model. Zero means no cap.
	HistoryMessages int
	ModelTimeout    time.Duration
	ToolTimeout     time.Duration
}

// Result is the outcome of one request cycle.
type Result struct {
	Reply       string
	Invocations []session.ToolInvocation
	Recipes     []spoonacular.Candidate
	// Exhausted is set when the iteration ceiling forced the apology
	// reply.
	Exhausted bool
}

// ActivityFunc receives tool invocation status transitions as they
// happen. Invocations within a cycle run concurrently, so the func
// must be safe for concurrent use.
type ActivityFunc func(session.ToolInvocation)

// Loop is the agentic request cycle driver.
type Loop struct {
	llm     llm.Client
	gateway ToolGateway
	bus     *events.Bus
	cfg     Config
	logger  *slog.Logger
}

// New creates a loop. bus may be nil.
func New(client llm.Client, gateway ToolGateway, bus *events.Bus, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Loop{
		llm:     client,
		gateway: gateway,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one request cycle: the transcript plus the new user text
// go to the model, requested tools are executed, and the final reply
// comes back. onActivity may be nil.
func (l *Loop) Run(ctx context.Context, conversationID string, history []session.Message, userText string, onActivity ActivityFunc) (*Result, error) {
	start := time.Now()
	if onActivity == nil {
		onActivity = func(session.ToolInvocation) {}
	}

	l.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"conversation_id": conversationID,
			"message_len":     len(userText),
		},
	})

	// Capability schemas may change between cycles, so they are
	// fetched fresh per cycle and held for its duration.
	toolDefs := l.gateway.Descriptors()

	messages := l.buildMessages(history, userText)

	var (
		invocations  []session.ToolInvocation
		lastSearch   string
		invocationMu sync.Mutex
	)

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindLLMCall,
			Data: map[string]any{
				"conversation_id": conversationID,
				"iter":            iter + 1,
				"model":           l.cfg.Model,
			},
		})

		resp, err := l.callModel(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindLLMResponse,
			Data: map[string]any{
				"conversation_id": conversationID,
				"iter":            iter + 1,
				"stop_reason":     resp.StopReason,
				"tool_calls":      len(resp.Message.ToolCalls),
			},
		})

		if resp.StopReason != "tool_use" {
			l.publishComplete(conversationID, iter+1, false, start)
			return &Result{
				Reply:       resp.Message.Content,
				Invocations: invocations,
				Recipes:     extractRecipes(lastSearch),
			}, nil
		}

		// The model requested tool calls. Execute all of them
		// concurrently; each invocation's executing event precedes its
		// own terminal event, but invocations may interleave.
		calls := resp.Message.ToolCalls
		results := make([]llm.Message, len(calls))

		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func() {
				defer wg.Done()

				inv := session.ToolInvocation{
					Name:   call.Function.Name,
					Status: session.StatusExecuting,
					Input:  call.Function.Arguments,
				}
				onActivity(inv)
				l.bus.Publish(events.Event{
					Timestamp: time.Now(),
					Source:    events.SourceAgent,
					Kind:      events.KindToolCall,
					Data: map[string]any{
						"conversation_id": conversationID,
						"tool":            inv.Name,
					},
				})

				toolStart := time.Now()
				output, err := l.executeTool(ctx, call.Function.Name, call.Function.Arguments)

				var content string
				if err != nil {
					inv.Status = session.StatusFailed
					inv.Output = err.Error()
					// Fed back to the model so it can recover within
					// the same cycle budget.
					errPayload, _ := json.Marshal(map[string]string{"error": err.Error()})
					content = string(errPayload)
					l.logger.Warn("tool failed", "tool", inv.Name, "error", err)
				} else {
					inv.Status = session.StatusCompleted
					inv.Output = output
					content = output
				}

				onActivity(inv)
				l.bus.Publish(events.Event{
					Timestamp: time.Now(),
					Source:    events.SourceAgent,
					Kind:      events.KindToolDone,
					Data: map[string]any{
						"conversation_id": conversationID,
						"tool":            inv.Name,
						"ok":              inv.Status == session.StatusCompleted,
						"duration_ms":     time.Since(toolStart).Milliseconds(),
					},
				})

				invocationMu.Lock()
				invocations = append(invocations, inv)
				if inv.Name == recipeSearchTool && inv.Status == session.StatusCompleted {
					lastSearch = inv.Output
				}
				invocationMu.Unlock()

				results[i] = llm.Message{
					Role:       "tool",
					Content:    content,
					ToolCallID: call.ID,
				}
			}()
		}
		wg.Wait()

		messages = append(messages, resp.Message)
		messages = append(messages, results...)
	}

	// Iteration ceiling: circuit breaker against a runaway tool loop.
	l.logger.Warn("iteration ceiling reached",
		"conversation_id", conversationID,
		"max_iterations", l.cfg.MaxIterations,
	)
	l.publishComplete(conversationID, l.cfg.MaxIterations, true, start)
	return &Result{
		Reply:       apologyReply,
		Invocations: invocations,
		Recipes:     extractRecipes(lastSearch),
		Exhausted:   true,
	}, nil
}

func (l *Loop) buildMessages(history []session.Message, userText string) []llm.Message {
	trimmed := history
	if l.cfg.HistoryMessages > 0 && len(trimmed) > l.cfg.HistoryMessages {
		trimmed = trimmed[len(trimmed)-l.cfg.HistoryMessages:]
	}

	messages := make([]llm.Message, 0, len(trimmed)+2)
	if l.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: l.cfg.SystemPrompt})
	}
	for _, m := range trimmed {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})
	return messages
}

func (l *Loop) callModel(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (*llm.ChatResponse, error) {
	if l.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ModelTimeout)
		defer cancel()
	}
	return l.llm.Chat(ctx, l.cfg.Model, messages, tools)
}

func (l *Loop) executeTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if l.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ToolTimeout)
		defer cancel()
	}
	return l.gateway.Execute(ctx, name, args)
}

func (l *Loop) publishComplete(conversationID string, iterations int, exhausted bool, start time.Time) {
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"conversation_id": conversationID,
			"iterations":      iterations,
			"exhausted":       exhausted,
			"elapsed_ms":      time.Since(start).Milliseconds(),
		},
	})
}

// extractRecipes lifts the candidate list out of the most recent
// successful recipe search this cycle. Anything malformed means no
// payload, never a failed cycle.
func extractRecipes(output string) []spoonacular.Candidate {
	if output == "" {
		return nil
	}
	var payload struct {
		Recipes []spoonacular.Candidate `json:"recipes"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		return nil
	}
	return payload.Recipes
}
