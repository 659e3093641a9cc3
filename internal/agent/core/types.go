package core

import (
	"context"
	"errors"
	"fmt"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in the working conversation. Turns are immutable once
// appended; the loop only ever grows the slice.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Passage is one retrieved knowledge-base excerpt with its origin label.
type Passage struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Request carries everything the agent loop needs for one question.
type Request struct {
	Query    string
	History  []Turn
	Passages []Passage
	UserID   string
}

// Completion is a single provider reply.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// CompletionProvider produces one completion for a conversation. Errors
// should be *ProviderError so the loop can classify them.
type CompletionProvider interface {
	Complete(ctx context.Context, turns []Turn) (Completion, error)
}

// SearchTool executes a web search and summarizes the top results as natural
// language. Implementations must never fail: errors are folded into the
// returned text so the loop consumes them like any other observation.
type SearchTool interface {
	Search(ctx context.Context, query string) string
	Name() string
}

// UsageRecorder is a one-way sink for token accounting. Implementations
// swallow their own failures.
type UsageRecorder interface {
	Record(ctx context.Context, source string, tokens int64, userID string)
}

// ProviderErrorKind classifies completion provider failures.
type ProviderErrorKind int

const (
	// ProviderOther covers everything not otherwise classified.
	ProviderOther ProviderErrorKind = iota
	// ProviderTransient marks network and 5xx/429 upstream failures.
	ProviderTransient
	// ProviderStructuredOutput marks replies rejected because the provider
	// could not honor a structured-output contract; the loop retries once
	// with a plain-text instruction.
	ProviderStructuredOutput
)

// ProviderError wraps a completion failure with its classification.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// classifyProvider extracts the error kind, defaulting to ProviderOther.
func classifyProvider(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProviderOther
}
