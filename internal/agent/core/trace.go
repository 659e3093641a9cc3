package core

import (
	"time"
)

// Step categories recorded in a reasoning trace.
const (
	StepAnalyze        = "analyze"
	StepThought        = "thought"
	StepPlan           = "plan"
	StepSearch         = "search"
	StepSearchComplete = "search_complete"
	StepRetriever      = "retriever"
	StepIntermediate   = "intermediate"
	StepAnswer         = "answer"
	StepError          = "error"
	StepRateLimit      = "rate_limit"
	StepRetry          = "retry"
)

// Step is one immutable, sequentially numbered reasoning record. The wire
// field names match what the chat history endpoint serves back to clients.
type Step struct {
	Index   int        `json:"step"`
	Action  string     `json:"action"`
	Content string     `json:"content"`
	Todo    []TodoItem `json:"todo,omitempty"`
	At      time.Time  `json:"at"`
}

// Ledger is the append-only step record for one request. It is local to a
// single request and needs no locking.
type Ledger struct {
	steps []Step
}

// Add appends a step; the index is the current length plus one.
func (l *Ledger) Add(category, content string, todo []TodoItem) Step {
	var snapshot []TodoItem
	if len(todo) > 0 {
		snapshot = make([]TodoItem, len(todo))
		copy(snapshot, todo)
	}
	step := Step{
		Index:   len(l.steps) + 1,
		Action:  category,
		Content: content,
		Todo:    snapshot,
		At:      time.Now().UTC(),
	}
	l.steps = append(l.steps, step)
	return step
}

// Steps returns a copy of the full ordered trace.
func (l *Ledger) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}
