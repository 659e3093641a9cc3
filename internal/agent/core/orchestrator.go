package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/config"
	"github.com/vaultmind/vaultmind/internal/agent/ratelimit"
	"github.com/vaultmind/vaultmind/internal/agent/telemetry"
)

// Terminal outcomes of one loop run.
const (
	outcomeAnswer      = "answer"
	outcomeRateLimited = "rate_limited"
	outcomeExhausted   = "exhausted"
	outcomeError       = "error"
	outcomeCancelled   = "cancelled"
)

const (
	continueNudge  = "Proceed with the next concrete step of your plan, or provide the final answer."
	plainTextNudge = "Your previous reply could not be processed as structured output. Answer the question in plain text."
	emptyNudge     = "Your last reply was empty. Continue with your plan or provide the final answer."
)

// Orchestrator drives the bounded reasoning loop for one request at a time.
// Instances are cheap; the only cross-request state is the injected limiter.
type Orchestrator struct {
	cfg       config.AgentConfig
	logger    *log.Logger
	provider  CompletionProvider
	search    SearchTool
	limiter   *ratelimit.Limiter
	usage     UsageRecorder
	telemetry *telemetry.Telemetry
}

// NewOrchestrator wires the loop's collaborators. usage and tele may be nil.
func NewOrchestrator(cfg config.AgentConfig, logger *log.Logger, provider CompletionProvider, search SearchTool, limiter *ratelimit.Limiter, usage UsageRecorder, tele *telemetry.Telemetry) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		search:    search,
		limiter:   limiter,
		usage:     usage,
		telemetry: tele,
	}
}

// Run executes the agent loop for req and streams events over the returned
// channel. The channel is closed after the terminal event; a cancelled
// context closes it without one and nothing is persisted by callers.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		o.run(ctx, req, out)
	}()
	return out
}

type runState struct {
	ledger        Ledger
	conversation  []Turn
	searchResults []string
	usedSearch    bool
	final         string
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Event) {
	start := time.Now()
	st := &runState{}

	emit := func(ev Event) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- ev:
			return true
		}
	}
	record := func(category, content string, todo []TodoItem) {
		st.ledger.Add(category, content, todo)
		o.telemetry.CountStep(category)
	}

	// Init: seed conversation, one status event, one analyze step.
	st.conversation = o.seedConversation(req)
	record(StepAnalyze, "Analyzing the question", nil)
	if !emit(StatusEvent("Analyzing your question...")) {
		o.finish(outcomeCancelled, start)
		return
	}
	if len(req.Passages) > 0 {
		record(StepRetriever, fmt.Sprintf("Found %d relevant passages in your documents", len(req.Passages)), nil)
	}

	outcome := o.iterate(ctx, req, st, emit, record)
	if outcome == outcomeCancelled {
		o.finish(outcome, start)
		return
	}
	if outcome == outcomeError {
		emit(ErrorEvent("I'm having trouble reaching my reasoning engine right now. Please try again in a moment."))
		o.finish(outcome, start)
		return
	}

	final := StripDirectiveSyntax(st.final)
	if final == "" {
		final = "I'm sorry — I could not generate a complete response to your question. Please try rephrasing it."
	}
	if !emit(AnswerEvent(final, o.sources(req, st), st.ledger.Steps())) {
		o.finish(outcomeCancelled, start)
		return
	}
	o.finish(outcome, start)
}

// iterate runs the provider round-trips until a terminal condition. It
// returns the outcome; st.final holds the answer for non-error outcomes.
func (o *Orchestrator) iterate(ctx context.Context, req Request, st *runState, emit func(Event) bool, record func(string, string, []TodoItem)) string {
	for i := 0; i < o.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			return outcomeCancelled
		}

		if ok, remaining := o.limiter.TryAcquire(); !ok {
			o.logger.Printf("rate limit reached (remaining=%d)", remaining)
			record(StepRateLimit, "Provider call budget exhausted for the current window", nil)
			emit(StatusEvent("I'm receiving a lot of requests right now. Please wait a moment and try again."))
			st.final = "I'm handling a high volume of requests at the moment, so I had to pause before finishing. Please try again shortly."
			return outcomeRateLimited
		}

		o.limiter.RecordCall()
		reply, err := o.complete(ctx, st, req.UserID, record)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeCancelled
			}
			o.logger.Printf("provider error: %v", err)
			record(StepError, "Completion provider failed", nil)
			return outcomeError
		}

		if strings.TrimSpace(reply) == "" {
			// Absorbed without a step; the iteration cap is the only budget.
			st.conversation = append(st.conversation,
				Turn{Role: RoleAssistant, Content: "(no reply)"},
				Turn{Role: RoleUser, Content: emptyNudge},
			)
			continue
		}

		d := ParseDirective(reply, req.Query)
		if d.Thought != "" {
			record(StepThought, d.Thought, nil)
			if !emit(StatusEvent(d.Thought)) {
				return outcomeCancelled
			}
		}
		if len(d.Todo) > 0 {
			summary := todoSummary(d.Todo, 5)
			record(StepPlan, summary, d.Todo)
			if !emit(StatusEvent("Planning: " + summary)) {
				return outcomeCancelled
			}
		}

		switch {
		case d.Kind == ActionSearch:
			record(StepSearch, "Searching the web for: "+d.Query, nil)
			if !emit(StatusEvent("Searching the web for: " + d.Query)) {
				return outcomeCancelled
			}
			o.telemetry.CountSearch()
			result := "Web search is not available."
			if o.search != nil {
				result = o.search.Search(ctx, d.Query)
			}
			if ctx.Err() != nil {
				return outcomeCancelled
			}
			st.searchResults = append(st.searchResults, result)
			st.usedSearch = true
			st.conversation = append(st.conversation,
				Turn{Role: RoleAssistant, Content: reply},
				Turn{Role: RoleUser, Content: fmt.Sprintf("Search results for %q:\n\n%s\n\n%s", d.Query, result, continueNudge)},
			)
			record(StepSearchComplete, fmt.Sprintf("Search finished (%d characters of results)", len(result)), nil)

		case d.Kind == ActionPlan:
			st.conversation = append(st.conversation,
				Turn{Role: RoleAssistant, Content: reply},
				Turn{Role: RoleUser, Content: continueNudge},
			)

		case d.Kind == ActionAnswer && d.Content != "":
			st.final = d.Content
			record(StepAnswer, "Final answer produced", nil)
			return outcomeAnswer

		case d.Kind == ActionNone:
			st.final = d.Content
			record(StepAnswer, "Final answer produced", nil)
			return outcomeAnswer

		default:
			// Unrecognized action, or an answer directive with empty
			// content: not actionable this iteration, keep the loop going.
			record(StepIntermediate, "Intermediate reply without actionable directive", nil)
			st.conversation = append(st.conversation,
				Turn{Role: RoleAssistant, Content: reply},
				Turn{Role: RoleUser, Content: continueNudge},
			)
		}
	}

	// Exhausted: degraded success, never an error.
	if len(st.searchResults) > 0 {
		st.final = "I wasn't able to complete every step, but here is what I found:\n\n" + strings.Join(st.searchResults, "\n\n")
	} else {
		st.final = "I'm sorry — I could not generate a complete response to your question. Please try rephrasing it."
	}
	record(StepAnswer, "Synthesized partial answer after reaching the iteration limit", nil)
	return outcomeExhausted
}

// complete performs one provider call, retrying exactly once in plain-text
// mode when the provider rejects its structured-output contract.
func (o *Orchestrator) complete(ctx context.Context, st *runState, userID string, record func(string, string, []TodoItem)) (string, error) {
	callStart := time.Now()
	comp, err := o.provider.Complete(ctx, st.conversation)
	o.telemetry.ObserveProviderLatency(time.Since(callStart))
	if err != nil {
		if classifyProvider(err) != ProviderStructuredOutput {
			return "", err
		}
		record(StepRetry, "Provider rejected structured output, retrying as plain text", nil)
		retryConv := append(append([]Turn{}, st.conversation...), Turn{Role: RoleUser, Content: plainTextNudge})
		comp, err = o.provider.Complete(ctx, retryConv)
		if err != nil {
			return "", err
		}
	}
	o.telemetry.AddTokens(comp.PromptTokens, comp.CompletionTokens)
	if o.usage != nil {
		o.usage.Record(ctx, "chat", comp.PromptTokens+comp.CompletionTokens, userID)
	}
	return comp.Text, nil
}

func (o *Orchestrator) finish(outcome string, start time.Time) {
	o.telemetry.ObserveOutcome(outcome)
	o.logger.Printf("request finished outcome=%s duration=%s", outcome, time.Since(start).Round(time.Millisecond))
}

// seedConversation builds the system directive plus bounded history and the
// live user query.
func (o *Orchestrator) seedConversation(req Request) []Turn {
	var b strings.Builder
	b.WriteString("You are VaultMind, a helpful banking assistant. Answer using the user's private documents when they are relevant, and never invent facts.\n\n")
	b.WriteString("You can take actions by replying with exactly one JSON object:\n")
	b.WriteString(`  {"action":"search","query":"...","thought":"why"} to search the web for current information` + "\n")
	b.WriteString(`  {"action":"plan","todo":["step 1","step 2"],"thought":"why"} to lay out a plan before acting` + "\n")
	b.WriteString(`  {"action":"answer","content":"..."} to deliver your final answer` + "\n")
	b.WriteString("For questions with multiple parts, start with a plan and work through it one search at a time. ")
	b.WriteString("Reply with plain text only when it is your complete final answer.\n\n")

	if len(req.Passages) > 0 {
		b.WriteString("Context from the user's documents:\n")
		for _, p := range req.Passages {
			b.WriteString(fmt.Sprintf("[Source: %s]\n%s\n\n", p.Source, p.Content))
		}
	} else {
		b.WriteString("No relevant documents were found for this question.\n")
	}

	turns := []Turn{{Role: RoleSystem, Content: b.String()}}
	history := req.History
	if max := o.cfg.HistoryTurns; len(history) > max {
		history = history[len(history)-max:]
	}
	turns = append(turns, history...)
	return append(turns, Turn{Role: RoleUser, Content: req.Query})
}

// sources assembles the deduplicated source list for the terminal event.
func (o *Orchestrator) sources(req Request, st *runState) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, p := range req.Passages {
		add(p.Source)
	}
	if st.usedSearch && o.search != nil {
		add(o.search.Name())
	}
	return out
}

func todoSummary(todo []TodoItem, max int) string {
	tasks := make([]string, 0, len(todo))
	for i, item := range todo {
		if i >= max {
			break
		}
		tasks = append(tasks, item.Task)
	}
	return strings.Join(tasks, "; ")
}
