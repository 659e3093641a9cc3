package web_search

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/config"
	"github.com/vaultmind/vaultmind/tools/web_search/models"
)

// Tool is the agent-facing search collaborator. It summarizes the top hits
// as natural language and never fails: provider errors become explanatory
// text consumed like any other result.
type Tool struct {
	searcher WebSearcher
	label    string
	k        int
	timeout  time.Duration
	logger   *log.Logger
}

// NewTool builds the search tool from configuration.
func NewTool(cfg config.SearchConfig, logger *log.Logger) (*Tool, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	provider := Provider(cfg.Provider)
	if provider == "" {
		provider = TavilyProvider
	}
	searcher, err := NewWebSearcher(provider, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	k := cfg.MaxResults
	if k <= 0 {
		k = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	labels := map[Provider]string{
		TavilyProvider: "Web Search (Tavily)",
		SerperProvider: "Web Search (Serper)",
		BraveProvider:  "Web Search (Brave)",
	}
	return &Tool{
		searcher: searcher,
		label:    labels[provider],
		k:        k,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Name returns the human-readable source label for answers that used search.
func (t *Tool) Name() string { return t.label }

// Search runs the query and formats the hits. Failures are folded into the
// returned text.
func (t *Tool) Search(ctx context.Context, query string) string {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	results, err := t.searcher.Discover(ctx, query, t.k)
	if err != nil {
		t.logger.Printf("search failed for %q: %v", query, err)
		return fmt.Sprintf("Web search failed: %v. Answer from what you already know, or say the information is unavailable.", err)
	}
	if len(results) == 0 {
		return "Web search returned no results for this query."
	}
	return FormatResults(results)
}

// FormatResults renders hits the way the agent's prompt expects them.
func FormatResults(results []models.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("Source: %s (%s)\nContent: %s", r.Title, r.URL, r.Snippet))
	}
	return strings.Join(parts, "\n\n")
}
