package web_search

import (
	"context"
	"errors"

	"github.com/vaultmind/vaultmind/tools/web_search/brave"
	"github.com/vaultmind/vaultmind/tools/web_search/models"
	"github.com/vaultmind/vaultmind/tools/web_search/serper"
	"github.com/vaultmind/vaultmind/tools/web_search/tavily"
)

// WebSearcher discovers the top k results for a free-text query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// NewWebSearcher builds the provider-specific client.
func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case TavilyProvider:
		return tavily.Search{ApiKey: apiKey}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
