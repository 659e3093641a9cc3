package core

import (
	"fmt"
	"os"

	"github.com/vaultmind/vaultmind/config"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	openaiBaseURL = "https://api.openai.com/v1"
)

// NewCompletionProvider builds the configured completion provider. The
// llm.provider key selects an entry from llm.providers; an unconfigured map
// falls back to a Groq provider driven by environment variables.
func NewCompletionProvider(cfg config.LLMConfig) (CompletionProvider, error) {
	name := cfg.Provider
	if name == "" {
		name = "groq"
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		pc = config.LLMProviderConfig{Type: name}
	}
	if pc.Type == "" {
		pc.Type = name
	}

	switch pc.Type {
	case "groq":
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("GROQ_API_KEY")
		}
		if pc.Model == "" {
			pc.Model = "llama-3.3-70b-versatile"
		}
		return newChatProvider(pc, groqBaseURL), nil
	case "openai":
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if pc.Model == "" {
			pc.Model = "gpt-4o-mini"
		}
		return newChatProvider(pc, openaiBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", pc.Type)
	}
}
