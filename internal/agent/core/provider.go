package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/config"
)

// chatProvider talks to an OpenAI-compatible chat completions endpoint.
// Groq exposes the same surface, so one client covers both provider types.
type chatProvider struct {
	cfg     config.LLMProviderConfig
	baseURL string
	client  *http.Client
}

func newChatProvider(cfg config.LLMProviderConfig, defaultBaseURL string) *chatProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &chatProvider{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends the conversation and returns the reply with token counts.
// Failures are returned as *ProviderError so the loop can classify them.
func (p *chatProvider) Complete(ctx context.Context, turns []Turn) (Completion, error) {
	if p.cfg.APIKey == "" {
		return Completion{}, &ProviderError{Kind: ProviderOther, Err: fmt.Errorf("api key not configured")}
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	msgs := make([]chatMsg, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, chatMsg{Role: t.Role, Content: t.Content})
	}
	body, err := json.Marshal(chatReq{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return Completion{}, &ProviderError{Kind: ProviderOther, Err: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, &ProviderError{Kind: ProviderOther, Err: fmt.Errorf("request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Completion{}, &ProviderError{Kind: ProviderTransient, Err: fmt.Errorf("do: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Completion{}, &ProviderError{Kind: classifyStatus(resp.StatusCode, string(raw)), Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, &ProviderError{Kind: ProviderTransient, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(out.Choices) == 0 {
		return Completion{}, &ProviderError{Kind: ProviderOther, Err: fmt.Errorf("no choices in response")}
	}
	return Completion{
		Text:             out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

// classifyStatus maps an HTTP failure onto the provider error taxonomy.
// Groq reports an unmet structured-output contract as a 400 with a
// json_validate_failed code and the raw attempt in failed_generation.
func classifyStatus(status int, body string) ProviderErrorKind {
	if status == http.StatusBadRequest &&
		(strings.Contains(body, "json_validate_failed") || strings.Contains(body, "failed_generation")) {
		return ProviderStructuredOutput
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return ProviderTransient
	}
	return ProviderOther
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
