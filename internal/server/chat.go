package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vaultmind/vaultmind/internal/agent/core"
	"github.com/vaultmind/vaultmind/internal/knowledge"
	"github.com/vaultmind/vaultmind/internal/store"
)

// AgentRunner is the reasoning loop as the HTTP layer sees it.
type AgentRunner interface {
	Run(ctx context.Context, req core.Request) <-chan core.Event
}

// ChatStore is the slice of the persistence layer the chat handler needs.
type ChatStore interface {
	CreateSession(ctx context.Context, userID, title string) (string, error)
	GetSession(ctx context.Context, id, userID string) (store.Session, error)
	ListSessions(ctx context.Context, userID string) ([]store.Session, error)
	DeleteSession(ctx context.Context, id, userID string) error
	TouchSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, m store.Message) (string, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	RecentTurns(ctx context.Context, sessionID string, n int) ([]store.Message, error)
}

// Retriever supplies knowledge-base passages for a query.
type Retriever interface {
	Retrieve(q string, k int) ([]knowledge.Passage, error)
}

type ChatHandler struct {
	Store        ChatStore
	Agent        AgentRunner
	Retriever    Retriever
	TopK         int
	HistoryTurns int
	Logger       *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.GET("/sessions", h.listSessions)
	g.GET("/sessions/:id/messages", h.listMessages)
	g.DELETE("/sessions/:id", h.deleteSession)
	g.POST("/stream", h.stream)
}

func (h *ChatHandler) listSessions(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	sessions, err := h.Store.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) listMessages(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	ctx := c.Request().Context()
	sessionID := c.Param("id")
	if _, err := h.Store.GetSession(ctx, sessionID, userID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	msgs, err := h.Store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID: m.ID, Role: m.Role, Content: m.Content,
			Sources: m.Sources, Reasoning: m.Reasoning, CreatedAt: m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) deleteSession(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if err := h.Store.DeleteSession(c.Request().Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// stream answers one chat message as newline-delimited JSON events. The
// connection stays open until the terminal answer or error event.
func (h *ChatHandler) stream(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	ctx := c.Request().Context()
	sessionID := req.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = h.Store.CreateSession(ctx, userID, sessionTitle(req.Message))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	} else if _, err := h.Store.GetSession(ctx, sessionID, userID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	history, err := h.Store.RecentTurns(ctx, sessionID, h.HistoryTurns*2)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Store.AppendMessage(ctx, store.Message{SessionID: sessionID, Role: core.RoleUser, Content: req.Message}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	agentReq := core.Request{Query: req.Message, UserID: userID}
	for _, m := range history {
		agentReq.History = append(agentReq.History, core.Turn{Role: m.Role, Content: m.Content})
	}
	if h.Retriever != nil {
		passages, err := h.Retriever.Retrieve(req.Message, h.TopK)
		if err != nil {
			h.Logger.Printf("retrieve for session %s: %v", sessionID, err)
		}
		for _, p := range passages {
			agentReq.Passages = append(agentReq.Passages, core.Passage{Content: p.Content, Source: p.Source})
		}
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("X-Session-ID", sessionID)
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	enc := json.NewEncoder(resp.Writer)
	for ev := range h.Agent.Run(ctx, agentReq) {
		if err := enc.Encode(ev); err != nil {
			h.Logger.Printf("write event for session %s: %v", sessionID, err)
			return nil
		}
		flusher.Flush()
		if ev.Terminal() {
			h.persistTerminal(ctx, sessionID, ev)
		}
	}
	return nil
}

// persistTerminal stores the assistant's final message unless the client is
// already gone; a cancelled request leaves only the user message behind.
func (h *ChatHandler) persistTerminal(ctx context.Context, sessionID string, ev core.Event) {
	if ctx.Err() != nil {
		return
	}
	content := ev.Response
	if ev.Type == core.EventError {
		content = ev.Content
	}
	var reasoning json.RawMessage
	if ev.Reasoning != nil {
		if b, err := json.Marshal(ev.Reasoning); err == nil {
			reasoning = b
		}
	}
	if _, err := h.Store.AppendMessage(ctx, store.Message{
		SessionID: sessionID,
		Role:      core.RoleAssistant,
		Content:   content,
		Sources:   ev.Sources,
		Reasoning: reasoning,
	}); err != nil {
		h.Logger.Printf("persist answer for session %s: %v", sessionID, err)
		return
	}
	if err := h.Store.TouchSession(ctx, sessionID); err != nil {
		h.Logger.Printf("touch session %s: %v", sessionID, err)
	}
}

// sessionTitle derives a short title from the first message.
func sessionTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > 6 {
		words = words[:6]
	}
	title := strings.Join(words, " ")
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
