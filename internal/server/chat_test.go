package server

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaultmind/vaultmind/internal/agent/core"
	"github.com/vaultmind/vaultmind/internal/knowledge"
	"github.com/vaultmind/vaultmind/internal/store"
)

type stubStore struct {
	sessions map[string]store.Session
	messages []store.Message
	nextID   int
}

func newStubStore() *stubStore {
	return &stubStore{sessions: map[string]store.Session{}}
}

func (s *stubStore) CreateSession(ctx context.Context, userID, title string) (string, error) {
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.sessions[id] = store.Session{ID: id, UserID: userID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return id, nil
}

func (s *stubStore) GetSession(ctx context.Context, id, userID string) (store.Session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return store.Session{}, sql.ErrNoRows
	}
	return sess, nil
}

func (s *stubStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	var out []store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *stubStore) DeleteSession(ctx context.Context, id, userID string) error {
	if _, ok := s.sessions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.sessions, id)
	return nil
}

func (s *stubStore) TouchSession(ctx context.Context, id string) error { return nil }

func (s *stubStore) AppendMessage(ctx context.Context, m store.Message) (string, error) {
	s.messages = append(s.messages, m)
	return "msg", nil
}

func (s *stubStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	var out []store.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]store.Message, error) {
	return s.ListMessages(ctx, sessionID, n)
}

type stubRunner struct {
	events []core.Event
}

func (r *stubRunner) Run(ctx context.Context, req core.Request) <-chan core.Event {
	ch := make(chan core.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type stubRetriever struct {
	passages []knowledge.Passage
	gotQuery string
}

func (r *stubRetriever) Retrieve(q string, k int) ([]knowledge.Passage, error) {
	r.gotQuery = q
	return r.passages, nil
}

func newChatHandler(st *stubStore, runner *stubRunner, retr Retriever) *ChatHandler {
	return &ChatHandler{
		Store:        st,
		Agent:        runner,
		Retriever:    retr,
		TopK:         4,
		HistoryTurns: 5,
		Logger:       log.New(os.Stderr, "[CHAT] ", log.LstdFlags),
	}
}

func doStream(t *testing.T, h *ChatHandler, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	if err := h.stream(c); err != nil {
		t.Fatalf("stream: %v", err)
	}
	return rec
}

func decodeEvents(t *testing.T, body string) []core.Event {
	t.Helper()
	var events []core.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestStreamCreatesSessionAndPersists(t *testing.T) {
	st := newStubStore()
	runner := &stubRunner{events: []core.Event{
		core.StatusEvent("Analyzing the question"),
		core.AnswerEvent("The savings rate is 4.2 percent.", []string{"savings.txt"}, []core.Step{
			{Index: 1, Action: "answer", Content: "The savings rate is 4.2 percent."},
		}),
	}}
	retr := &stubRetriever{passages: []knowledge.Passage{{Content: "rate is 4.2", Source: "savings.txt"}}}
	h := newChatHandler(st, runner, retr)

	rec := doStream(t, h, "user-1", `{"message":"What is the savings rate?"}`)
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Fatal("missing session header")
	}

	events := decodeEvents(t, rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != core.EventStatus || events[1].Type != core.EventAnswer {
		t.Fatalf("event types = %v %v", events[0].Type, events[1].Type)
	}
	if retr.gotQuery != "What is the savings rate?" {
		t.Fatalf("retriever query = %q", retr.gotQuery)
	}

	// user message plus terminal assistant message, with trace attached
	if len(st.messages) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(st.messages))
	}
	if st.messages[0].Role != core.RoleUser || st.messages[1].Role != core.RoleAssistant {
		t.Fatalf("roles = %s %s", st.messages[0].Role, st.messages[1].Role)
	}
	if st.messages[1].Content != "The savings rate is 4.2 percent." {
		t.Fatalf("assistant content = %q", st.messages[1].Content)
	}
	if len(st.messages[1].Reasoning) == 0 {
		t.Fatal("reasoning not persisted")
	}
	if len(st.messages[1].Sources) != 1 || st.messages[1].Sources[0] != "savings.txt" {
		t.Fatalf("sources = %v", st.messages[1].Sources)
	}
}

func TestStreamErrorEventPersisted(t *testing.T) {
	st := newStubStore()
	runner := &stubRunner{events: []core.Event{
		core.ErrorEvent("I'm having trouble reaching the language model right now. Please try again."),
	}}
	h := newChatHandler(st, runner, &stubRetriever{})

	rec := doStream(t, h, "user-1", `{"message":"hello"}`)
	events := decodeEvents(t, rec.Body.String())
	if len(events) != 1 || events[0].Type != core.EventError {
		t.Fatalf("events = %+v", events)
	}
	if len(st.messages) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(st.messages))
	}
	if st.messages[1].Content == "" {
		t.Fatal("error message not persisted as assistant turn")
	}
}

func TestStreamRejectsEmptyMessage(t *testing.T) {
	h := newChatHandler(newStubStore(), &stubRunner{}, &stubRetriever{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"   "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("user_id", "user-1")
	err := h.stream(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	h := newChatHandler(newStubStore(), &stubRunner{}, &stubRetriever{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"session_id":"nope","message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("user_id", "user-1")
	err := h.stream(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamPassesHistory(t *testing.T) {
	st := newStubStore()
	sessionID, _ := st.CreateSession(context.Background(), "user-1", "Rates")
	st.messages = append(st.messages,
		store.Message{SessionID: sessionID, Role: core.RoleUser, Content: "earlier question"},
		store.Message{SessionID: sessionID, Role: core.RoleAssistant, Content: "earlier answer"},
	)

	var gotReq core.Request
	runner := &capturingRunner{}
	h := newChatHandler(st, &stubRunner{events: []core.Event{core.AnswerEvent("ok", nil, nil)}}, &stubRetriever{})
	h.Agent = runner

	doStream(t, h, "user-1", `{"session_id":"`+sessionID+`","message":"follow up"}`)
	gotReq = runner.req
	if len(gotReq.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(gotReq.History))
	}
	if gotReq.History[0].Content != "earlier question" {
		t.Fatalf("history[0] = %+v", gotReq.History[0])
	}
	if gotReq.UserID != "user-1" {
		t.Fatalf("user id = %q", gotReq.UserID)
	}
}

type capturingRunner struct {
	req core.Request
}

func (r *capturingRunner) Run(ctx context.Context, req core.Request) <-chan core.Event {
	r.req = req
	ch := make(chan core.Event, 1)
	ch <- core.AnswerEvent("ok", nil, nil)
	close(ch)
	return ch
}

func TestSessionTitle(t *testing.T) {
	if got := sessionTitle("What is the wire transfer limit for business accounts"); got != "What is the wire transfer limit" {
		t.Fatalf("title = %q", got)
	}
	if got := sessionTitle("hi"); got != "hi" {
		t.Fatalf("title = %q", got)
	}
}
