package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vaultmind/vaultmind/internal/store"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("vaultmind"),
		tcPostgres.WithUsername("vaultmind"),
		tcPostgres.WithPassword("vaultmind"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	return fmt.Sprintf("postgres://vaultmind:vaultmind@%s:%s/vaultmind?sslmode=disable", host, port.Port())
}

func applySchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dsn := startPostgres(t, ctx)
	applySchema(t, ctx, dsn)

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	userID, err := st.CreateUser(ctx, "alice@example.com", "hash-1")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateUser(ctx, "alice@example.com", "hash-2"); !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("duplicate signup err = %v", err)
	}
	gotID, hash, err := st.GetUserByEmail(ctx, "alice@example.com")
	if err != nil || gotID != userID || hash != "hash-1" {
		t.Fatalf("get user: id=%s hash=%s err=%v", gotID, hash, err)
	}

	// Password reset token lifecycle.
	if err := st.CreateResetToken(ctx, userID, "tok-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	owner, err := st.ConsumeResetToken(ctx, "tok-1")
	if err != nil || owner != userID {
		t.Fatalf("consume token: owner=%s err=%v", owner, err)
	}
	if _, err := st.ConsumeResetToken(ctx, "tok-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second consume err = %v", err)
	}
	if err := st.CreateResetToken(ctx, userID, "tok-old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("create expired token: %v", err)
	}
	if _, err := st.ConsumeResetToken(ctx, "tok-old"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expired consume err = %v", err)
	}
	purged, err := st.DeleteExpiredResetTokens(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("purge tokens: n=%d err=%v", purged, err)
	}

	// Session and message history.
	sessionID, err := st.CreateSession(ctx, userID, "Savings rates")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{SessionID: sessionID, Role: "user", Content: "What is the savings rate?"}); err != nil {
		t.Fatalf("append user msg: %v", err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   "It is 4.2 percent.",
		Sources:   []string{"savings.txt"},
		Reasoning: []byte(`{"steps":[{"step":1,"action":"answer","content":"It is 4.2 percent."}]}`),
	}); err != nil {
		t.Fatalf("append assistant msg: %v", err)
	}

	msgs, err := st.ListMessages(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Sources[0] != "savings.txt" {
		t.Fatalf("sources = %v", msgs[1].Sources)
	}
	if len(msgs[1].Reasoning) == 0 {
		t.Fatal("reasoning not persisted")
	}

	turns, err := st.RecentTurns(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != "assistant" {
		t.Fatalf("turns = %+v", turns)
	}

	// Documents and chunks.
	docID, err := st.CreateDocument(ctx, userID, "savings.txt", 120, 2)
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := st.InsertChunks(ctx, docID, []string{"chunk one", "chunk two"}); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	var seen []string
	err = st.ListChunks(ctx, func(id, filename, content string) error {
		if id != docID || filename != "savings.txt" {
			return fmt.Errorf("unexpected chunk owner %s/%s", id, filename)
		}
		seen = append(seen, content)
		return nil
	})
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(seen) != 2 || seen[0] != "chunk one" {
		t.Fatalf("chunks = %v", seen)
	}
	if err := st.DeleteDocument(ctx, docID, userID); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if err := st.DeleteDocument(ctx, docID, userID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete err = %v", err)
	}

	// Retention: a freshly touched session must survive the stale sweep.
	if err := st.TouchSession(ctx, sessionID); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	removed, err := st.DeleteStaleSessions(ctx, 24*time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("stale sweep: n=%d err=%v", removed, err)
	}
}
