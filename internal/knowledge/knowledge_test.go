package knowledge

import (
	"strings"
	"testing"
)

func TestChunkOverlap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := Chunk(text, 100, 20)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 {
		t.Fatalf("first chunk len = %d", len(chunks[0]))
	}
	// step is 80, so the last window starts at 160 and holds the tail
	if len(chunks[2]) != 90 {
		t.Fatalf("last chunk len = %d", len(chunks[2]))
	}
}

func TestChunkShortText(t *testing.T) {
	chunks := Chunk("short text", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestChunkEmpty(t *testing.T) {
	if chunks := Chunk("   \n  ", 1000, 200); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func TestIndexRetrieve(t *testing.T) {
	idx, err := Open("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	err = idx.IndexDocument("doc-1", "savings.txt", []string{
		"The premium savings account pays 4.2 percent annual interest.",
		"Wire transfers complete within one business day.",
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	err = idx.IndexDocument("doc-2", "cards.txt", []string{
		"The travel credit card has no foreign transaction fees.",
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	passages, err := idx.Retrieve("savings interest rate", 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("no passages")
	}
	if passages[0].Source != "savings.txt" {
		t.Fatalf("top source = %q", passages[0].Source)
	}
	if !strings.Contains(passages[0].Content, "4.2 percent") {
		t.Fatalf("top content = %q", passages[0].Content)
	}
}

func TestIndexRemoveDocument(t *testing.T) {
	idx, err := Open("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	if err := idx.IndexDocument("doc-1", "fees.txt", []string{"Overdraft fees are waived for premium members."}); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := idx.RemoveDocument("doc-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	passages, err := idx.Retrieve("overdraft fees", 4)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(passages) != 0 {
		t.Fatalf("passages = %v, want none", passages)
	}
}

func TestExtractTextPlain(t *testing.T) {
	out, err := ExtractText(strings.NewReader("plain body"), "notes.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "plain body" {
		t.Fatalf("out = %q", out)
	}
}

func TestExtractTextHTML(t *testing.T) {
	html := `<html><head><title>Fees</title></head><body><article><p>Monthly maintenance fee is five dollars.</p></article></body></html>`
	out, err := ExtractText(strings.NewReader(html), "fees.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, "Monthly maintenance fee") {
		t.Fatalf("out = %q", out)
	}
	if strings.Contains(out, "<p>") {
		t.Fatalf("tags leaked: %q", out)
	}
}
