package knowledge

import (
	"fmt"
	"io"
	nurl "net/url"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Chunk splits text into overlapping windows. Windows advance by
// size-overlap runes so retrieval never loses a sentence straddling a
// boundary.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ExtractText pulls plain text out of an uploaded file. HTML goes through
// readability so navigation and boilerplate drop out; everything else is
// treated as plain text.
func ExtractText(r io.Reader, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		base, _ := nurl.Parse("file:///" + filename)
		article, err := readability.FromReader(r, base)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filename, err)
		}
		return article.TextContent, nil
	default:
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filename, err)
		}
		return string(b), nil
	}
}
