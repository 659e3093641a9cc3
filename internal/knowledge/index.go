// Package knowledge implements the retrieval collaborator: uploaded
// documents are chunked and indexed in a bleve BM25 index, and each chat
// request pulls the top passages plus their origin labels before the agent
// loop starts.
package knowledge

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/blevesearch/bleve"
)

// Passage is one retrieved excerpt with its origin label.
type Passage struct {
	Content string
	Source  string
	Score   float64
}

// chunkDoc is the indexed representation of one chunk.
type chunkDoc struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	DocID   string `json:"doc_id"`
}

// Index is the shared retrieval index. Safe for concurrent use; bleve
// handles its own locking but the chunk metadata map needs ours.
type Index struct {
	idx    bleve.Index
	logger *log.Logger

	mu   sync.RWMutex
	meta map[string]chunkDoc // chunk id -> stored chunk
	docs map[string][]string // document id -> chunk ids
}

// Open creates or reopens the index at path; an empty path builds an
// in-memory index.
func Open(path string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[KNOWLEDGE] ", log.LstdFlags)
	}
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{
		idx:    idx,
		logger: logger,
		meta:   make(map[string]chunkDoc),
		docs:   make(map[string][]string),
	}, nil
}

// IndexDocument indexes the chunks of one document under its source label
// (typically the filename). Re-indexing a document id replaces it.
func (x *Index) IndexDocument(docID, source string, chunks []string) error {
	if err := x.RemoveDocument(docID); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.idx.NewBatch()
	ids := make([]string, 0, len(chunks))
	for i, content := range chunks {
		id := fmt.Sprintf("%s#%03d", docID, i)
		doc := chunkDoc{Content: content, Source: source, DocID: docID}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
		x.meta[id] = doc
		ids = append(ids, id)
	}
	if err := x.idx.Batch(batch); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	x.docs[docID] = ids
	x.logger.Printf("indexed document %s (%d chunks)", docID, len(chunks))
	return nil
}

// RemoveDocument drops all chunks of a document from the index.
func (x *Index) RemoveDocument(docID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range x.docs[docID] {
		if err := x.idx.Delete(id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
		delete(x.meta, id)
	}
	delete(x.docs, docID)
	return nil
}

// Retrieve returns the top-k passages for a free-text query. An empty result
// is not an error; the caller renders the "no documents found" prompt.
func (x *Index) Retrieve(q string, k int) ([]Passage, error) {
	if k <= 0 {
		k = 4
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Passage
	for _, hit := range res.Hits {
		doc, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Passage{Content: doc.Content, Source: doc.Source, Score: hit.Score})
	}
	return out, nil
}

// Close releases the underlying index.
func (x *Index) Close() error { return x.idx.Close() }
