package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
)

// Record is one document in a collection.
type Record struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// VectorStore is the similarity store used for strategies and episodic
// memory. Implementations are best-effort; callers treat errors as "no data".
type VectorStore interface {
	Write(ctx context.Context, collection string, rec Record) error
	// Query returns up to k records most similar to text. A non-empty where
	// restricts the search to records whose metadata matches every pair.
	Query(ctx context.Context, collection, text string, k int, where map[string]string) ([]Record, error)
}

var ErrEmptyQuery = errors.New("query cannot be empty")

// ChromemStore is an embedded VectorStore backed by chromem-go.
type ChromemStore struct {
	db       *chromem.DB
	embedder embeddings.Embedder
}

// NewChromemStore opens a persistent store at path, or an in-memory store
// when path is empty.
func NewChromemStore(path string, embedder embeddings.Embedder) (*ChromemStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating vector store directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector store %s: %w", path, err)
		}
	}
	return &ChromemStore{db: db, embedder: embedder}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return c, nil
}

func (s *ChromemStore) Write(ctx context.Context, collection string, rec Record) error {
	if strings.TrimSpace(rec.Content) == "" {
		return errors.New("record content cannot be empty")
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, []string{rec.Content})
	if err != nil {
		return fmt.Errorf("embedding record: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedder returned %d vectors for 1 document", len(vectors))
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Metadata:  rec.Metadata,
		Embedding: vectors[0],
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection, text string, k int, where map[string]string) ([]Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= doc count and caps it again against the
	// filtered set.
	count := c.Count()
	if count == 0 {
		return []Record{}, nil
	}
	if k > count {
		k = count
	}

	results, err := c.Query(ctx, text, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}
	out := make([]Record, len(results))
	for i, r := range results {
		out[i] = Record{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	return out, nil
}
