package strategy

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/vectorstore"
)

type fakeStore struct {
	writes   []vectorstore.Record
	queryErr error
	writeErr error
	results  []vectorstore.Record
}

func (f *fakeStore) Write(_ context.Context, collection string, rec vectorstore.Record) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, rec)
	return nil
}

func (f *fakeStore) Query(_ context.Context, collection, text string, k int, _ map[string]string) ([]vectorstore.Record, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func TestClient_RecordThreshold(t *testing.T) {
	store := &fakeStore{}
	c := NewClient(store, WithLogger(observability.NewLoggerTo(io.Discard)))
	ctx := context.Background()

	if err := c.Record(ctx, "plan a trip", "search then book", []string{"search"}, 0.74); !errors.Is(err, ErrBelowThreshold) {
		t.Errorf("Record(0.74) err = %v, want ErrBelowThreshold", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("writes = %d, want 0", len(store.writes))
	}

	if err := c.Record(ctx, "plan a trip", "search then book", []string{"search", "browser"}, 0.75); err != nil {
		t.Fatalf("Record(0.75): %v", err)
	}
	if len(store.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(store.writes))
	}
	w := store.writes[0]
	if w.Content != "plan a trip" || w.Metadata["approach"] != "search then book" || w.Metadata["tools_used"] != "search,browser" {
		t.Errorf("record = %+v", w)
	}
}

func TestClient_RecordStoreFailure(t *testing.T) {
	store := &fakeStore{writeErr: errors.New("unreachable")}
	c := NewClient(store)
	if err := c.Record(context.Background(), "g", "a", nil, 0.9); err == nil {
		t.Error("Record succeeded, want store error")
	}
}

func TestClient_RecallBestEffort(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("timeout")}
	c := NewClient(store)
	if got := c.Recall(context.Background(), "plan a trip", 3); len(got) != 0 {
		t.Errorf("Recall on failing store = %v, want empty", got)
	}
}

func TestClient_RecallFiltersLowSimilarity(t *testing.T) {
	store := &fakeStore{results: []vectorstore.Record{
		{ID: "a", Content: "plan a trip to rome", Similarity: 0.9, Metadata: map[string]string{"approach": "x", "tools_used": "search", "outcome_score": "0.800"}},
		{ID: "b", Content: "fix the sink", Similarity: 0.2},
	}}
	c := NewClient(store)
	got := c.Recall(context.Background(), "plan a trip", 3)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Recall = %+v, want only a", got)
	}
	if got[0].Score != 0.8 || !reflect.DeepEqual(got[0].ToolsUsed, []string{"search"}) {
		t.Errorf("strategy = %+v", got[0])
	}
}

func TestClient_ChromemRoundTrip(t *testing.T) {
	vs, err := vectorstore.NewChromemStore("", vectorstore.KeywordEmbedder{})
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	c := NewClient(vs, WithMinSimilarity(0.3))
	ctx := context.Background()

	if err := c.Record(ctx, "find cheap flights to lisbon", "search, compare, summarize", []string{"search", "web_fetch"}, 0.9); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := c.Recall(ctx, "cheap flights to lisbon in may", 3)
	if len(got) != 1 {
		t.Fatalf("Recall len = %d, want 1", len(got))
	}
	if got[0].GoalFingerprint != Fingerprint("find cheap flights to lisbon") {
		t.Errorf("fingerprint = %s", got[0].GoalFingerprint)
	}
	if Advice(got) == "" {
		t.Error("Advice returned empty text")
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("Plan  a Trip") != Fingerprint("plan a trip") {
		t.Error("fingerprint not normalized")
	}
}
