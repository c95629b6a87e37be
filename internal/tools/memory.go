package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/novaflow/internal/vectorstore"
)

const MemoryCollection = "memories"

// MemoryQueryTool searches episodic memory: earlier exchanges stored by
// the agent after each goal.
type MemoryQueryTool struct {
	Store vectorstore.VectorStore
	Limit int
}

func NewMemoryQueryTool(store vectorstore.VectorStore) *MemoryQueryTool {
	return &MemoryQueryTool{Store: store, Limit: 5}
}

func (m *MemoryQueryTool) Name() string {
	return "memory_query"
}

func (m *MemoryQueryTool) Description() string {
	return "Search the agent's memory of earlier conversations and completed goals."
}

func (m *MemoryQueryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The natural language query to search for",
			},
		},
		"required": []string{"query"},
	}
}

func (m *MemoryQueryTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	// Memories are private to the chat that made them.
	var where map[string]string
	if chatID, ok := ChatIDFrom(ctx); ok && chatID != "" {
		where = map[string]string{"chat_id": chatID}
	}
	recs, err := m.Store.Query(ctx, MemoryCollection, args.Query, m.Limit, where)
	if err != nil {
		return "", fmt.Errorf("memory query failed: %w", err)
	}
	if len(recs) == 0 {
		return "No matching memories.", nil
	}

	var sb strings.Builder
	for i, r := range recs {
		fmt.Fprintf(&sb, "%d. (%.2f) %s\n", i+1, r.Similarity, r.Content)
	}
	return sb.String(), nil
}
