package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/vectorstore"
)

const (
	Collection       = "strategies"
	DefaultThreshold = 0.75
	// DefaultMinSimilarity drops recalled strategies that only share
	// incidental vocabulary with the goal.
	DefaultMinSimilarity = 0.5
	DefaultTimeout       = 5 * time.Second
)

var ErrBelowThreshold = errors.New("outcome score below strategy threshold")

// Strategy is a recorded successful approach. Records are written once and
// never mutated.
type Strategy struct {
	ID              string    `json:"id"`
	GoalFingerprint string    `json:"goal_fingerprint"`
	Goal            string    `json:"goal"`
	Approach        string    `json:"approach"`
	ToolsUsed       []string  `json:"tools_used"`
	Score           float64   `json:"outcome_score"`
	RecordedAt      time.Time `json:"recorded_at"`
	Similarity      float32   `json:"-"`
}

type Option func(*Client)

func WithThreshold(v float64) Option {
	return func(c *Client) {
		if v > 0 {
			c.threshold = v
		}
	}
}

func WithMinSimilarity(v float32) Option {
	return func(c *Client) { c.minSimilarity = v }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client records and recalls strategies in an external VectorStore. Both
// operations are best-effort.
type Client struct {
	store         vectorstore.VectorStore
	threshold     float64
	minSimilarity float32
	timeout       time.Duration
	logger        *observability.Logger
	metrics       *observability.Metrics
}

func NewClient(store vectorstore.VectorStore, opts ...Option) *Client {
	c := &Client{
		store:         store,
		threshold:     DefaultThreshold,
		minSimilarity: DefaultMinSimilarity,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold is the minimum outcome score that gets recorded.
func (c *Client) Threshold() float64 { return c.threshold }

// Record stores a successful approach. Scores below the threshold return
// ErrBelowThreshold without touching the store.
func (c *Client) Record(ctx context.Context, goal, approach string, toolsUsed []string, score float64) error {
	if score < c.threshold {
		return ErrBelowThreshold
	}
	s := Strategy{
		ID:              uuid.NewString(),
		GoalFingerprint: Fingerprint(goal),
		Goal:            goal,
		Approach:        approach,
		ToolsUsed:       toolsUsed,
		Score:           score,
		RecordedAt:      time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.Write(ctx, Collection, toRecord(s)); err != nil {
		c.metrics.StrategyOp("record", "error")
		return fmt.Errorf("record strategy: %w", err)
	}
	c.metrics.StrategyOp("record", "ok")
	c.logger.LogStrategy(s.GoalFingerprint, "record", map[string]any{"score": score, "tools": toolsUsed})
	return nil
}

// Recall returns up to n strategies for goals similar to goal, most similar
// first. Store failures yield an empty result.
func (c *Client) Recall(ctx context.Context, goal string, n int) []Strategy {
	if n <= 0 || strings.TrimSpace(goal) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recs, err := c.store.Query(ctx, Collection, goal, n, nil)
	if err != nil {
		log.Printf("strategy recall failed: %v", err)
		c.metrics.StrategyOp("recall", "error")
		return nil
	}
	c.metrics.StrategyOp("recall", "ok")

	var out []Strategy
	for _, r := range recs {
		if r.Similarity < c.minSimilarity {
			continue
		}
		out = append(out, fromRecord(r))
	}
	return out
}

// Fingerprint is a stable key for a goal's normalized text.
func Fingerprint(goal string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(goal)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}

// Advice formats recalled strategies as advisory prompt context.
func Advice(strategies []Strategy) string {
	if len(strategies) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Approaches that worked for similar goals (advisory only, do not copy blindly):\n")
	for i, s := range strategies {
		fmt.Fprintf(&sb, "%d. Goal: %s\n   Approach: %s\n   Tools: %s\n", i+1, s.Goal, s.Approach, strings.Join(s.ToolsUsed, ", "))
	}
	return sb.String()
}

func toRecord(s Strategy) vectorstore.Record {
	return vectorstore.Record{
		ID:      s.ID,
		Content: s.Goal,
		Metadata: map[string]string{
			"goal_fingerprint": s.GoalFingerprint,
			"approach":         s.Approach,
			"tools_used":       strings.Join(s.ToolsUsed, ","),
			"outcome_score":    strconv.FormatFloat(s.Score, 'f', 3, 64),
			"recorded_at":      s.RecordedAt.Format(time.RFC3339),
		},
	}
}

func fromRecord(r vectorstore.Record) Strategy {
	s := Strategy{
		ID:              r.ID,
		Goal:            r.Content,
		GoalFingerprint: r.Metadata["goal_fingerprint"],
		Approach:        r.Metadata["approach"],
		Similarity:      r.Similarity,
	}
	if tools := r.Metadata["tools_used"]; tools != "" {
		s.ToolsUsed = strings.Split(tools, ",")
	}
	if v, err := strconv.ParseFloat(r.Metadata["outcome_score"], 64); err == nil {
		s.Score = v
	}
	if t, err := time.Parse(time.RFC3339, r.Metadata["recorded_at"]); err == nil {
		s.RecordedAt = t
	}
	return s
}
