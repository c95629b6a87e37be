package history

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "human"
	RoleAssistant Role = "ai"
	RoleSystem    Role = "system"
)

// Turn is one conversational message. Score is only set on turns returned
// by Context that were eligible for pruning.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Score     *int      `json:"score,omitempty"`
}

const (
	DefaultRecentKeep    = 10
	DefaultImportantKeep = 5
	DefaultMaxTurns      = 20
)

type Option func(*Manager)

func WithScorer(s Scorer) Option {
	return func(m *Manager) {
		if s != nil {
			m.scorer = s
		}
	}
}

func WithRecentKeep(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.recentKeep = n
		}
	}
}

func WithImportantKeep(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.importantKeep = n
		}
	}
}

// Manager owns the full turn log of one conversation and derives the
// bounded context handed to the planner. The log itself is never trimmed.
type Manager struct {
	mu            sync.RWMutex
	turns         []Turn
	scorer        Scorer
	recentKeep    int
	importantKeep int
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		scorer:        KeywordScorer{},
		recentKeep:    DefaultRecentKeep,
		importantKeep: DefaultImportantKeep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends a turn. A zero timestamp is set to now.
func (m *Manager) Record(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	t.Score = nil
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
}

// Len returns the size of the full log.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Context returns the turns to surface at the next planning cycle. Logs of
// at most maxTurns turns are returned verbatim. Longer logs keep the most
// recent turns verbatim, the highest-scoring older turns, and one summary
// turn standing in for everything else, ordered summary, important, recent.
// Context does not modify the log.
func (m *Manager) Context(maxTurns int) []Turn {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.turns) <= maxTurns || len(m.turns) <= m.recentKeep {
		out := make([]Turn, len(m.turns))
		copy(out, m.turns)
		return out
	}

	cut := len(m.turns) - m.recentKeep
	older := m.turns[:cut]
	recent := m.turns[cut:]

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(older))
	for i, t := range older {
		reply := ""
		if i+1 < len(m.turns) {
			reply = m.turns[i+1].Text
		}
		ranked[i] = scored{index: i, score: m.scorer.Score(t.Text, reply)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].index > ranked[b].index
	})

	keep := m.importantKeep
	if keep > len(ranked) {
		keep = len(ranked)
	}
	important := ranked[:keep]
	sort.Slice(important, func(a, b int) bool { return important[a].index < important[b].index })

	chosen := make(map[int]bool, keep)
	for _, s := range important {
		chosen[s.index] = true
	}
	var collapsed []Turn
	for i, t := range older {
		if !chosen[i] {
			collapsed = append(collapsed, t)
		}
	}

	out := make([]Turn, 0, 1+keep+len(recent))
	if len(collapsed) > 0 {
		out = append(out, Turn{
			Role:      RoleSystem,
			Text:      fmt.Sprintf("[Previous conversation summary: %s]", summarize(collapsed)),
			Timestamp: collapsed[len(collapsed)-1].Timestamp,
		})
	}
	for _, s := range important {
		t := older[s.index]
		score := s.score
		t.Score = &score
		out = append(out, t)
	}
	out = append(out, recent...)
	return out
}

// summarize is extractive: the opening of each substantive user message.
func summarize(turns []Turn) string {
	var topics []string
	for _, t := range turns {
		if t.Role != RoleUser || len(t.Text) <= 10 {
			continue
		}
		topic := []rune(t.Text)
		if len(topic) > 50 {
			topic = topic[:50]
		}
		topics = append(topics, strings.TrimSpace(string(topic)))
		if len(topics) == 5 {
			break
		}
	}
	if len(topics) == 0 {
		return "Earlier conversation about various topics."
	}
	return "Discussed: " + strings.Join(topics, "; ")
}
