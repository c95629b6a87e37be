package history

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func buildLog(n int, decisions map[int]bool) *Manager {
	m := NewManager()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		text := fmt.Sprintf("ok sounds fine to me number %d", i)
		if decisions[i] {
			text = "let's go with X for this one"
		}
		m.Record(Turn{Role: role, Text: text, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	return m
}

// turnNumber maps a returned turn back to its 1-based position by timestamp.
func turnNumber(t Turn) int {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return int(t.Timestamp.Sub(base) / time.Minute)
}

func TestManager_ShortLogVerbatim(t *testing.T) {
	m := buildLog(12, nil)
	got := m.Context(20)
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	for i, turn := range got {
		if turn.Score != nil {
			t.Errorf("turn %d scored on a log that needs no pruning", i)
		}
	}
}

func TestManager_DecisionTurnsSurvive(t *testing.T) {
	m := buildLog(25, map[int]bool{3: true, 17: true})
	got := m.Context(20)

	// summary + 5 important + 10 recent
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if got[0].Role != RoleSystem || !strings.HasPrefix(got[0].Text, "[Previous conversation summary:") {
		t.Errorf("first turn = %+v, want summary placeholder", got[0])
	}

	important := got[1:6]
	found3 := false
	for _, turn := range important {
		if turnNumber(turn) == 3 {
			found3 = true
			if turn.Score == nil || *turn.Score != 3 {
				t.Errorf("turn 3 score = %v, want 3", turn.Score)
			}
		}
	}
	if !found3 {
		t.Error("turn 3 missing from the important set")
	}

	recent := got[6:]
	for i, turn := range recent {
		if want := 16 + i; turnNumber(turn) != want {
			t.Errorf("recent[%d] = turn %d, want %d", i, turnNumber(turn), want)
		}
	}
	if recent[1].Text != "let's go with X for this one" {
		t.Errorf("turn 17 text = %q, want verbatim decision", recent[1].Text)
	}
}

func TestManager_DecisionTurnsOutsideRecencyWindow(t *testing.T) {
	m := buildLog(30, map[int]bool{3: true, 17: true})
	got := m.Context(20)

	var important []int
	for _, turn := range got[1:6] {
		important = append(important, turnNumber(turn))
	}
	// Both decisions, then ties resolved toward the most recent filler.
	want := []int{3, 17, 18, 19, 20}
	if !reflect.DeepEqual(important, want) {
		t.Errorf("important = %v, want %v", important, want)
	}
}

func TestManager_TiesPreferRecent(t *testing.T) {
	m := buildLog(25, nil)
	got := m.Context(20)
	var important []int
	for _, turn := range got[1:6] {
		important = append(important, turnNumber(turn))
	}
	want := []int{11, 12, 13, 14, 15}
	if !reflect.DeepEqual(important, want) {
		t.Errorf("important = %v, want %v", important, want)
	}
}

func TestManager_ContextIsIdempotent(t *testing.T) {
	m := buildLog(40, map[int]bool{5: true, 9: true})
	first := m.Context(20)
	second := m.Context(20)
	if !reflect.DeepEqual(first, second) {
		t.Error("Context returned different sequences on repeated calls")
	}
	if m.Len() != 40 {
		t.Errorf("Len = %d after Context, want 40", m.Len())
	}
}

func TestManager_RecentFloorNeverScored(t *testing.T) {
	calls := 0
	scorer := ScorerFunc(func(text, reply string) int {
		calls++
		return 0
	})
	m := NewManager(WithScorer(scorer))
	for i := 0; i < 25; i++ {
		m.Record(Turn{Role: RoleUser, Text: "filler"})
	}
	m.Context(20)
	if calls != 15 {
		t.Errorf("scorer calls = %d, want 15", calls)
	}
}

func TestManager_SummaryText(t *testing.T) {
	m := NewManager(WithRecentKeep(2), WithImportantKeep(0))
	m.Record(Turn{Role: RoleUser, Text: "plan the offsite agenda for next quarter please"})
	m.Record(Turn{Role: RoleAssistant, Text: "sure"})
	m.Record(Turn{Role: RoleUser, Text: "hi"})
	m.Record(Turn{Role: RoleUser, Text: "latest"})
	m.Record(Turn{Role: RoleAssistant, Text: "reply"})

	got := m.Context(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := "[Previous conversation summary: Discussed: plan the offsite agenda for next quarter please]"
	if got[0].Text != want {
		t.Errorf("summary = %q, want %q", got[0].Text, want)
	}
}

func TestKeywordScorer(t *testing.T) {
	s := KeywordScorer{}
	cases := []struct {
		text, reply string
		want        int
	}{
		{"ok sounds fine", "", 0},
		{"let's go with x", "", 3},
		{"no, that's wrong", "", 3},
		{"i prefer mornings", "", 2},
		{"remind me tomorrow", "", 2},
		{"ask Alice and Bob and Carol", "", 4},
		{"what time is it?", strings.Repeat("a", 51), 1},
		{"what time is it?", "short", 0},
		{"no, actually go with Paris, remind me, i prefer Rome", "", 10},
	}
	for _, c := range cases {
		if got := s.Score(c.text, c.reply); got != c.want {
			t.Errorf("Score(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

type memLog struct {
	turns map[string][]Turn
	fail  bool
}

func (l *memLog) AppendTurn(_ context.Context, chatID string, t Turn) error {
	if l.fail {
		return errors.New("disk full")
	}
	l.turns[chatID] = append(l.turns[chatID], t)
	return nil
}

func (l *memLog) LoadTurns(_ context.Context, chatID string) ([]Turn, error) {
	return l.turns[chatID], nil
}

func TestBook_LoadsPersistedTurns(t *testing.T) {
	log := &memLog{turns: map[string][]Turn{
		"chat-1": {{Role: RoleUser, Text: "earlier", Timestamp: time.Now()}},
	}}
	book := NewBook(log)
	ctx := context.Background()

	if err := book.Record(ctx, "chat-1", Turn{Role: RoleAssistant, Text: "later"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := book.Context(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(got) != 2 || got[0].Text != "earlier" || got[1].Text != "later" {
		t.Errorf("context = %+v, want [earlier later]", got)
	}
	if len(log.turns["chat-1"]) != 2 {
		t.Errorf("persisted %d turns, want 2", len(log.turns["chat-1"]))
	}

	other, err := book.Context(ctx, "chat-2", 0)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("chat-2 has %d turns, want 0", len(other))
	}
}

func TestBook_PersistFailureKeepsMemory(t *testing.T) {
	log := &memLog{turns: map[string][]Turn{}, fail: true}
	book := NewBook(log)
	ctx := context.Background()

	if err := book.Record(ctx, "c", Turn{Role: RoleUser, Text: "hello"}); err == nil {
		t.Fatal("Record succeeded, want persist error")
	}
	got, _ := book.Context(ctx, "c", 0)
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

// gatedLog blocks LoadTurns for one chat until release is closed.
type gatedLog struct {
	slow    string
	started chan struct{}
	release chan struct{}
}

func (l *gatedLog) AppendTurn(context.Context, string, Turn) error { return nil }

func (l *gatedLog) LoadTurns(ctx context.Context, chatID string) ([]Turn, error) {
	if chatID == l.slow {
		close(l.started)
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

func TestBook_SlowLoadDoesNotBlockOtherChats(t *testing.T) {
	log := &gatedLog{slow: "slow", started: make(chan struct{}), release: make(chan struct{})}
	book := NewBook(log)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := book.Context(ctx, "slow", 0)
		done <- err
	}()
	<-log.started

	fast := make(chan error, 1)
	go func() {
		fast <- book.Record(ctx, "fast", Turn{Role: RoleUser, Text: "hi"})
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast chat blocked behind a slow load")
	}

	close(log.release)
	if err := <-done; err != nil {
		t.Fatalf("slow Context: %v", err)
	}
}

func TestBook_ConcurrentFirstAccessSharesManager(t *testing.T) {
	book := NewBook(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = book.Record(ctx, "c", Turn{Role: RoleUser, Text: fmt.Sprintf("turn %d", i)})
		}(i)
	}
	wg.Wait()

	n, err := book.Len(ctx, "c")
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 8 {
		t.Errorf("Len = %d, want 8", n)
	}
}
