package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TurnLog persists conversation turns across restarts.
type TurnLog interface {
	AppendTurn(ctx context.Context, chatID string, t Turn) error
	LoadTurns(ctx context.Context, chatID string) ([]Turn, error)
}

// Book keeps one Manager per chat. Managers are loaded from the TurnLog on
// first use; log may be nil for a purely in-memory book.
type Book struct {
	mu       sync.Mutex
	log      TurnLog
	opts     []Option
	managers map[string]*Manager
}

func NewBook(log TurnLog, opts ...Option) *Book {
	return &Book{
		log:      log,
		opts:     opts,
		managers: make(map[string]*Manager),
	}
}

func (b *Book) manager(ctx context.Context, chatID string) (*Manager, error) {
	b.mu.Lock()
	m, ok := b.managers[chatID]
	b.mu.Unlock()
	if ok {
		return m, nil
	}

	// Load without the lock so a slow read for one chat does not block the rest.
	m = NewManager(b.opts...)
	if b.log != nil {
		turns, err := b.log.LoadTurns(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("load turns for %s: %w", chatID, err)
		}
		for _, t := range turns {
			m.Record(t)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.managers[chatID]; ok {
		return existing, nil
	}
	b.managers[chatID] = m
	return m, nil
}

// Record appends a turn to the chat's log and persists it. The in-memory
// log is updated even when persisting fails.
func (b *Book) Record(ctx context.Context, chatID string, t Turn) error {
	m, err := b.manager(ctx, chatID)
	if err != nil {
		return err
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	m.Record(t)
	if b.log == nil {
		return nil
	}
	if err := b.log.AppendTurn(ctx, chatID, t); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	return nil
}

// Context returns the chat's bounded context. See Manager.Context.
func (b *Book) Context(ctx context.Context, chatID string, maxTurns int) ([]Turn, error) {
	m, err := b.manager(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return m.Context(maxTurns), nil
}

// Forget drops the in-memory manager for a chat; the persisted log is kept.
func (b *Book) Forget(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.managers, chatID)
}

// Len returns the size of the chat's full log.
func (b *Book) Len(ctx context.Context, chatID string) (int, error) {
	m, err := b.manager(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return m.Len(), nil
}
