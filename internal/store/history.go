package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/novaflow/internal/history"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; the gateway and scheduler share the handle.
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			task_description TEXT,
			interval_seconds INTEGER,
			last_run DATETIME,
			status TEXT DEFAULT 'active'
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// AppendTurn implements history.TurnLog.
func (h *HistoryStore) AppendTurn(ctx context.Context, chatID string, t history.Turn) error {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	query := `INSERT INTO messages (chat_id, role, content, timestamp) VALUES (?, ?, ?, ?)`
	_, err := h.DB.ExecContext(ctx, query, chatID, string(t.Role), t.Text, ts.UTC().Format(time.RFC3339Nano))
	return err
}

// LoadTurns implements history.TurnLog. Turns come back in insertion order.
func (h *HistoryStore) LoadTurns(ctx context.Context, chatID string) ([]history.Turn, error) {
	query := `SELECT role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id ASC`
	rows, err := h.DB.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var role, content, ts string
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, err
		}
		turns = append(turns, history.Turn{
			Role:      parseRole(role),
			Text:      content,
			Timestamp: parseTimestamp(ts),
		})
	}
	return turns, rows.Err()
}

func parseRole(role string) history.Role {
	switch role {
	case "ai":
		return history.RoleAssistant
	case "system":
		return history.RoleSystem
	default:
		return history.RoleUser
	}
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (h *HistoryStore) AddTask(ctx context.Context, chatID string, description string, intervalSeconds int) (int64, error) {
	if intervalSeconds <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %d", intervalSeconds)
	}
	query := `INSERT INTO tasks (chat_id, task_description, interval_seconds, last_run) VALUES (?, ?, ?, datetime('now', '-365 days'))`
	res, err := h.DB.ExecContext(ctx, query, chatID, description, intervalSeconds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (h *HistoryStore) GetPendingTasks(ctx context.Context) ([]ScheduledTask, error) {
	query := `
		SELECT id, chat_id, task_description, interval_seconds
		FROM tasks
		WHERE status = 'active'
		AND (last_run IS NULL OR (julianday('now') - julianday(last_run)) * 86400 >= interval_seconds)
		ORDER BY id`
	rows, err := h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Description, &t.IntervalSeconds); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (h *HistoryStore) UpdateTaskLastRun(ctx context.Context, id int64) error {
	query := `UPDATE tasks SET last_run = datetime('now') WHERE id = ?`
	_, err := h.DB.ExecContext(ctx, query, id)
	return err
}

func (h *HistoryStore) ClearTasks(ctx context.Context, chatID string) error {
	query := `DELETE FROM tasks WHERE chat_id = ?`
	_, err := h.DB.ExecContext(ctx, query, chatID)
	return err
}
