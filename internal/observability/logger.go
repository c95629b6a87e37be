package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeWave        EventType = "wave"
	EventTypeStep        EventType = "step"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeReplan      EventType = "replan"
	EventTypeTransition  EventType = "transition"
	EventTypeStrategy    EventType = "strategy"
	EventTypeHistory     EventType = "history"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. It is safe for concurrent use; steps
// running in the same wave share one Logger.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewLoggerTo writes events to w. LLM transcripts are not persisted.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{out: w}
}

// Log emits a structured JSON event, one per line.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": \"failed to marshal event: %v\"}", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(chatID, goalID string, version int, waves any) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: goalID,
		Data: map[string]any{
			"version": version,
			"waves":   waves,
		},
	})
}

func (l *Logger) LogWave(chatID, goalID string, index, steps int) {
	l.Log(Event{
		Type:   EventTypeWave,
		ChatID: chatID,
		TaskID: goalID,
		Data: map[string]any{
			"index": index,
			"steps": steps,
		},
	})
}

func (l *Logger) LogStep(chatID, goalID, stepID, capability, status, errMsg string) {
	data := map[string]string{
		"step":       stepID,
		"capability": capability,
		"status":     status,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	l.Log(Event{
		Type:   EventTypeStep,
		ChatID: chatID,
		TaskID: goalID,
		Data:   data,
	})
}

func (l *Logger) LogPolicy(chatID, goalID, capability, tier, effect, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		ChatID: chatID,
		TaskID: goalID,
		Data: map[string]string{
			"capability": capability,
			"tier":       tier,
			"effect":     effect,
			"reason":     reason,
		},
	})
}

func (l *Logger) LogReplan(chatID, goalID, decision, reason string) {
	l.Log(Event{
		Type:   EventTypeReplan,
		ChatID: chatID,
		TaskID: goalID,
		Data: map[string]string{
			"decision": decision,
			"reason":   reason,
		},
	})
}

func (l *Logger) LogTransition(chatID, goalID, from, to string) {
	l.Log(Event{
		Type:   EventTypeTransition,
		ChatID: chatID,
		TaskID: goalID,
		Data: map[string]string{
			"from": from,
			"to":   to,
		},
	})
}

func (l *Logger) LogStrategy(goalID, action string, detail any) {
	l.Log(Event{
		Type:   EventTypeStrategy,
		TaskID: goalID,
		Data: map[string]any{
			"action": action,
			"detail": detail,
		},
	})
}

func (l *Logger) LogHistory(chatID string, total, kept, summarized int) {
	l.Log(Event{
		Type:   EventTypeHistory,
		ChatID: chatID,
		Data: map[string]int{
			"total":      total,
			"kept":       kept,
			"summarized": summarized,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
