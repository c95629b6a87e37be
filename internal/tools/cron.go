package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

const minScheduleInterval = 60

// TaskScheduler persists recurring goals.
type TaskScheduler interface {
	AddTask(ctx context.Context, chatID string, description string, intervalSeconds int) (int64, error)
	ClearTasks(ctx context.Context, chatID string) error
}

// ScheduleTool registers recurring goals for the scheduler to run.
type ScheduleTool struct {
	Store TaskScheduler
}

func NewScheduleTool(store TaskScheduler) *ScheduleTool {
	return &ScheduleTool{Store: store}
}

func (c *ScheduleTool) Name() string {
	return "schedule_task"
}

func (c *ScheduleTool) Description() string {
	return "Manage recurring goals for this chat: 'schedule' a new one or 'clear' all of them."
}

func (c *ScheduleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"schedule", "clear"},
				"description": "The action to perform: 'schedule' a new goal or 'clear' all of them.",
			},
			"task_description": map[string]any{
				"type":        "string",
				"description": "The goal to run on each tick (only for 'schedule')",
			},
			"interval_seconds": map[string]any{
				"type":        "integer",
				"description": "The interval in seconds (minimum 60, only for 'schedule')",
			},
		},
		"required": []string{"action"},
	}
}

func (c *ScheduleTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Action   string `json:"action"`
		Desc     string `json:"task_description"`
		Interval int    `json:"interval_seconds"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	chatID, ok := ChatIDFrom(ctx)
	if !ok {
		return "", fmt.Errorf("missing chat id in context")
	}

	switch args.Action {
	case "clear":
		if err := c.Store.ClearTasks(ctx, chatID); err != nil {
			return "", fmt.Errorf("failed to clear tasks: %w", err)
		}
		return "Successfully cleared all your scheduled tasks.", nil

	case "schedule":
		if args.Desc == "" {
			return "", fmt.Errorf("%w: task_description is required", ErrInvalidInput)
		}
		if args.Interval < minScheduleInterval {
			return "", fmt.Errorf("%w: minimum interval is %d seconds", ErrInvalidInput, minScheduleInterval)
		}
		id, err := c.Store.AddTask(ctx, chatID, args.Desc, args.Interval)
		if err != nil {
			return "", fmt.Errorf("failed to schedule task: %w", err)
		}
		return fmt.Sprintf("Scheduled task #%d: '%s' every %d seconds.", id, args.Desc, args.Interval), nil

	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, args.Action)
	}
}
