package store

// ScheduledTask is a recurring goal registered through the schedule_task
// capability.
type ScheduledTask struct {
	ID              int64  `json:"id"`
	ChatID          string `json:"chat_id"`
	Description     string `json:"task_description"`
	IntervalSeconds int    `json:"interval_seconds"`
}
