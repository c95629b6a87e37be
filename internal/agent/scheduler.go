package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rahul/novaflow/internal/store"
)

type Messenger interface {
	Send(chatID string, text string) error
}

// TaskStore is the subset of the store the scheduler polls.
type TaskStore interface {
	GetPendingTasks(ctx context.Context) ([]store.ScheduledTask, error)
	UpdateTaskLastRun(ctx context.Context, id int64) error
}

const DefaultPollInterval = 30 * time.Second

// Scheduler runs recurring goals registered through schedule_task. Each
// due task becomes a fresh goal for the Brain; the reply goes back to the
// chat that scheduled it.
type Scheduler struct {
	Brain    Brain
	Store    TaskStore
	Gateway  Messenger
	Interval time.Duration

	running sync.WaitGroup
}

func NewScheduler(brain Brain, store TaskStore, gateway Messenger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		Brain:    brain,
		Store:    store,
		Gateway:  gateway,
		Interval: interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Task scheduler started...")

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			return
		case <-ticker.C:
			s.pollAndExecute(ctx)
		}
	}
}

// Wait blocks until every scheduled goal started so far has finished.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// pollAndExecute starts each due task in its own goroutine so a goal
// waiting on a confirmation does not hold up the others.
func (s *Scheduler) pollAndExecute(ctx context.Context) {
	tasks, err := s.Store.GetPendingTasks(ctx)
	if err != nil {
		log.Printf("Error polling tasks: %v", err)
		return
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Executing scheduled task %d for chat %s: %s", t.ID, t.ChatID, t.Description)

		// Mark the run first so a slow goal is not picked up again by the next poll.
		if err := s.Store.UpdateTaskLastRun(ctx, t.ID); err != nil {
			log.Printf("Error updating last run for task %d: %v", t.ID, err)
			continue
		}

		s.running.Add(1)
		go func(t store.ScheduledTask) {
			defer s.running.Done()
			s.execute(ctx, t)
		}(t)
	}
}

func (s *Scheduler) execute(ctx context.Context, t store.ScheduledTask) {
	response, err := s.Brain.Think(ctx, t.ChatID, fmt.Sprintf("Scheduled task: %s. Report the result to the user; do not schedule it again.", t.Description))
	if err != nil {
		log.Printf("Error executing scheduled task %d: %v", t.ID, err)
		return
	}

	if s.Gateway != nil {
		if err := s.Gateway.Send(t.ChatID, "⏰ Scheduled Task Output\n\n"+response); err != nil {
			log.Printf("Error delivering scheduled task %d: %v", t.ID, err)
		}
	}
}
