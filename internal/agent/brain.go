package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/novaflow/internal/history"
	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/strategy"
	"github.com/rahul/novaflow/internal/tools"
	"github.com/rahul/novaflow/internal/vectorstore"
)

// Brain defines the core intelligence interface for the agent.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// Recaller looks up strategies recorded for similar goals.
type Recaller interface {
	Recall(ctx context.Context, goal string, n int) []strategy.Strategy
}

const (
	TagNormal = "normal"
	TagUrgent = "urgent"

	DefaultRecallLimit = 3
)

var ErrEmptyGoal = errors.New("empty goal")

var urgentMarkers = []string{"asap", "urgent", "right now", "immediately", "quickly", "hurry", "as soon as possible"}

// ClassifyGoal tags a goal urgent when the user signals they are in a hurry.
func ClassifyGoal(text string) string {
	lower := strings.ToLower(text)
	for _, m := range urgentMarkers {
		if strings.Contains(lower, m) {
			return TagUrgent
		}
	}
	if strings.Count(text, "!") >= 2 {
		return TagUrgent
	}
	return TagNormal
}

// MasterBrain turns a chat message into a goal, plans it, runs the plan
// through the WaveExecutor and reports back. Conversation turns and an
// episodic record of every goal are kept for later cycles.
type MasterBrain struct {
	Model       llms.Model
	Planner     Decomposer
	Executor    *WaveExecutor
	History     *history.Book
	Strategies  Recaller
	Memory      vectorstore.VectorStore
	Prompts     *PromptManager
	Logger      *observability.Logger
	MaxTurns    int
	RecallLimit int
}

func NewMasterBrain(model llms.Model, planner Decomposer, executor *WaveExecutor, book *history.Book, prompts *PromptManager, logger *observability.Logger) *MasterBrain {
	return &MasterBrain{
		Model:       model,
		Planner:     planner,
		Executor:    executor,
		History:     book,
		Prompts:     prompts,
		Logger:      logger,
		MaxTurns:    history.DefaultMaxTurns,
		RecallLimit: DefaultRecallLimit,
	}
}

func (b *MasterBrain) Think(ctx context.Context, chatID string, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyGoal
	}
	goal := NewGoal(chatID, input, ClassifyGoal(input))

	observability.GoalStarted()
	defer observability.GoalFinished()
	observability.SetStatus(observability.RolePlanning, input)

	turns := b.context(ctx, chatID)
	var recalled []strategy.Strategy
	if b.Strategies != nil {
		recalled = b.Strategies.Recall(ctx, input, b.RecallLimit)
	}

	var (
		dec Decomposition
		err = fmt.Errorf("%w: no planner configured", ErrPlanningService)
	)
	if b.Planner != nil {
		dec, err = b.Planner.Decompose(ctx, DecomposeRequest{Goal: goal, History: turns, Strategies: recalled})
	}

	var reply string
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("goal %s: planning failed: %v", goal.ID, err)
		waves := b.fallbackPlan(goal)
		if waves == nil {
			return "", err
		}
		reply = b.execute(ctx, goal, turns, waves)
	case len(dec.Waves) == 0:
		reply = dec.Answer
	default:
		reply = b.execute(ctx, goal, turns, dec.Waves)
	}

	b.remember(ctx, goal, reply)
	return reply, nil
}

func (b *MasterBrain) context(ctx context.Context, chatID string) []history.Turn {
	if b.History == nil {
		return nil
	}
	turns, err := b.History.Context(ctx, chatID, b.MaxTurns)
	if err != nil {
		log.Printf("chat %s: history unavailable: %v", chatID, err)
		return nil
	}
	total, _ := b.History.Len(ctx, chatID)
	kept, summarized := len(turns), 0
	if kept > 0 && turns[0].Role == history.RoleSystem && total > kept {
		kept--
		summarized = total - kept
	}
	b.Logger.LogHistory(chatID, total, kept, summarized)
	return turns
}

// fallbackPlan searches for the goal when the planner is unavailable.
func (b *MasterBrain) fallbackPlan(goal Goal) []Wave {
	if b.Executor == nil || b.Executor.Registry == nil || b.Executor.Registry.Get("search") == nil {
		return nil
	}
	args, _ := json.Marshal(map[string]string{"query": goal.Text})
	return []Wave{{Steps: []Step{{
		Capability:  "search",
		Args:        args,
		Resource:    goal.Text,
		Description: "Search the web for the request",
	}}}}
}

func (b *MasterBrain) execute(ctx context.Context, goal Goal, turns []history.Turn, waves []Wave) string {
	plan := NewPlan(goal, normalizeWaves(waves, 1))
	outcome := b.Executor.Run(ctx, plan)
	return b.answer(ctx, goal, turns, outcome)
}

// answer phrases the outcome for the user. The plain outcome summary is
// used whenever the model cannot.
func (b *MasterBrain) answer(ctx context.Context, goal Goal, turns []history.Turn, outcome *TaskOutcome) string {
	if b.Model == nil || ctx.Err() != nil {
		return outcome.Summary()
	}

	system := b.Prompts.GetAnswerPrompt()
	if persona, err := b.Prompts.GetPersonaPrompt(); err == nil {
		system = persona + "\n\n---\n\n" + system
	}
	if goal.Tag == TagUrgent {
		system += "\n\nThe user is in a hurry: lead with the answer and skip preamble."
	}

	report := fmt.Sprintf("%s\n\n## Step Results\n%s\nFinal state: %s", goal.Text, Summarize(goal, outcome.Results), outcome.State)
	if outcome.FailedStep != nil {
		report += fmt.Sprintf("\nStopped at: %s (%s)", describe(*outcome.FailedStep), outcome.FailedStep.Error)
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	messages = append(messages, TurnsToMessages(turns)...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, report))

	resp, err := b.Model.GenerateContent(ctx, messages)
	if err != nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		if err != nil {
			log.Printf("goal %s: answer synthesis failed: %v", goal.ID, err)
		}
		return outcome.Summary()
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	b.Logger.LogLLM(goal.ChatID, goal.ID, messages, content, nil)
	if content == "" {
		return outcome.Summary()
	}
	return content
}

// remember records the exchange in the chat history and writes an episodic
// memory of the goal. Both are best-effort.
func (b *MasterBrain) remember(ctx context.Context, goal Goal, reply string) {
	if b.History != nil {
		if err := b.History.Record(ctx, goal.ChatID, history.Turn{Role: history.RoleUser, Text: goal.Text}); err != nil {
			log.Printf("chat %s: %v", goal.ChatID, err)
		}
		if err := b.History.Record(ctx, goal.ChatID, history.Turn{Role: history.RoleAssistant, Text: reply}); err != nil {
			log.Printf("chat %s: %v", goal.ChatID, err)
		}
	}
	if b.Memory == nil {
		return
	}
	rec := vectorstore.Record{
		ID:      goal.ID,
		Content: fmt.Sprintf("User asked: %s\nOutcome: %s", goal.Text, clip(reply, 500)),
		Metadata: map[string]string{
			"chat_id": goal.ChatID,
			"goal_id": goal.ID,
			"tag":     goal.Tag,
		},
	}
	if err := b.Memory.Write(ctx, tools.MemoryCollection, rec); err != nil {
		log.Printf("goal %s: episodic memory not written: %v", goal.ID, err)
	}
}
