package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PromptManager loads prompt text from a directory of markdown files.
// Missing task prompts fall back to built-in defaults; a nil manager uses
// the defaults throughout.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// task prompts are loaded individually and excluded from the persona.
var taskPrompts = map[string]string{
	"planner.md": defaultPlannerPrompt,
	"replan.md":  defaultReplanPrompt,
	"answer.md":  defaultAnswerPrompt,
	"critic.md":  defaultCriticPrompt,
}

// GetPersonaPrompt concatenates the persona files in a fixed order:
// identity, soul, capabilities, user, then the rest alphabetically.
func (pm *PromptManager) GetPersonaPrompt() (string, error) {
	if pm == nil {
		return "", fmt.Errorf("no prompt directory configured")
	}
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md":     1,
		"soul.md":         2,
		"capabilities.md": 3,
		"user.md":         4,
	}
	sort.Slice(entries, func(i, j int) bool {
		oi, okI := order[entries[i].Name()]
		oj, okJ := order[entries[j].Name()]
		switch {
		case okI && okJ:
			return oi < oj
		case okI:
			return true
		case okJ:
			return false
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if _, ok := taskPrompts[name]; ok {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetPlannerPrompt() string { return pm.load("planner.md") }
func (pm *PromptManager) GetReplanPrompt() string  { return pm.load("replan.md") }
func (pm *PromptManager) GetAnswerPrompt() string  { return pm.load("answer.md") }
func (pm *PromptManager) GetCriticPrompt() string  { return pm.load("critic.md") }

func (pm *PromptManager) load(name string) string {
	if pm != nil && pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil && strings.TrimSpace(string(data)) != "" {
			return string(data)
		}
		if err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: Failed to read prompt file %s: %v", name, err)
		}
	}
	return taskPrompts[name]
}

const defaultPlannerPrompt = `You are the planner of a personal task agent.
Break the user's goal into waves of steps and submit them with the propose_plan tool.
- Steps in the same wave run at the same time; put a step in a later wave if it needs an earlier result.
- Use only the listed capabilities, with arguments matching their parameter schema.
- Prefer read capabilities. Irreversible capabilities will ask the user for confirmation.
- Mark a step fatal only if the goal is meaningless without it.
- Use at most 7 steps.
If the goal needs no tools (small talk, a question you can answer from the conversation), reply with plain text instead of calling a tool.`

const defaultReplanPrompt = `You are revising a plan that is partway through execution.
You are given the goal, what worked, what failed, and the waves not yet run.
If the remaining waves still make sense, call keep_plan.
Otherwise call propose_plan with the waves that should replace them. Do not repeat steps that already succeeded.`

const defaultAnswerPrompt = `You are a personal assistant reporting back to the user.
Using the step results below, answer the user's goal directly and concisely.
If something failed or was not confirmed, say what and why in plain words. Never show raw internal errors.`

const defaultCriticPrompt = `You are grading how well an agent achieved a goal.
Reply with JSON only: {"passed": bool, "score": number between 0 and 1, "issues": [string], "refinement_hint": string}.`
