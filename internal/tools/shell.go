package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

type ShellTool struct {
	Dir string
}

func NewShellTool(dir string) *ShellTool {
	return &ShellTool{Dir: dir}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Execute a shell command. It starts in the agent workspace but is not sandboxed to it. Irreversible: requires user confirmation."
}

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

// Execute runs the command under ctx, so step timeouts kill the process.
// Dir only sets the starting directory; the command can leave it.
// A non-zero exit is an error carrying the captured output.
func (s *ShellTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", fmt.Errorf("%w: empty command", ErrInvalidInput)
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", args.Command)
	cmd.Dir = s.Dir
	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if result == "" {
		result = "(no output)"
	}
	if err != nil {
		return "", fmt.Errorf("command failed: %w\noutput: %s", err, truncate(result, 4000))
	}
	return truncate(result, 20000), nil
}
