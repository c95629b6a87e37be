package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/governance"
)

// Confirmations matches user replies to pending confirmation requests.
// Requests for one chat are answered in the order they were asked.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string][]chan bool
}

func NewConfirmations() *Confirmations {
	return &Confirmations{pending: make(map[string][]chan bool)}
}

// Await blocks until the chat answers the oldest outstanding request or ctx
// ends. An unanswered request counts as declined.
func (c *Confirmations) Await(ctx context.Context, chatID string) (bool, error) {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.pending[chatID] = append(c.pending[chatID], ch)
	c.mu.Unlock()

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		c.remove(chatID, ch)
		return false, ctx.Err()
	}
}

// Resolve applies a user message to the chat's oldest pending request. It
// returns true when the message was a yes/no answer and should not be
// treated as a new goal. Any other message declines the request and is
// passed on.
func (c *Confirmations) Resolve(chatID, text string) bool {
	c.mu.Lock()
	queue := c.pending[chatID]
	if len(queue) == 0 {
		c.mu.Unlock()
		return false
	}
	ch := queue[0]
	if len(queue) == 1 {
		delete(c.pending, chatID)
	} else {
		c.pending[chatID] = queue[1:]
	}
	c.mu.Unlock()

	answer, recognized := parseAnswer(text)
	ch <- answer && recognized
	return recognized
}

// Pending returns the number of outstanding requests for a chat.
func (c *Confirmations) Pending(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[chatID])
}

func (c *Confirmations) remove(chatID string, ch chan bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[chatID]
	for i, q := range queue {
		if q == ch {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(c.pending, chatID)
		return
	}
	c.pending[chatID] = queue
}

var (
	yesWords = map[string]bool{"yes": true, "y": true, "ok": true, "okay": true, "confirm": true, "approve": true, "sure": true, "go ahead": true, "do it": true, "👍": true}
	noWords  = map[string]bool{"no": true, "n": true, "cancel": true, "stop": true, "deny": true, "don't": true, "dont": true, "abort": true, "👎": true}
)

func parseAnswer(text string) (answer, recognized bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	switch {
	case yesWords[t]:
		return true, true
	case noWords[t]:
		return false, true
	}
	return false, false
}

// ConfirmationPrompt is the message asking the user to approve a step.
func ConfirmationPrompt(step agent.Step, d governance.Decision) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Confirmation needed\n\n")
	fmt.Fprintf(&sb, "I am about to: %s\n", describeStep(step))
	fmt.Fprintf(&sb, "Capability: %s (%s)\n", step.Capability, d.Tier)
	if step.Resource != "" {
		fmt.Fprintf(&sb, "Target: %s\n", step.Resource)
	}
	if args := strings.TrimSpace(string(step.Args)); args != "" && args != "{}" && args != "null" {
		if r := []rune(args); len(r) > 300 {
			args = string(r[:300]) + "..."
		}
		fmt.Fprintf(&sb, "Arguments: %s\n", args)
	}
	sb.WriteString("\nReply yes to proceed or no to cancel.")
	return sb.String()
}

func describeStep(step agent.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.Capability
}
