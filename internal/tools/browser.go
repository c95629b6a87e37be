package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserTool drives one long-lived Chrome session shared by all goals.
// Calls are serialized.
type BrowserTool struct {
	Headless      bool
	ScreenshotDir string
	ActionTimeout time.Duration

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool(headless bool) *BrowserTool {
	return &BrowserTool{
		Headless:      headless,
		ScreenshotDir: "screenshots",
		ActionTimeout: 60 * time.Second,
	}
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Control a browser session. Actions: 'navigate', 'click', 'text', 'type', 'press', 'scroll', 'wait', 'back', 'reload', 'screenshot', 'close'."
}

func (b *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"navigate", "click", "text", "type", "press",
					"scroll", "wait", "back", "reload", "screenshot", "close",
				},
				"description": "The action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to navigate to (required for 'navigate')",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the target element",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type or key to press",
			},
			"wait_seconds": map[string]any{
				"type":        "integer",
				"description": "Time to wait in seconds (used with 'wait')",
			},
		},
		"required": []string{"action"},
	}
}

// session returns the live browser context, starting Chrome if needed.
// Caller holds b.mu.
func (b *BrowserTool) session() (context.Context, error) {
	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return b.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	b.browserCtx, b.allocCancel, b.browserCancel = browserCtx, allocCancel, browserCancel
	return browserCtx, nil
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCancel = nil
	b.browserCancel = nil
}

// Close shuts the browser down.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

func (b *BrowserTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Action      string `json:"action"`
		URL         string `json:"url"`
		Selector    string `json:"selector"`
		Text        string `json:"text"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if args.Action == "close" {
		b.Close()
		return "Successfully closed the browser.", nil
	}

	var action chromedp.Action
	var result string
	var text string
	var shot []byte

	switch args.Action {
	case "navigate":
		if args.URL == "" {
			return "", fmt.Errorf("%w: url is required for 'navigate'", ErrInvalidInput)
		}
		action = chromedp.Navigate(args.URL)
		result = fmt.Sprintf("Navigated to %s", args.URL)
	case "text":
		sel := args.Selector
		if sel == "" {
			sel = "body"
		}
		action = chromedp.Text(sel, &text, chromedp.ByQuery)
	case "click":
		if args.Selector == "" {
			return "", fmt.Errorf("%w: selector required", ErrInvalidInput)
		}
		action = chromedp.Click(args.Selector, chromedp.ByQuery)
		result = fmt.Sprintf("Clicked %s", args.Selector)
	case "type":
		if args.Selector == "" || args.Text == "" {
			return "", fmt.Errorf("%w: selector and text required", ErrInvalidInput)
		}
		action = chromedp.SendKeys(args.Selector, args.Text, chromedp.ByQuery)
		result = fmt.Sprintf("Typed text in %s", args.Selector)
	case "press":
		if args.Text == "" {
			return "", fmt.Errorf("%w: text (key) required", ErrInvalidInput)
		}
		action = chromedp.KeyEvent(args.Text)
		result = fmt.Sprintf("Pressed key: %s", args.Text)
	case "scroll":
		if args.Selector != "" {
			action = chromedp.ScrollIntoView(args.Selector, chromedp.ByQuery)
			result = fmt.Sprintf("Scrolled to %s", args.Selector)
		} else {
			action = chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)
			result = "Scrolled to bottom"
		}
	case "wait":
		if args.Selector != "" {
			action = chromedp.WaitVisible(args.Selector, chromedp.ByQuery)
			result = fmt.Sprintf("Finished waiting for %s", args.Selector)
		} else {
			action = chromedp.Sleep(time.Duration(args.WaitSeconds) * time.Second)
			result = fmt.Sprintf("Waited for %d seconds", args.WaitSeconds)
		}
	case "back":
		action = chromedp.NavigateBack()
		result = "Navigated back"
	case "reload":
		action = chromedp.Reload()
		result = "Page reloaded"
	case "screenshot":
		action = chromedp.CaptureScreenshot(&shot)
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, args.Action)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	browserCtx, err := b.session()
	if err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(browserCtx, b.ActionTimeout)
	defer cancel()
	// Propagate step cancellation into the browser action.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(actionCtx, action); err != nil {
		return "", fmt.Errorf("browser %s failed: %w", args.Action, err)
	}

	switch args.Action {
	case "text":
		return truncate(text, 50000), nil
	case "screenshot":
		return b.saveScreenshot(shot)
	}
	return result, nil
}

func (b *BrowserTool) saveScreenshot(buf []byte) (string, error) {
	if err := os.MkdirAll(b.ScreenshotDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(b.ScreenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	abs, _ := filepath.Abs(path)
	return fmt.Sprintf("Screenshot saved to %s", abs), nil
}
