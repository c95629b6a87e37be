package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptManager_GetPersonaPrompt(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md":     "Identity Content",
		"soul.md":         "Soul Content",
		"capabilities.md": "Capabilities Content",
		"user.md":         "User Content",
		"extra.md":        "Extra Content",
		"planner.md":      "Planner Content",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)
	prompt, err := pm.GetPersonaPrompt()
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []string{"Identity Content", "Soul Content", "Capabilities Content", "User Content", "Extra Content"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Prompt missing expected part: %s", part)
		}
	}
	if strings.Contains(prompt, "Planner Content") {
		t.Error("Persona should not include the planner prompt")
	}

	// Verify order
	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Soul Content") {
		t.Error("Identity should be before Soul")
	}
	if strings.Index(prompt, "Soul Content") >= strings.Index(prompt, "Capabilities Content") {
		t.Error("Soul should be before Capabilities")
	}
	if strings.Index(prompt, "Capabilities Content") >= strings.Index(prompt, "User Content") {
		t.Error("Capabilities should be before User")
	}
	if strings.Index(prompt, "User Content") >= strings.Index(prompt, "Extra Content") {
		t.Error("User should be before Extra")
	}

	if got := pm.GetPlannerPrompt(); got != "Planner Content" {
		t.Errorf("GetPlannerPrompt = %q, want file content", got)
	}
	if got := pm.GetReplanPrompt(); got != defaultReplanPrompt {
		t.Error("GetReplanPrompt should fall back to the default")
	}
}

func TestPromptManager_NilUsesDefaults(t *testing.T) {
	var pm *PromptManager
	if pm.GetPlannerPrompt() != defaultPlannerPrompt {
		t.Error("nil manager should return the default planner prompt")
	}
	if _, err := pm.GetPersonaPrompt(); err == nil {
		t.Error("nil manager persona should fail")
	}
}
