package vision

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptManager_GetSystemPrompt(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md": "Identity Content",
		"analysis.md": "Analysis Content",
		"format.md":   "Format Content",
		"extra.md":    "Extra Content",
		"ocr.md":      "OCR Content",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)
	prompt, err := pm.GetSystemPrompt()
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []string{"Identity Content", "Analysis Content", "Format Content", "Extra Content"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Prompt missing expected part: %s", part)
		}
	}
	if strings.Contains(prompt, "OCR Content") {
		t.Error("OCR prompt must not be part of the system prompt")
	}

	// Verify order
	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Analysis Content") {
		t.Error("Identity should be before Analysis")
	}
	if strings.Index(prompt, "Analysis Content") >= strings.Index(prompt, "Format Content") {
		t.Error("Analysis should be before Format")
	}
	if strings.Index(prompt, "Format Content") >= strings.Index(prompt, "Extra Content") {
		t.Error("Format should be before Extra")
	}

	ocr, err := pm.GetOCRPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if ocr != "OCR Content" {
		t.Errorf("Expected OCR override, got %q", ocr)
	}
}

func TestPromptManager_FallsBackToDefaults(t *testing.T) {
	pm := NewPromptManager(filepath.Join(t.TempDir(), "missing"))

	prompt, err := pm.GetSystemPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "visualCues") {
		t.Errorf("Default prompt should describe the JSON shape, got %q", prompt)
	}

	user, err := pm.RenderUserPrompt(Request{
		Instructions: []string{"Open Chrome", "Go to gmail.com", "Click Sign In"},
		CurrentStep:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(user, "Current step (2 of 3): Go to gmail.com") {
		t.Errorf("Unexpected user prompt: %q", user)
	}
	if !strings.Contains(user, "- Click Sign In") {
		t.Errorf("User prompt should list upcoming steps: %q", user)
	}
}
