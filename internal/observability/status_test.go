package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStatus_SetAndGet(t *testing.T) {
	s := NewStatus()
	before := time.Now()

	s.Set(PhaseGuidance, "Set up email", true)
	s.Heartbeat()

	phase, task, polling, hb := s.Get()
	if phase != PhaseGuidance {
		t.Errorf("Expected phase %s, got %s", PhaseGuidance, phase)
	}
	if task != "Set up email" {
		t.Errorf("Unexpected task %q", task)
	}
	if !polling {
		t.Error("Expected polling to be true")
	}
	if hb.Before(before) {
		t.Error("Heartbeat was not refreshed")
	}
}

func TestDashboard_LineTruncatesTask(t *testing.T) {
	s := NewStatus()
	s.Set(PhaseProcessing, "A very long task description that will not fit", false)

	line := NewDashboard(s).Line()
	if !strings.Contains(line, "A very long task descr...") {
		t.Errorf("Expected truncated task in line: %q", line)
	}
	if !strings.Contains(line, string(PhaseProcessing)) {
		t.Errorf("Expected phase in line: %q", line)
	}
}

func TestDashboard_LineShowsProgress(t *testing.T) {
	s := NewStatus()
	d := NewDashboard(s)
	if !strings.Contains(d.Line(), "[no steps]") {
		t.Errorf("Expected empty progress marker: %q", d.Line())
	}

	s.SetProgress(2, 4)
	if !strings.Contains(d.Line(), "2/4") {
		t.Errorf("Expected progress count: %q", d.Line())
	}
	if done, total := s.Progress(); done != 2 || total != 4 {
		t.Errorf("Progress() = %d/%d", done, total)
	}
}

func TestLogger_LLMJournalRotates(t *testing.T) {
	dir := t.TempDir()
	l := &Logger{
		Logger:     zap.NewNop(),
		llmLogPath: filepath.Join(dir, "llm.jsonl"),
		maxSize:    10,
	}

	l.LogLLM("task-1", "prompt", "first response")
	l.LogLLM("task-1", "prompt", "second response")
	l.LogStep("task-1", 1, "complete")

	data, err := os.ReadFile(l.llmLogPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "second response") {
		t.Errorf("Journal missing latest event: %s", data)
	}
	if strings.Contains(string(data), "complete") {
		t.Error("Only llm events belong in the journal")
	}
	if _, err := os.Stat(l.llmLogPath + ".old"); err != nil {
		t.Errorf("Expected rotated journal: %v", err)
	}
}
