package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, limit int) *HistoryStore {
	t.Helper()
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "test.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryStore_SaveAndGetTask(t *testing.T) {
	h := newTestStore(t, 0)

	task := Task{
		ID:    "task-1",
		Title: "Sign in to mail",
		Mode:  ModeText,
		Steps: []Step{
			{ID: 1, Title: "Open Chrome", Description: "Open Chrome", Type: StepAction, Current: true},
			{ID: 2, Title: "Go to gmail.com", Description: "Go to gmail.com", Type: StepAction},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, h.SaveTask(task))

	got, err := h.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, ModeText, got.Mode)
	assert.Len(t, got.Steps, 2)
	assert.True(t, got.Steps[0].Current)

	steps := got.Steps
	steps[0].Completed = true
	require.NoError(t, h.UpdateTaskSteps("task-1", steps))

	got, err = h.GetTask("task-1")
	require.NoError(t, err)
	assert.True(t, got.Steps[0].Completed)

	_, err = h.GetTask("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, h.UpdateTaskSteps("missing", nil), ErrTaskNotFound)
}

func TestHistoryStore_PrunesBeyondLimit(t *testing.T) {
	h := newTestStore(t, 10)
	base := time.Now()

	for i := 0; i < 13; i++ {
		require.NoError(t, h.SaveTask(Task{
			ID:        fmt.Sprintf("task-%d", i),
			Title:     fmt.Sprintf("Task %d", i),
			Mode:      ModeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	tasks, err := h.RecentTasks(0)
	require.NoError(t, err)
	require.Len(t, tasks, 10)
	assert.Equal(t, "task-12", tasks[0].ID)
	assert.Equal(t, "task-3", tasks[9].ID)

	_, err = h.GetTask("task-0")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestHistoryStore_KeyValue(t *testing.T) {
	h := newTestStore(t, 0)

	_, ok, err := h.Get("floating-guide-state")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Set("floating-guide-state", `{"currentStep":1}`))
	require.NoError(t, h.Set("floating-guide-state", `{"currentStep":2}`))

	v, ok, err := h.Get("floating-guide-state")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"currentStep":2}`, v)

	require.NoError(t, h.Delete("floating-guide-state"))
	_, ok, err = h.Get("floating-guide-state")
	require.NoError(t, err)
	assert.False(t, ok)
}
