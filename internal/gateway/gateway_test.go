package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/guidance"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingMessenger) Start() error { return nil }
func (r *recordingMessenger) Stop() error  { return nil }

func (r *recordingMessenger) Send(chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string][]string{}
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func (r *recordingMessenger) messages(chatID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[chatID]...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *guidance.Orchestrator) {
	t.Helper()
	h, err := store.NewHistoryStore(filepath.Join(t.TempDir(), "chat.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	orch := guidance.New(instruction.NewProcessor(0), h, nil, nil, guidance.WithTimings(guidance.Timings{
		PollInterval:     time.Second,
		StepAdvanceDelay: 5 * time.Millisecond,
		AICompleteDelay:  5 * time.Millisecond,
	}))
	t.Cleanup(orch.Close)
	return NewDispatcher(orch, &capture.Inputs{}, nil), orch
}

func TestDispatcher_TextStartsTask(t *testing.T) {
	d, orch := newTestDispatcher(t)
	m := &recordingMessenger{}
	ctx := context.Background()

	reply := d.HandleText(ctx, m, "42", "1. Open Chrome\n2. Go to gmail.com\n3. Click Sign In")
	assert.Contains(t, reply, "3 steps")
	assert.Contains(t, reply, "Step 1 of 3: Open Chrome")
	assert.Equal(t, guidance.PhaseGuidance, orch.Snapshot().Phase)

	reply = d.HandleCommand(ctx, m, "42", "status")
	assert.Contains(t, reply, "0/3 completed")

	reply = d.HandleCommand(ctx, m, "42", "next")
	assert.Contains(t, reply, "Step 2 of 3")

	// A new message replaces the running task.
	reply = d.HandleText(ctx, m, "42", "Open the settings app. Tap on Wi-Fi networks.")
	assert.Contains(t, reply, "2 steps")

	reply = d.HandleCommand(ctx, m, "42", "back")
	assert.Contains(t, reply, "Cleared")
	assert.Contains(t, d.HandleCommand(ctx, m, "42", "status"), "No active task")
	assert.Contains(t, d.HandleCommand(ctx, m, "42", "start"), "/done")
}

func TestDispatcher_ErrorReplies(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	assert.Contains(t, d.HandleText(ctx, nil, "1", "hi"), "couldn't find any steps")
	assert.Contains(t, d.HandlePhoto(ctx, nil, "1", capture.DataURI([]byte("\x89PNG\r\n\x1a\n"))), "type your instructions")
	assert.Contains(t, d.HandleVoice(ctx, nil, "1", []byte("OggS"), "audio/ogg"), "type your instructions")
	assert.Contains(t, d.HandleCommand(ctx, nil, "1", "done"), "No active task")
}

func TestDispatcher_WatchPushesStepChanges(t *testing.T) {
	// Registered first so it runs after the store and orchestrator cleanups.
	t.Cleanup(func() { goleak.VerifyNone(t) })
	d, _ := newTestDispatcher(t)
	m := &recordingMessenger{}
	ctx := context.Background()

	stop := d.Watch()
	defer stop()

	d.HandleText(ctx, m, "7", "1. Open Chrome\n2. Go to gmail.com\n3. Click Sign In")
	assert.Contains(t, d.HandleCommand(ctx, m, "7", "done"), "done")

	require.Eventually(t, func() bool {
		for _, msg := range m.messages("7") {
			if strings.Contains(msg, "Step 2 of 3: Go to gmail.com") {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	stop()
}

// lateSession keeps delivering to its listener after unsubscribe, the way a
// notify that copied its listener list before the unsubscribe does.
type lateSession struct {
	Session
	mu       sync.Mutex
	listener guidance.Listener
}

func (s *lateSession) Subscribe(l guidance.Listener) func() {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return func() {}
}

func (s *lateSession) deliver(e guidance.Event) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	l(e)
}

func TestDispatcher_WatchStopWithEventsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &lateSession{}
	d := NewDispatcher(s, &capture.Inputs{}, nil)
	stop := d.Watch()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.deliver(guidance.Event{Kind: guidance.EventStep, Snapshot: guidance.Snapshot{CurrentIndex: j}})
			}
		}()
	}
	stop()
	wg.Wait()

	assert.NotPanics(t, func() {
		s.deliver(guidance.Event{Kind: guidance.EventAnalysis})
	})
	stop()
}

func TestFormatting(t *testing.T) {
	snap := guidance.Snapshot{
		Phase:        guidance.PhaseGuidance,
		CurrentIndex: 1,
		Steps: []store.Step{
			{ID: 1, Description: "Open Chrome", Completed: true},
			{ID: 2, Description: "Be careful not to delete anything", Type: store.StepWarning, Current: true},
		},
	}
	out := FormatSnapshot(snap)
	assert.Contains(t, out, "Step 2 of 2")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "1/2 completed")

	out = FormatAnalysis(&vision.ScreenAnalysis{Message: "Look for the menu", Suggestions: []string{"Check the top bar"}})
	assert.Equal(t, "Look for the menu\n- Check the top bar", out)

	assert.Equal(t, "done", commandName("/done@screen_guide_bot now"))
	assert.Equal(t, "", commandName("/"))
}
