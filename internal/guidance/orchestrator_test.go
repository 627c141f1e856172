package guidance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/permission"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

type memoryTasks struct {
	mu      sync.Mutex
	saved   []store.Task
	updates int
}

func (m *memoryTasks) SaveTask(task store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, task)
	return nil
}

func (m *memoryTasks) UpdateTaskSteps(id string, steps []store.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return nil
}

func (m *memoryTasks) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

type fakePerms struct{ deny bool }

func (p *fakePerms) Request(ctx context.Context, c permission.Capability) bool { return !p.deny }

func (p *fakePerms) Errors() map[permission.Capability]string {
	if p.deny {
		return map[permission.Capability]string{permission.CapabilityScreen: "Screen sharing permission was denied."}
	}
	return map[permission.Capability]string{}
}

type fakeLoop struct {
	mu       sync.Mutex
	starts   int
	stops    int
	callback func(*vision.ScreenAnalysis)
	step     func() int
	interval time.Duration
}

func (l *fakeLoop) StartContinuousAnalysis(frames vision.FrameProvider, instructions func() []string, step func() int, callback func(*vision.ScreenAnalysis), interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	l.callback = callback
	l.step = step
	l.interval = interval
}

func (l *fakeLoop) StopContinuousAnalysis() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *fakeLoop) deliver(a *vision.ScreenAnalysis) {
	l.mu.Lock()
	cb := l.callback
	l.mu.Unlock()
	cb(a)
}

func frames(ctx context.Context) (string, error) { return "data:image/png;base64,AAAA", nil }

var fastTimings = Timings{
	PollInterval:     50 * time.Millisecond,
	StepAdvanceDelay: 10 * time.Millisecond,
	AICompleteDelay:  20 * time.Millisecond,
}

func newTestOrchestrator(delay time.Duration, perms *fakePerms) (*Orchestrator, *memoryTasks, *fakeLoop) {
	tasks := &memoryTasks{}
	loop := &fakeLoop{}
	o := New(instruction.NewProcessor(delay), tasks, perms, loop, WithFrames(frames), WithTimings(fastTimings))
	return o, tasks, loop
}

func textCapture(text string) capture.Capture {
	return capture.Capture{Mode: store.ModeText, Lines: []string{text}, Source: text}
}

const threeSteps = "1. Open Chrome\n2. Go to gmail.com\n3. Click Sign In"

func TestOrchestrator_SubmitEntersGuidance(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, tasks, _ := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	var phases []Phase
	var mu sync.Mutex
	unsubscribe := o.Subscribe(func(e Event) {
		mu.Lock()
		phases = append(phases, e.Snapshot.Phase)
		mu.Unlock()
	})
	defer unsubscribe()

	task, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	assert.Len(t, task.Steps, 3)
	assert.Equal(t, "Open Chrome", task.Title)

	snap := o.Snapshot()
	assert.Equal(t, PhaseGuidance, snap.Phase)
	assert.Equal(t, 0, snap.CurrentIndex)
	assert.True(t, snap.Steps[0].Current)
	require.Len(t, tasks.saved, 1)
	assert.Equal(t, task.ID, tasks.saved[0].ID)

	mu.Lock()
	assert.Equal(t, []Phase{PhaseProcessing, PhaseGuidance}, phases)
	mu.Unlock()

	_, err = o.Submit(context.Background(), textCapture(threeSteps))
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestOrchestrator_EmptyInputReturnsToInput(t *testing.T) {
	o, tasks, _ := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	_, err := o.Submit(context.Background(), textCapture("ok. no."))
	assert.ErrorIs(t, err, ErrNoInstructions)

	snap := o.Snapshot()
	assert.Equal(t, PhaseInput, snap.Phase)
	assert.NotEmpty(t, snap.Error)
	assert.Empty(t, tasks.saved)
}

func TestOrchestrator_BackToInputDiscardsLateResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, tasks, _ := newTestOrchestrator(time.Second, &fakePerms{})
	defer o.Close()

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), textCapture(threeSteps))
		done <- err
	}()

	require.Eventually(t, func() bool { return o.Snapshot().Phase == PhaseProcessing }, time.Second, time.Millisecond)
	o.BackToInput()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return")
	}
	assert.Equal(t, PhaseInput, o.Snapshot().Phase)
	assert.Empty(t, tasks.saved)
}

func TestOrchestrator_PollingFollowsToggles(t *testing.T) {
	o, _, loop := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	require.NoError(t, o.SetScreenSharing(context.Background(), true))
	assert.Equal(t, 0, loop.starts, "no polling outside guidance")

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	assert.Equal(t, 1, loop.starts)
	assert.Equal(t, fastTimings.PollInterval, loop.interval)
	assert.True(t, o.Snapshot().Polling)

	o.SetAnalysisEnabled(false)
	assert.Equal(t, 1, loop.stops)
	assert.False(t, o.Snapshot().Polling)

	o.SetAnalysisEnabled(true)
	assert.Equal(t, 2, loop.starts)

	o.BackToInput()
	assert.Equal(t, 2, loop.stops)
	snap := o.Snapshot()
	assert.False(t, snap.ScreenSharing)
	assert.Nil(t, snap.Task)
}

func TestOrchestrator_DeniedScreenSharing(t *testing.T) {
	o, _, loop := newTestOrchestrator(0, &fakePerms{deny: true})
	defer o.Close()

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)

	err = o.SetScreenSharing(context.Background(), true)
	assert.ErrorIs(t, err, ErrScreenDenied)
	snap := o.Snapshot()
	assert.False(t, snap.ScreenSharing)
	assert.Contains(t, snap.Error, "denied")
	assert.Equal(t, 0, loop.starts)
}

func TestOrchestrator_CompleteStepIsMonotonicAndAdvances(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, tasks, _ := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	task, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	first := task.Steps[0].ID

	require.NoError(t, o.CompleteStep(first))
	assert.True(t, o.Snapshot().Steps[0].Completed)
	require.Eventually(t, func() bool { return o.Snapshot().CurrentIndex == 1 }, time.Second, time.Millisecond)

	require.NoError(t, o.CompleteStep(first))
	assert.True(t, o.Snapshot().Steps[0].Completed)
	assert.Equal(t, 1, tasks.updateCount())

	last := task.Steps[2].ID
	require.NoError(t, o.CompleteStep(last))
	time.Sleep(3 * fastTimings.StepAdvanceDelay)
	assert.Equal(t, 1, o.Snapshot().CurrentIndex, "completing the last step does not move the pointer")

	assert.ErrorIs(t, o.CompleteStep(99), ErrStepNotFound)
}

func TestOrchestrator_AICompletionAdvancesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, tasks, loop := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	require.NoError(t, o.SetScreenSharing(context.Background(), true))
	require.Equal(t, 1, loop.starts)
	assert.Equal(t, 0, loop.step())

	completed := &vision.ScreenAnalysis{Status: vision.StatusCompleted, Confidence: 0.9, Message: "done"}
	loop.deliver(completed)
	loop.deliver(completed)
	assert.Equal(t, vision.StatusCompleted, o.Snapshot().Analysis.Status)

	require.Eventually(t, func() bool { return o.Snapshot().CurrentIndex == 1 }, time.Second, time.Millisecond)
	assert.True(t, o.Snapshot().Steps[0].Completed)
	assert.False(t, o.Snapshot().Steps[1].Completed)
	assert.Equal(t, 1, tasks.updateCount())
}

func TestOrchestrator_DropsStaleAnalysis(t *testing.T) {
	o, _, loop := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	require.NoError(t, o.SetScreenSharing(context.Background(), true))

	loop.mu.Lock()
	stale := loop.callback
	loop.mu.Unlock()

	o.BackToInput()
	_, err = o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)

	stale(&vision.ScreenAnalysis{Status: vision.StatusOffTrack})
	assert.Nil(t, o.Snapshot().Analysis)
}

func TestOrchestrator_SelectStepClamps(t *testing.T) {
	o, _, _ := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	assert.ErrorIs(t, o.SelectStep(1), ErrWrongPhase)

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)

	require.NoError(t, o.SelectStep(10))
	snap := o.Snapshot()
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.True(t, snap.Steps[2].Current)
	assert.False(t, snap.Steps[0].Current)

	require.NoError(t, o.SelectStep(-4))
	assert.Equal(t, 0, o.Snapshot().CurrentIndex)

	step, ok := o.Snapshot().CurrentStep()
	assert.True(t, ok)
	assert.Equal(t, "Open Chrome", step.Description)
}

func TestOrchestrator_CompletingEarlierStepKeepsPointer(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, _, _ := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	task, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	require.NoError(t, o.SelectStep(2))

	require.NoError(t, o.CompleteStep(task.Steps[0].ID))
	time.Sleep(3 * fastTimings.StepAdvanceDelay)

	snap := o.Snapshot()
	assert.True(t, snap.Steps[0].Completed)
	assert.Equal(t, 2, snap.CurrentIndex, "the pointer never moves backwards")
}

func TestOrchestrator_StaleAITimerLeavesNewSessionAlone(t *testing.T) {
	defer goleak.VerifyNone(t)
	o, tasks, loop := newTestOrchestrator(0, &fakePerms{})
	defer o.Close()

	_, err := o.Submit(context.Background(), textCapture(threeSteps))
	require.NoError(t, err)
	require.NoError(t, o.SetScreenSharing(context.Background(), true))
	loop.deliver(&vision.ScreenAnalysis{Status: vision.StatusCompleted, Confidence: 0.9})

	// Hold the lock past the delay so the timer fires into a newer session.
	o.mu.Lock()
	time.Sleep(3 * fastTimings.AICompleteDelay)
	o.generation++
	newer := time.AfterFunc(time.Hour, func() {})
	o.aiTimer = newer
	o.mu.Unlock()

	time.Sleep(3 * fastTimings.AICompleteDelay)
	o.mu.Lock()
	assert.Same(t, newer, o.aiTimer, "stale timer must not clear the newer handle")
	o.mu.Unlock()
	assert.False(t, o.Snapshot().Steps[0].Completed)
	assert.Equal(t, 0, tasks.updateCount())
}
