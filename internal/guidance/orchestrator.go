package guidance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/permission"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

// Phase is the top-level state of a guidance session.
type Phase string

const (
	PhaseInput      Phase = "input"
	PhaseProcessing Phase = "processing"
	PhaseGuidance   Phase = "guidance"
)

var (
	ErrNoInstructions = errors.New("no instructions could be extracted, please try again")
	ErrWrongPhase     = errors.New("operation not allowed in the current phase")
	ErrStepNotFound   = errors.New("step not found")
	ErrSuperseded     = errors.New("session was reset while processing")
	ErrScreenDenied   = errors.New("screen sharing not permitted")
)

// TaskStore persists published tasks and their step progress.
type TaskStore interface {
	SaveTask(task store.Task) error
	UpdateTaskSteps(id string, steps []store.Step) error
}

// Permissions is the consent side of the permission gateway.
type Permissions interface {
	Request(ctx context.Context, c permission.Capability) bool
	Errors() map[permission.Capability]string
}

// AnalysisLoop is the continuous analysis controller.
type AnalysisLoop interface {
	StartContinuousAnalysis(frames vision.FrameProvider, instructions func() []string, step func() int, callback func(*vision.ScreenAnalysis), interval time.Duration)
	StopContinuousAnalysis()
}

// Timings holds the session cadences.
type Timings struct {
	PollInterval     time.Duration
	StepAdvanceDelay time.Duration
	AICompleteDelay  time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		PollInterval:     8 * time.Second,
		StepAdvanceDelay: time.Second,
		AICompleteDelay:  2500 * time.Millisecond,
	}
}

// EventKind tells listeners what changed.
type EventKind string

const (
	EventPhase    EventKind = "phase"
	EventStep     EventKind = "step"
	EventAnalysis EventKind = "analysis"
	EventSharing  EventKind = "sharing"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Listener receives events outside the orchestrator lock.
type Listener func(Event)

// Snapshot is a copy of the session state.
type Snapshot struct {
	Phase           Phase                  `json:"phase"`
	Task            *store.Task            `json:"task,omitempty"`
	Steps           []store.Step           `json:"steps"`
	CurrentIndex    int                    `json:"currentIndex"`
	ScreenSharing   bool                   `json:"screenSharing"`
	AnalysisEnabled bool                   `json:"analysisEnabled"`
	Polling         bool                   `json:"polling"`
	Analysis        *vision.ScreenAnalysis `json:"analysis,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Generation      uint64                 `json:"generation"`
}

// CurrentStep returns the step under the pointer.
func (s Snapshot) CurrentStep() (store.Step, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Steps) {
		return store.Step{}, false
	}
	return s.Steps[s.CurrentIndex], true
}

// Orchestrator owns the guidance session: phase, task, current step pointer,
// and the polling and advance timers that hang off them.
type Orchestrator struct {
	processor *instruction.Processor
	tasks     TaskStore
	perms     Permissions
	loop      AnalysisLoop
	frames    vision.FrameProvider
	timings   Timings
	logger    *observability.Logger
	status    *observability.Status

	mu              sync.Mutex
	phase           Phase
	task            *store.Task
	steps           []store.Step
	current         int
	sharing         bool
	analysisEnabled bool
	polling         bool
	analysis        *vision.ScreenAnalysis
	lastErr         string
	generation      uint64
	cancelProcess   context.CancelFunc
	advanceTimer    *time.Timer
	aiTimer         *time.Timer

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

type Option func(*Orchestrator)

// WithFrames sets where polling frames come from.
func WithFrames(f vision.FrameProvider) Option {
	return func(o *Orchestrator) { o.frames = f }
}

func WithTimings(t Timings) Option {
	return func(o *Orchestrator) { o.timings = t }
}

func WithLogger(l *observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithStatus(s *observability.Status) Option {
	return func(o *Orchestrator) { o.status = s }
}

func New(processor *instruction.Processor, tasks TaskStore, perms Permissions, loop AnalysisLoop, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		processor:       processor,
		tasks:           tasks,
		perms:           perms,
		loop:            loop,
		timings:         DefaultTimings(),
		logger:          observability.NewNop(),
		phase:           PhaseInput,
		analysisEnabled: true,
		listeners:       make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.publishStatus()
	return o
}

// Submit turns a capture into a published task and enters guidance.
func (o *Orchestrator) Submit(ctx context.Context, c capture.Capture) (*store.Task, error) {
	o.mu.Lock()
	if o.phase != PhaseInput {
		o.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", ErrWrongPhase)
	}
	o.setPhase(PhaseProcessing)
	o.lastErr = ""
	o.generation++
	gen := o.generation
	procCtx, cancel := context.WithCancel(ctx)
	o.cancelProcess = cancel
	o.mu.Unlock()
	defer cancel()
	o.notify(EventPhase)

	steps, err := o.processor.Process(procCtx, c.Text())

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.logger.Info("discarding processing result from a reset session")
		return nil, ErrSuperseded
	}
	o.cancelProcess = nil
	if err == nil && len(steps) == 0 {
		err = ErrNoInstructions
	}
	if err != nil {
		o.lastErr = err.Error()
		o.setPhase(PhaseInput)
		o.mu.Unlock()
		o.notify(EventPhase)
		return nil, err
	}

	title := c.Title
	if title == "" {
		title = steps[0].Title
	}
	task := store.Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: c.Text(),
		Steps:       steps,
		Mode:        c.Mode,
		Source:      c.Source,
		CreatedAt:   time.Now(),
	}
	o.task = &task
	o.steps = append([]store.Step(nil), steps...)
	o.current = 0
	o.analysis = nil
	o.setPhase(PhaseGuidance)
	o.reconcile()
	o.mu.Unlock()

	if err := o.tasks.SaveTask(task); err != nil {
		o.logger.Warn("failed to save task", zap.String("task_id", task.ID), zap.Error(err))
	}
	o.notify(EventPhase)
	return &task, nil
}

// BackToInput discards the task and stops every timer and loop.
func (o *Orchestrator) BackToInput() {
	o.mu.Lock()
	o.reset()
	o.mu.Unlock()
	o.notify(EventPhase)
}

// Close stops all background work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

func (o *Orchestrator) reset() {
	o.generation++
	if o.cancelProcess != nil {
		o.cancelProcess()
		o.cancelProcess = nil
	}
	o.stopTimers()
	o.sharing = false
	o.task = nil
	o.steps = nil
	o.current = 0
	o.analysis = nil
	o.lastErr = ""
	o.setPhase(PhaseInput)
	o.reconcile()
}

// SetScreenSharing toggles sharing, asking for the screen capability first.
func (o *Orchestrator) SetScreenSharing(ctx context.Context, on bool) error {
	if on && !o.perms.Request(ctx, permission.CapabilityScreen) {
		msg := o.perms.Errors()[permission.CapabilityScreen]
		o.mu.Lock()
		o.sharing = false
		o.lastErr = msg
		o.reconcile()
		o.mu.Unlock()
		o.notify(EventSharing)
		return fmt.Errorf("%w: %s", ErrScreenDenied, msg)
	}

	o.mu.Lock()
	o.sharing = on
	o.reconcile()
	o.mu.Unlock()
	o.notify(EventSharing)
	return nil
}

func (o *Orchestrator) SetAnalysisEnabled(on bool) {
	o.mu.Lock()
	o.analysisEnabled = on
	o.reconcile()
	o.mu.Unlock()
	o.notify(EventSharing)
}

// reconcile starts or stops the loop so that polling runs exactly when the
// session is guiding with sharing and analysis on. Callers hold mu.
func (o *Orchestrator) reconcile() {
	want := o.phase == PhaseGuidance && o.sharing && o.analysisEnabled && len(o.steps) > 0 && o.frames != nil
	switch {
	case want && !o.polling:
		gen := o.generation
		o.loop.StartContinuousAnalysis(o.frames, o.instructions, o.currentIndex,
			func(a *vision.ScreenAnalysis) { o.onAnalysis(gen, a) },
			o.timings.PollInterval)
		o.polling = true
	case !want && o.polling:
		o.loop.StopContinuousAnalysis()
		o.polling = false
	}
	o.publishStatus()
}

func (o *Orchestrator) instructions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.steps))
	for i, s := range o.steps {
		out[i] = s.Description
	}
	return out
}

func (o *Orchestrator) currentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) onAnalysis(gen uint64, a *vision.ScreenAnalysis) {
	o.mu.Lock()
	if gen != o.generation || o.phase != PhaseGuidance {
		o.mu.Unlock()
		return
	}
	o.analysis = a
	taskID := o.task.ID
	if a.Status == vision.StatusCompleted && o.current < len(o.steps) &&
		!o.steps[o.current].Completed && o.aiTimer == nil {
		id := o.steps[o.current].ID
		o.aiTimer = time.AfterFunc(o.timings.AICompleteDelay, func() {
			o.mu.Lock()
			if gen != o.generation {
				o.mu.Unlock()
				return
			}
			o.aiTimer = nil
			o.mu.Unlock()
			_ = o.CompleteStep(id)
		})
	}
	o.mu.Unlock()

	o.logger.LogAnalysis(taskID, a.CurrentStep, string(a.Status), a.Confidence)
	o.notify(EventAnalysis)
}

// CompleteStep marks a step done. When it is the current step the pointer
// moves to the following one after the step advance delay. Completing an
// already completed step is a no-op.
func (o *Orchestrator) CompleteStep(id int) error {
	o.mu.Lock()
	if o.phase != PhaseGuidance {
		o.mu.Unlock()
		return fmt.Errorf("complete step: %w", ErrWrongPhase)
	}
	idx := o.indexOf(id)
	if idx < 0 {
		o.mu.Unlock()
		return fmt.Errorf("complete step %d: %w", id, ErrStepNotFound)
	}
	if o.steps[idx].Completed {
		o.mu.Unlock()
		return nil
	}
	o.steps[idx].Completed = true
	steps := append([]store.Step(nil), o.steps...)
	taskID := o.task.ID
	o.publishStatus()

	if idx == o.current && idx+1 < len(o.steps) {
		if o.advanceTimer != nil {
			o.advanceTimer.Stop()
		}
		gen := o.generation
		next := idx + 1
		o.advanceTimer = time.AfterFunc(o.timings.StepAdvanceDelay, func() {
			o.mu.Lock()
			if gen != o.generation {
				o.mu.Unlock()
				return
			}
			o.advanceTimer = nil
			if o.current != idx {
				o.mu.Unlock()
				return
			}
			o.setCurrent(next)
			o.mu.Unlock()
			o.notify(EventStep)
		})
	}
	o.mu.Unlock()

	o.logger.LogStep(taskID, id, "complete")
	if err := o.tasks.UpdateTaskSteps(taskID, steps); err != nil {
		o.logger.Warn("failed to persist step progress", zap.String("task_id", taskID), zap.Error(err))
	}
	o.notify(EventStep)
	return nil
}

// SelectStep moves the pointer, clamped into range.
func (o *Orchestrator) SelectStep(index int) error {
	o.mu.Lock()
	if o.phase != PhaseGuidance {
		o.mu.Unlock()
		return fmt.Errorf("select step: %w", ErrWrongPhase)
	}
	if len(o.steps) == 0 {
		o.mu.Unlock()
		return ErrNoInstructions
	}
	o.setCurrent(index)
	taskID, id := o.task.ID, o.steps[o.current].ID
	o.mu.Unlock()

	o.logger.LogStep(taskID, id, "select")
	o.notify(EventStep)
	return nil
}

// Next completes the current step, the same as a user pressing done.
func (o *Orchestrator) Next() error {
	o.mu.Lock()
	if o.phase != PhaseGuidance || len(o.steps) == 0 {
		o.mu.Unlock()
		return fmt.Errorf("next: %w", ErrWrongPhase)
	}
	id := o.steps[o.current].ID
	o.mu.Unlock()
	return o.CompleteStep(id)
}

func (o *Orchestrator) indexOf(id int) int {
	for i, s := range o.steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) setCurrent(index int) {
	if index < 0 {
		index = 0
	}
	if index > len(o.steps)-1 {
		index = len(o.steps) - 1
	}
	o.current = index
	for i := range o.steps {
		o.steps[i].Current = i == index
	}
	o.publishStatus()
}

func (o *Orchestrator) stopTimers() {
	if o.advanceTimer != nil {
		o.advanceTimer.Stop()
		o.advanceTimer = nil
	}
	if o.aiTimer != nil {
		o.aiTimer.Stop()
		o.aiTimer = nil
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.phase == p {
		return
	}
	taskID := ""
	if o.task != nil {
		taskID = o.task.ID
	}
	o.logger.LogPhase(taskID, string(o.phase), string(p))
	o.phase = p
	o.publishStatus()
}

func (o *Orchestrator) publishStatus() {
	if o.status == nil {
		return
	}
	label := ""
	if o.task != nil {
		label = o.task.Title
	}
	phase := observability.PhaseInput
	switch o.phase {
	case PhaseProcessing:
		phase = observability.PhaseProcessing
	case PhaseGuidance:
		phase = observability.PhaseGuidance
	}
	o.status.Set(phase, label, o.polling)

	done := 0
	for _, st := range o.steps {
		if st.Completed {
			done++
		}
	}
	o.status.SetProgress(done, len(o.steps))
}

// Snapshot returns a copy of the session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		Phase:           o.phase,
		Steps:           append([]store.Step(nil), o.steps...),
		CurrentIndex:    o.current,
		ScreenSharing:   o.sharing,
		AnalysisEnabled: o.analysisEnabled,
		Polling:         o.polling,
		Error:           o.lastErr,
		Generation:      o.generation,
	}
	if o.task != nil {
		t := *o.task
		t.Steps = s.Steps
		s.Task = &t
	}
	if o.analysis != nil {
		a := *o.analysis
		s.Analysis = &a
	}
	return s
}

// Subscribe registers l and returns a function that removes it.
func (o *Orchestrator) Subscribe(l Listener) func() {
	o.listenerMu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	o.listenerMu.Unlock()

	return func() {
		o.listenerMu.Lock()
		delete(o.listeners, id)
		o.listenerMu.Unlock()
	}
}

func (o *Orchestrator) notify(kind EventKind) {
	evt := Event{Kind: kind, Snapshot: o.Snapshot()}

	o.listenerMu.Lock()
	ls := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		ls = append(ls, l)
	}
	o.listenerMu.Unlock()

	for _, l := range ls {
		l(evt)
	}
}
