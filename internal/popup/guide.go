package popup

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

const (
	StateKey       = "floating-guide-state"
	DismissedKey   = "floating-guide-dismissed"
	DismissedValue = "done"

	DefaultInterval = 10 * time.Second
)

// ErrDismissed is returned by mutations once the guide was dismissed for good.
var ErrDismissed = errors.New("guide was dismissed")

// Storage is the key/value persistence the guide writes through.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusDismissed Status = "dismissed"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is the persisted guide state. CompletedSteps is kept sorted and
// duplicate-free.
type State struct {
	IsVisible      bool     `json:"isVisible"`
	CurrentStep    int      `json:"currentStep"`
	IsMinimized    bool     `json:"isMinimized"`
	IsPlaying      bool     `json:"isPlaying"`
	Position       Position `json:"position"`
	CompletedSteps []int    `json:"completedSteps"`
	Status         Status   `json:"status"`
}

// Step is one onboarding card.
type Step struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DefaultSteps walks a new user through the app itself.
var DefaultSteps = []Step{
	{ID: 1, Title: "Enter your instructions", Description: "Type, paste, photograph or speak the steps you want to follow."},
	{ID: 2, Title: "Review the steps", Description: "Your instructions are split into short steps. The current one is highlighted."},
	{ID: 3, Title: "Share your screen", Description: "Turn on screen sharing so your progress can be checked against the current step."},
	{ID: 4, Title: "Follow the cues", Description: "Arrows and highlights show where to click. Mark a step done or let it complete automatically."},
	{ID: 5, Title: "Start over anytime", Description: "Go back to input to begin a new task. Your last tasks are kept in history."},
}

// View is what a client renders. A nil View renders nothing.
type View struct {
	State
	Step       Step `json:"step"`
	TotalSteps int  `json:"totalSteps"`
}

// Guide is the floating onboarding popup. It is independent of the guidance
// session and persists every change through Storage.
type Guide struct {
	storage    Storage
	steps      []Step
	interval   time.Duration
	autoplay   bool
	logger     *observability.Logger
	onComplete func()
	onDismiss  func()

	mu        sync.Mutex
	state     State
	open      bool
	dismissed bool
	stopPlay  context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Guide)

func WithSteps(steps []Step) Option {
	return func(g *Guide) { g.steps = steps }
}

func WithInterval(d time.Duration) Option {
	return func(g *Guide) { g.interval = d }
}

// WithAutoplay controls whether a freshly opened guide starts playing.
func WithAutoplay(on bool) Option {
	return func(g *Guide) { g.autoplay = on }
}

func WithLogger(l *observability.Logger) Option {
	return func(g *Guide) { g.logger = l }
}

func OnComplete(fn func()) Option {
	return func(g *Guide) { g.onComplete = fn }
}

func OnDismiss(fn func()) Option {
	return func(g *Guide) { g.onDismiss = fn }
}

func New(storage Storage, opts ...Option) *Guide {
	g := &Guide{
		storage:  storage,
		steps:    DefaultSteps,
		interval: DefaultInterval,
		autoplay: true,
		logger:   observability.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guide) initialState() State {
	return State{
		IsVisible:      true,
		IsPlaying:      g.autoplay,
		Position:       Position{X: 20, Y: 20},
		CompletedSteps: []int{},
		Status:         StatusActive,
	}
}

// Open checks the dismissed flag, then restores the stored state. A
// dismissed guide stays closed and Open returns nil.
func (g *Guide) Open() (*View, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	flag, ok, err := g.storage.Get(DismissedKey)
	if err != nil {
		return nil, err
	}
	if ok && flag == DismissedValue {
		g.dismissed = true
		g.open = false
		g.stopAutoplay()
		return nil, nil
	}
	g.dismissed = false

	g.state = g.initialState()
	raw, ok, err := g.storage.Get(StateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var stored State
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			g.logger.Warn("ignoring corrupt guide state", zap.Error(err))
		} else {
			g.state = stored
			if g.state.CompletedSteps == nil {
				g.state.CompletedSteps = []int{}
			}
			g.state.CurrentStep = g.clamp(g.state.CurrentStep)
		}
	}
	g.open = true

	if g.state.IsPlaying && g.state.Status == StatusActive {
		g.startAutoplay()
	}
	return g.view(), nil
}

// View returns the current render, or nil when nothing should be shown.
func (g *Guide) View() *View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view()
}

func (g *Guide) view() *View {
	if g.dismissed || !g.open || !g.state.IsVisible || len(g.steps) == 0 {
		return nil
	}
	s := g.state
	s.CompletedSteps = append([]int(nil), g.state.CompletedSteps...)
	return &View{State: s, Step: g.steps[s.CurrentStep], TotalSteps: len(g.steps)}
}

func (g *Guide) Play() error {
	return g.mutate(func() {
		g.state.IsPlaying = true
		g.state.Status = StatusActive
		g.startAutoplay()
	})
}

func (g *Guide) Pause() error {
	return g.mutate(func() {
		g.state.IsPlaying = false
		g.state.Status = StatusPaused
		g.stopAutoplay()
	})
}

func (g *Guide) Next() error {
	return g.mutate(func() { g.state.CurrentStep = g.clamp(g.state.CurrentStep + 1) })
}

func (g *Guide) Previous() error {
	return g.mutate(func() { g.state.CurrentStep = g.clamp(g.state.CurrentStep - 1) })
}

func (g *Guide) GoTo(index int) error {
	return g.mutate(func() { g.state.CurrentStep = g.clamp(index) })
}

// CompleteStep marks the step at index done. Once every step is done the
// guide is completed and the completion callback fires.
func (g *Guide) CompleteStep(index int) error {
	finished := false
	err := g.mutate(func() {
		index = g.clamp(index)
		if !containsInt(g.state.CompletedSteps, index) {
			g.state.CompletedSteps = append(g.state.CompletedSteps, index)
			sort.Ints(g.state.CompletedSteps)
		}
		if len(g.state.CompletedSteps) == len(g.steps) && g.state.Status != StatusCompleted {
			g.state.Status = StatusCompleted
			g.state.IsPlaying = false
			g.stopAutoplay()
			finished = true
		}
	})
	if finished && g.onComplete != nil {
		g.onComplete()
	}
	return err
}

func (g *Guide) SetMinimized(on bool) error {
	return g.mutate(func() { g.state.IsMinimized = on })
}

func (g *Guide) Hide() error {
	return g.mutate(func() { g.state.IsVisible = false })
}

func (g *Guide) Show() error {
	return g.mutate(func() { g.state.IsVisible = true })
}

// Close hides the guide and stops autoplay. Unlike Done it can be reopened.
func (g *Guide) Close() error {
	return g.mutate(func() {
		g.state.IsVisible = false
		g.state.IsPlaying = false
		g.stopAutoplay()
	})
}

// Move updates and persists the popup position.
func (g *Guide) Move(x, y float64) error {
	return g.mutate(func() { g.state.Position = Position{X: x, Y: y} })
}

// Done dismisses the guide for good: the state is deleted, the dismissed
// flag is set and both callbacks fire.
func (g *Guide) Done() error {
	g.mu.Lock()
	g.stopAutoplay()
	g.state.Status = StatusDismissed
	g.state.IsVisible = false
	g.state.IsPlaying = false
	g.open = false
	g.dismissed = true

	if err := g.storage.Delete(StateKey); err != nil {
		g.mu.Unlock()
		return err
	}
	if err := g.storage.Set(DismissedKey, DismissedValue); err != nil {
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	if g.onComplete != nil {
		g.onComplete()
	}
	if g.onDismiss != nil {
		g.onDismiss()
	}
	return nil
}

// Reset clears the dismissed flag and stored state so the guide shows again.
func (g *Guide) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopAutoplay()
	g.dismissed = false
	g.open = false
	if err := g.storage.Delete(DismissedKey); err != nil {
		return err
	}
	return g.storage.Delete(StateKey)
}

// Shutdown stops autoplay and waits for it to exit.
func (g *Guide) Shutdown() {
	g.mu.Lock()
	g.stopAutoplay()
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Guide) mutate(fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dismissed {
		return ErrDismissed
	}
	fn()
	return g.persist()
}

func (g *Guide) persist() error {
	data, err := json.Marshal(g.state)
	if err != nil {
		return err
	}
	return g.storage.Set(StateKey, string(data))
}

func (g *Guide) startAutoplay() {
	g.stopAutoplay()
	if g.interval <= 0 || g.state.CurrentStep >= len(g.steps)-1 {
		g.state.IsPlaying = false
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.stopPlay = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.autoplayLoop(ctx)
	}()
}

func (g *Guide) stopAutoplay() {
	if g.stopPlay != nil {
		g.stopPlay()
		g.stopPlay = nil
	}
}

func (g *Guide) autoplayLoop(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.advance(ctx) {
				return
			}
		}
	}
}

// advance moves one step forward and reports whether playback continues.
func (g *Guide) advance(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if g.state.CurrentStep < len(g.steps)-1 {
		g.state.CurrentStep++
	}
	more := g.state.CurrentStep < len(g.steps)-1
	if !more {
		g.state.IsPlaying = false
		g.stopAutoplay()
	}
	if err := g.persist(); err != nil {
		g.logger.Warn("failed to persist guide state", zap.Error(err))
	}
	return more
}

func (g *Guide) clamp(i int) int {
	if i < 0 || len(g.steps) == 0 {
		return 0
	}
	if i > len(g.steps)-1 {
		return len(g.steps) - 1
	}
	return i
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
