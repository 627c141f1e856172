package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/guidance"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Session is the part of the orchestrator a chat can drive.
type Session interface {
	Submit(ctx context.Context, c capture.Capture) (*store.Task, error)
	BackToInput()
	Next() error
	SelectStep(index int) error
	Snapshot() guidance.Snapshot
	Subscribe(l guidance.Listener) func()
}

const helpText = `Send me the steps you want to follow as text, a photo or a voice note.

/done - mark the current step as done
/next - skip to the next step
/back - start over with new instructions
/status - show the current step`

// Dispatcher turns chat messages into session operations and formats the
// replies. It is shared by every gateway.
type Dispatcher struct {
	session Session
	inputs  *capture.Inputs
	logger  *observability.Logger

	mu    sync.Mutex
	chats map[string]Messenger
}

func NewDispatcher(session Session, inputs *capture.Inputs, logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Dispatcher{
		session: session,
		inputs:  inputs,
		logger:  logger,
		chats:   make(map[string]Messenger),
	}
}

// remember records which gateway a chat lives on so pushes reach it.
func (d *Dispatcher) remember(m Messenger, chatID string) {
	if m == nil {
		return
	}
	d.mu.Lock()
	d.chats[chatID] = m
	d.mu.Unlock()
}

func (d *Dispatcher) HandleText(ctx context.Context, m Messenger, chatID, text string) string {
	d.remember(m, chatID)
	c, err := d.inputs.Text(ctx, text)
	if err != nil {
		return errorReply(err)
	}
	return d.submit(ctx, c)
}

func (d *Dispatcher) HandlePhoto(ctx context.Context, m Messenger, chatID, dataURI string) string {
	d.remember(m, chatID)
	c, err := d.inputs.Image(ctx, dataURI)
	if err != nil {
		return errorReply(err)
	}
	return d.submit(ctx, c)
}

func (d *Dispatcher) HandleVoice(ctx context.Context, m Messenger, chatID string, audio []byte, mimeType string) string {
	d.remember(m, chatID)
	c, err := d.inputs.Voice(ctx, audio, mimeType)
	if err != nil {
		return errorReply(err)
	}
	return d.submit(ctx, c)
}

func (d *Dispatcher) submit(ctx context.Context, c capture.Capture) string {
	if d.session.Snapshot().Phase == guidance.PhaseGuidance {
		d.session.BackToInput()
	}
	task, err := d.session.Submit(ctx, c)
	if err != nil {
		return errorReply(err)
	}
	return fmt.Sprintf("Got it: %d steps for %q.\n\n%s", len(task.Steps), task.Title, FormatSnapshot(d.session.Snapshot()))
}

// HandleCommand runs a slash command, given without its slash.
func (d *Dispatcher) HandleCommand(ctx context.Context, m Messenger, chatID, command string) string {
	d.remember(m, chatID)
	command = strings.ToLower(command)
	if (command == "done" || command == "next") && d.session.Snapshot().Phase != guidance.PhaseGuidance {
		return FormatSnapshot(d.session.Snapshot())
	}
	switch command {
	case "done":
		if err := d.session.Next(); err != nil {
			return errorReply(err)
		}
		return "Nice work! Step marked as done."
	case "next":
		snap := d.session.Snapshot()
		if err := d.session.SelectStep(snap.CurrentIndex + 1); err != nil {
			return errorReply(err)
		}
		return FormatSnapshot(d.session.Snapshot())
	case "back":
		d.session.BackToInput()
		return "Cleared. Send me new instructions whenever you're ready."
	case "status":
		return FormatSnapshot(d.session.Snapshot())
	default:
		return helpText
	}
}

// Watch pushes step changes and off-track guidance to every known chat until
// the returned stop function is called.
func (d *Dispatcher) Watch() func() {
	// events is never closed: a notify already past unsubscribe may still
	// deliver to the listener after stop.
	events := make(chan guidance.Event, 16)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.push(events, done)
	}()

	unsubscribe := d.session.Subscribe(func(e guidance.Event) {
		select {
		case <-done:
			return
		default:
		}
		select {
		case events <- e:
		default:
			d.logger.Debug("dropping chat push, queue full")
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			wg.Wait()
		})
	}
}

func (d *Dispatcher) push(events <-chan guidance.Event, done <-chan struct{}) {
	lastIndex := -1
	var lastGen uint64
	lastMessage := ""

	for {
		var e guidance.Event
		select {
		case <-done:
			return
		case e = <-events:
		}
		snap := e.Snapshot
		if snap.Phase != guidance.PhaseGuidance {
			continue
		}
		if snap.Generation != lastGen {
			lastGen, lastIndex, lastMessage = snap.Generation, -1, ""
		}

		var text string
		switch e.Kind {
		case guidance.EventStep:
			if snap.CurrentIndex == lastIndex {
				continue
			}
			lastIndex = snap.CurrentIndex
			text = FormatSnapshot(snap)
		case guidance.EventAnalysis:
			a := snap.Analysis
			if a == nil || a.Status != vision.StatusOffTrack || a.Message == lastMessage {
				continue
			}
			lastMessage = a.Message
			text = FormatAnalysis(a)
		default:
			if lastIndex < 0 {
				lastIndex = snap.CurrentIndex
			}
			continue
		}
		d.broadcast(text)
	}
}

func (d *Dispatcher) broadcast(text string) {
	d.mu.Lock()
	targets := make(map[string]Messenger, len(d.chats))
	for id, m := range d.chats {
		targets[id] = m
	}
	d.mu.Unlock()

	for chatID, m := range targets {
		if err := m.Send(chatID, text); err != nil {
			d.logger.Warn("failed to push to chat", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// FormatSnapshot renders the session as a chat message.
func FormatSnapshot(s guidance.Snapshot) string {
	if s.Phase != guidance.PhaseGuidance || len(s.Steps) == 0 {
		return "No active task. Send me some instructions to get started."
	}
	step, _ := s.CurrentStep()

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d: %s", s.CurrentIndex+1, len(s.Steps), step.Description)
	switch step.Type {
	case store.StepWarning:
		b.WriteString("\n(careful with this one)")
	case store.StepInfo:
		b.WriteString("\n(just a note)")
	}

	done := 0
	for _, st := range s.Steps {
		if st.Completed {
			done++
		}
	}
	fmt.Fprintf(&b, "\n%d/%d completed", done, len(s.Steps))
	if done == len(s.Steps) {
		b.WriteString("\nAll steps completed!")
	}
	return b.String()
}

func FormatAnalysis(a *vision.ScreenAnalysis) string {
	var b strings.Builder
	b.WriteString(a.Message)
	for _, s := range a.Suggestions {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String()
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, guidance.ErrWrongPhase):
		return "I'm still working on your last message, give me a moment."
	case errors.Is(err, guidance.ErrNoInstructions), errors.Is(err, capture.ErrEmptyInput):
		return "I couldn't find any steps in that. Try listing them one per line."
	case errors.Is(err, capture.ErrOCRUnavailable), errors.Is(err, capture.ErrTranscriptionUnavailable):
		return err.Error()
	}
	return "Something went wrong: " + err.Error()
}

const maxDownload = 20 << 20

// download fetches a media attachment.
func download(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download attachment: status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
