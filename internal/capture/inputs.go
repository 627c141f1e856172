package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/store"
)

// ErrEmptyInput is returned when a capture produced no usable text.
var ErrEmptyInput = errors.New("no instructions found in the input")

// Capture is the output of one input mode: a flat list of instruction lines
// plus the raw source kept for the task's provenance.
type Capture struct {
	Mode   store.Mode
	Title  string
	Lines  []string
	Source string
}

// Text joins the lines for the instruction processor.
func (c Capture) Text() string {
	return strings.Join(c.Lines, "\n")
}

// Inputs wires the four acquisition paths to their external collaborators.
type Inputs struct {
	Screen      ScreenSource
	OCR         Recognizer
	Transcriber Transcriber
	Articles    *ArticleFetcher
	Logger      *observability.Logger
}

// Text accepts typed text. A bare URL is imported as an article and HTML
// markup is stripped.
func (in *Inputs) Text(ctx context.Context, raw string) (Capture, error) {
	raw = strings.TrimSpace(raw)
	c := Capture{Mode: store.ModeText, Source: raw}

	switch {
	case looksLikeURL(raw) && in.Articles != nil:
		title, text, err := in.Articles.Fetch(ctx, raw)
		if err != nil {
			return Capture{}, err
		}
		c.Title = title
		raw = text
	case looksLikeHTML(raw):
		raw = StripHTML(raw)
	}

	c.Lines = splitLines(raw)
	if len(c.Lines) == 0 {
		return Capture{}, ErrEmptyInput
	}
	in.logCapture(store.ModeText, len(c.Lines))
	return c, nil
}

// Image runs OCR over an uploaded image.
func (in *Inputs) Image(ctx context.Context, dataURI string) (Capture, error) {
	if _, _, err := DecodeDataURI(dataURI); err != nil {
		return Capture{}, fmt.Errorf("invalid image: %w", err)
	}
	if in.OCR == nil {
		return Capture{}, ErrOCRUnavailable
	}
	text, err := in.OCR.Recognize(ctx, dataURI)
	if err != nil {
		return Capture{}, err
	}
	lines := splitLines(text)
	if len(lines) == 0 {
		return Capture{}, ErrEmptyInput
	}
	in.logCapture(store.ModeImage, len(lines))
	return Capture{Mode: store.ModeImage, Lines: lines, Source: dataURI}, nil
}

// Voice transcribes recorded speech.
func (in *Inputs) Voice(ctx context.Context, audio []byte, mimeType string) (Capture, error) {
	if in.Transcriber == nil {
		return Capture{}, ErrTranscriptionUnavailable
	}
	transcript, err := in.Transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return Capture{}, err
	}
	return in.Transcript(transcript)
}

// Transcript accepts text already recognized elsewhere, such as a client-side
// speech recognizer.
func (in *Inputs) Transcript(transcript string) (Capture, error) {
	lines := splitLines(transcript)
	if len(lines) == 0 {
		return Capture{}, ErrEmptyInput
	}
	in.logCapture(store.ModeVoice, len(lines))
	return Capture{Mode: store.ModeVoice, Lines: lines, Source: strings.TrimSpace(transcript)}, nil
}

// ScreenMode grabs the current screen and reads instructions off it.
func (in *Inputs) ScreenMode(ctx context.Context) (Capture, error) {
	if in.Screen == nil {
		return Capture{}, fmt.Errorf("no screen source configured")
	}
	frame, err := in.Screen.Capture(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("screen capture failed: %w", err)
	}
	c, err := in.Image(ctx, frame)
	if err != nil {
		return Capture{}, err
	}
	c.Mode = store.ModeScreen
	return c, nil
}

func (in *Inputs) logCapture(mode store.Mode, lines int) {
	if in.Logger == nil {
		return
	}
	in.Logger.Log(observability.Event{
		Type: observability.EventTypeCapture,
		Data: map[string]any{"mode": mode, "lines": lines},
	})
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
