package vision

import (
	"context"
	"errors"
)

// Frame dimensions every cue coordinate is expressed in.
const (
	FrameWidth  = 1920.0
	FrameHeight = 1080.0
)

// ErrAlreadyAnalyzing is returned when a call is made while another is in flight.
var ErrAlreadyAnalyzing = errors.New("analysis already in progress")

type Status string

const (
	StatusOnTrack   Status = "on_track"
	StatusOffTrack  Status = "off_track"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnTrack, StatusOffTrack, StatusCompleted, StatusError:
		return true
	}
	return false
}

type CueType string

const (
	CueArrow     CueType = "arrow"
	CueHighlight CueType = "highlight"
	CueCircle    CueType = "circle"
	CueTooltip   CueType = "tooltip"
)

func (t CueType) Valid() bool {
	switch t {
	case CueArrow, CueHighlight, CueCircle, CueTooltip:
		return true
	}
	return false
}

// VisualCue is a positioned overlay marker in 1920x1080 space.
type VisualCue struct {
	Type   CueType `json:"type" yaml:"type"`
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Text   string  `json:"text,omitempty" yaml:"text,omitempty"`
	Color  string  `json:"color,omitempty" yaml:"color,omitempty"`
}

// ScreenAnalysis is one evaluation of a screenshot against the current step.
type ScreenAnalysis struct {
	CurrentStep int         `json:"currentStep"`
	Confidence  float64     `json:"confidence"`
	Suggestions []string    `json:"suggestions"`
	VisualCues  []VisualCue `json:"visualCues"`
	Status      Status      `json:"status"`
	Message     string      `json:"message"`
}

// Request carries the screenshot (a data URI) and the instruction context.
type Request struct {
	Screenshot   string   `json:"screenshot"`
	Instructions []string `json:"instructions"`
	CurrentStep  int      `json:"currentStep"`
}

// CurrentInstruction returns the text of the current step, or "".
func (r Request) CurrentInstruction() string {
	if r.CurrentStep < 0 || r.CurrentStep >= len(r.Instructions) {
		return ""
	}
	return r.Instructions[r.CurrentStep]
}

// Analyzer is a strategy producing a ScreenAnalysis.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*ScreenAnalysis, error)
}
