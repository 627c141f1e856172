package store

import "time"

// StepType classifies how a step is presented.
type StepType string

const (
	StepAction  StepType = "action"
	StepInfo    StepType = "info"
	StepWarning StepType = "warning"
)

// Step is one discrete instruction shown to the user.
type Step struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Completed   bool     `json:"completed"`
	Type        StepType `json:"type"`
	Current     bool     `json:"current"`
}

// Mode is the capture path a task's instructions came from.
type Mode string

const (
	ModeText   Mode = "text"
	ModeImage  Mode = "image"
	ModeVoice  Mode = "voice"
	ModeScreen Mode = "screen"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeText, ModeImage, ModeVoice, ModeScreen:
		return true
	}
	return false
}

// Task bundles steps with their provenance. Source holds the original image
// data URI, voice transcript or screen capture, depending on Mode.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Steps       []Step    `json:"steps"`
	Mode        Mode      `json:"mode"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
