// Package instruction turns free-form instruction text into ordered steps.
// It is a heuristic splitter with no language understanding.
package instruction

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/UmanUmair/ScreenGuide/internal/store"
)

const (
	DefaultMaxSteps  = 8
	DefaultMinLength = 10
	maxTitleLength   = 50
)

var (
	// "1." or "2)" list markers at line start or after whitespace.
	listMarker = regexp.MustCompile(`(?:^|\s)\d{1,2}[.)]\s+`)
	// A period ends a sentence only when followed by whitespace or the end,
	// which keeps "gmail.com" and "v1.2" intact.
	sentenceEnd = regexp.MustCompile(`\.(?:\s+|$)`)

	warningWords = regexp.MustCompile(`(?i)\b(warning|caution|careful|do not|don't|never|avoid)\b`)
	infoWords    = regexp.MustCompile(`(?i)^(note|tip|info|remember)\b`)
)

type Processor struct {
	Delay     time.Duration
	MaxSteps  int
	MinLength int
}

func NewProcessor(delay time.Duration) *Processor {
	return &Processor{
		Delay:     delay,
		MaxSteps:  DefaultMaxSteps,
		MinLength: DefaultMinLength,
	}
}

// Process waits the configured delay, then splits text.
func (p *Processor) Process(ctx context.Context, text string) ([]store.Step, error) {
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return p.Split(text), nil
}

// Split breaks text into at most MaxSteps steps; the first is marked current.
func (p *Processor) Split(text string) []store.Step {
	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}

	var steps []store.Step
	for _, fragment := range Fragments(text) {
		if len([]rune(fragment)) < minLen {
			continue
		}
		steps = append(steps, store.Step{
			ID:          len(steps) + 1,
			Title:       title(fragment),
			Description: fragment,
			Type:        classify(fragment),
		})
		if len(steps) == maxSteps {
			break
		}
	}
	if len(steps) > 0 {
		steps[0].Current = true
	}
	return steps
}

// Fragments returns the trimmed, non-empty pieces of text in order.
func Fragments(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = listMarker.ReplaceAllString(text, "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, part := range sentenceEnd.Split(line, -1) {
			part = strings.TrimSpace(part)
			part = strings.TrimLeft(part, "-*• \t")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func title(fragment string) string {
	r := []rune(fragment)
	if len(r) <= maxTitleLength {
		return fragment
	}
	cut := string(r[:maxTitleLength-3])
	if i := strings.LastIndex(cut, " "); i > maxTitleLength/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func classify(fragment string) store.StepType {
	switch {
	case warningWords.MatchString(fragment):
		return store.StepWarning
	case infoWords.MatchString(fragment):
		return store.StepInfo
	default:
		return store.StepAction
	}
}
