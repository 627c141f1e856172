package vision

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a canned analysis template.
type Scenario struct {
	Status      Status      `yaml:"status"`
	Confidence  [2]float64  `yaml:"confidence"`
	Message     string      `yaml:"message"`
	Suggestions []string    `yaml:"suggestions"`
	Cues        []VisualCue `yaml:"cues"`
}

// LoadScenarios decodes scenario templates from YAML and validates them.
func LoadScenarios(data []byte) ([]Scenario, error) {
	var scenarios []Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("failed to decode scenarios: %w", err)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios defined")
	}
	for i, s := range scenarios {
		if !s.Status.Valid() || s.Status == StatusError {
			return nil, fmt.Errorf("scenario %d: invalid status %q", i, s.Status)
		}
		if len(s.Cues) == 0 {
			return nil, fmt.Errorf("scenario %d: at least one cue is required", i)
		}
		for _, c := range s.Cues {
			if !c.Type.Valid() {
				return nil, fmt.Errorf("scenario %d: invalid cue type %q", i, c.Type)
			}
		}
	}
	return scenarios, nil
}

// DefaultScenarios returns the embedded on_track/off_track/completed templates.
func DefaultScenarios() []Scenario {
	data, err := defaultFS.ReadFile("defaults/scenarios.yaml")
	if err != nil {
		panic(err)
	}
	scenarios, err := LoadScenarios(data)
	if err != nil {
		panic(err)
	}
	return scenarios
}

// Simulated picks a canned scenario uniformly at random after a fixed delay.
type Simulated struct {
	Delay     time.Duration
	Scenarios []Scenario

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{
		Delay:     delay,
		Scenarios: DefaultScenarios(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the random choices reproducible.
func (s *Simulated) WithSeed(seed int64) *Simulated {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
	return s
}

func (s *Simulated) Analyze(ctx context.Context, req Request) (*ScreenAnalysis, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.Scenarios[s.rng.Intn(len(s.Scenarios))]

	lo, hi := sc.Confidence[0], sc.Confidence[1]
	if hi < lo {
		lo, hi = hi, lo
	}

	cues := make([]VisualCue, len(sc.Cues))
	for i, c := range sc.Cues {
		// keep the cue box inside the frame with a 100px margin
		c.X = 100 + s.rng.Float64()*(FrameWidth-200-c.Width)
		c.Y = 100 + s.rng.Float64()*(FrameHeight-200-c.Height)
		cues[i] = c
	}

	return &ScreenAnalysis{
		CurrentStep: req.CurrentStep,
		Confidence:  clamp(lo+s.rng.Float64()*(hi-lo), 0, 1),
		Suggestions: append([]string(nil), sc.Suggestions...),
		VisualCues:  cues,
		Status:      sc.Status,
		Message:     renderMessage(sc.Message, req),
	}, nil
}

func renderMessage(msg string, req Request) string {
	tmpl, err := template.New("message").Parse(msg)
	if err != nil {
		return msg
	}
	instruction := req.CurrentInstruction()
	if instruction == "" {
		instruction = "this step"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{"Instruction": instruction}); err != nil {
		return msg
	}
	return buf.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
