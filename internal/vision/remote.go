package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

var errNoJSON = errors.New("no JSON object in model response")

// Remote asks a vision-capable chat model to evaluate the screenshot. Any
// failure, from transport to validation, is answered by Fallback instead.
type Remote struct {
	Model       llms.Model
	Prompts     *PromptManager
	Fallback    Analyzer
	MaxTokens   int
	Temperature float64
	Logger      *observability.Logger
}

func NewRemote(model llms.Model, prompts *PromptManager, fallback Analyzer, logger *observability.Logger) *Remote {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Remote{
		Model:       model,
		Prompts:     prompts,
		Fallback:    fallback,
		MaxTokens:   1000,
		Temperature: 0.3,
		Logger:      logger,
	}
}

func (r *Remote) Analyze(ctx context.Context, req Request) (*ScreenAnalysis, error) {
	analysis, err := r.analyze(ctx, req)
	if err == nil {
		return analysis, nil
	}
	r.Logger.Warn("vision model analysis failed, falling back to simulation", zap.Error(err))
	// A timed out model call still owes the caller a result.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	return r.Fallback.Analyze(ctx, req)
}

func (r *Remote) analyze(ctx context.Context, req Request) (*ScreenAnalysis, error) {
	systemPrompt, err := r.Prompts.GetSystemPrompt()
	if err != nil {
		return nil, err
	}
	userPrompt, err := r.Prompts.RenderUserPrompt(req)
	if err != nil {
		return nil, err
	}

	messages := []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role: schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(userPrompt),
				llms.ImageURLPart(req.Screenshot),
			},
		},
	}

	resp, err := r.Model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(r.MaxTokens),
		llms.WithTemperature(r.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision response had no choices")
	}

	content := resp.Choices[0].Content
	r.Logger.LogLLM("", userPrompt, content)

	return ParseAnalysis(content, req)
}

type rawCue struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Text   string  `json:"text"`
	Color  string  `json:"color"`
}

type rawAnalysis struct {
	CurrentStep *int     `json:"currentStep"`
	Confidence  *float64 `json:"confidence"`
	Suggestions []string `json:"suggestions"`
	VisualCues  []rawCue `json:"visualCues"`
	Status      string   `json:"status"`
	Message     string   `json:"message"`
}

// ParseAnalysis extracts the JSON object from a model reply, validates it
// and clamps every number into range.
func ParseAnalysis(content string, req Request) (*ScreenAnalysis, error) {
	obj, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}

	status := Status(strings.ToLower(strings.TrimSpace(raw.Status)))
	if !status.Valid() {
		return nil, fmt.Errorf("invalid analysis status %q", raw.Status)
	}

	out := &ScreenAnalysis{
		CurrentStep: req.CurrentStep,
		Confidence:  0.5,
		Status:      status,
		Message:     strings.TrimSpace(raw.Message),
		Suggestions: []string{},
		VisualCues:  []VisualCue{},
	}
	if raw.CurrentStep != nil && *raw.CurrentStep >= 0 && *raw.CurrentStep < len(req.Instructions) {
		out.CurrentStep = *raw.CurrentStep
	}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		out.Confidence = clamp(*raw.Confidence, 0, 1)
	}
	for _, s := range raw.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			out.Suggestions = append(out.Suggestions, s)
		}
	}
	for _, c := range raw.VisualCues {
		t := CueType(strings.ToLower(c.Type))
		if !t.Valid() {
			continue
		}
		out.VisualCues = append(out.VisualCues, VisualCue{
			Type:   t,
			X:      clamp(c.X, 0, FrameWidth),
			Y:      clamp(c.Y, 0, FrameHeight),
			Width:  clamp(c.Width, 0, FrameWidth),
			Height: clamp(c.Height, 0, FrameHeight),
			Text:   c.Text,
			Color:  c.Color,
		})
	}
	return out, nil
}

func extractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}
