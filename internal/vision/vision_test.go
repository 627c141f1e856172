package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/UmanUmair/ScreenGuide/pkg/config"
)

type stubModel struct {
	content  string
	err      error
	messages []llms.MessageContent
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.content, m.err
}

var testRequest = Request{
	Screenshot:   "data:image/png;base64,iVBORw0KGgo=",
	Instructions: []string{"Open Chrome", "Go to gmail.com", "Click Sign In"},
	CurrentStep:  1,
}

func simulatedStatuses() map[Status]bool {
	return map[Status]bool{StatusOnTrack: true, StatusOffTrack: true, StatusCompleted: true}
}

func TestSimulated_AlwaysUsableResult(t *testing.T) {
	sim := NewSimulated(0).WithSeed(42)
	seen := map[Status]bool{}

	for i := 0; i < 200; i++ {
		res, err := sim.Analyze(context.Background(), testRequest)
		require.NoError(t, err)
		assert.True(t, simulatedStatuses()[res.Status], "unexpected status %s", res.Status)
		assert.NotEmpty(t, res.VisualCues)
		assert.Equal(t, 1, res.CurrentStep)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
		for _, c := range res.VisualCues {
			assert.True(t, c.X >= 0 && c.X+c.Width <= FrameWidth, "x out of frame: %+v", c)
			assert.True(t, c.Y >= 0 && c.Y+c.Height <= FrameHeight, "y out of frame: %+v", c)
		}
		assert.Contains(t, res.Message, "Go to gmail.com")
		seen[res.Status] = true
	}
	assert.Len(t, seen, 3, "every scenario should be picked")
}

func TestSimulated_RespectsContext(t *testing.T) {
	sim := NewSimulated(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Analyze(ctx, testRequest)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadScenarios_Rejects(t *testing.T) {
	_, err := LoadScenarios([]byte(`- status: error
  cues: [{type: arrow}]`))
	assert.Error(t, err)

	_, err = LoadScenarios([]byte(`- status: on_track
  cues: []`))
	assert.Error(t, err)

	_, err = LoadScenarios([]byte(`- status: on_track
  cues: [{type: laser}]`))
	assert.Error(t, err)

	_, err = LoadScenarios([]byte(`[]`))
	assert.Error(t, err)
}

type blockingAnalyzer struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, req Request) (*ScreenAnalysis, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &ScreenAnalysis{Status: StatusOnTrack}, nil
}

func TestClient_RejectsConcurrentCall(t *testing.T) {
	b := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	c := NewClient(b)

	done := make(chan error, 1)
	go func() {
		_, err := c.Analyze(context.Background(), testRequest)
		done <- err
	}()
	<-b.started
	assert.True(t, c.Busy())

	start := time.Now()
	_, err := c.Analyze(context.Background(), testRequest)
	assert.ErrorIs(t, err, ErrAlreadyAnalyzing)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(b.release)
	require.NoError(t, <-done)
	assert.False(t, c.Busy())

	_, err = c.Analyze(context.Background(), testRequest)
	assert.NoError(t, err)
}

func TestParseAnalysis_Clamps(t *testing.T) {
	content := "```json\n" + `{
		"currentStep": 2,
		"confidence": 1.7,
		"status": "ON_TRACK",
		"message": " Click the button ",
		"suggestions": ["Look top right", " "],
		"visualCues": [
			{"type": "arrow", "x": 5000, "y": -10},
			{"type": "highlight", "x": 100, "y": 2000, "width": 4000, "height": 30},
			{"type": "laser", "x": 1, "y": 1}
		]
	}` + "\n```"

	res, err := ParseAnalysis(content, testRequest)
	require.NoError(t, err)
	assert.Equal(t, StatusOnTrack, res.Status)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, 2, res.CurrentStep)
	assert.Equal(t, "Click the button", res.Message)
	assert.Equal(t, []string{"Look top right"}, res.Suggestions)
	require.Len(t, res.VisualCues, 2)
	assert.Equal(t, 1920.0, res.VisualCues[0].X)
	assert.Equal(t, 0.0, res.VisualCues[0].Y)
	assert.Equal(t, 1080.0, res.VisualCues[1].Y)
	assert.Equal(t, 1920.0, res.VisualCues[1].Width)

	res, err = ParseAnalysis(`Sure! {"status":"off_track","confidence":-3,"currentStep":9}`, testRequest)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 1, res.CurrentStep)
}

func TestParseAnalysis_Failures(t *testing.T) {
	for _, content := range []string{
		"I cannot see the screen.",
		`{"status": "maybe"}`,
		`{"status": "on_track", "confidence": "high"}`,
		`}{`,
	} {
		_, err := ParseAnalysis(content, testRequest)
		assert.Error(t, err, content)
	}
}

func TestRemote_ParsesModelReply(t *testing.T) {
	model := &stubModel{content: `{"status":"completed","confidence":0.9,"message":"Done","visualCues":[{"type":"circle","x":10,"y":20}]}`}
	r := NewRemote(model, NewPromptManager(""), NewSimulated(0), nil)

	res, err := r.Analyze(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Done", res.Message)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	human := model.messages[1]
	require.Len(t, human.Parts, 2)
	text, ok := human.Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Go to gmail.com")
	img, ok := human.Parts[1].(llms.ImageURLContent)
	require.True(t, ok)
	assert.Equal(t, testRequest.Screenshot, img.URL)
}

func TestRemote_FallsBackToSimulation(t *testing.T) {
	for _, model := range []*stubModel{
		{err: errors.New("connection refused")},
		{content: "not json at all"},
		{content: `{"status":"unknown"}`},
	} {
		r := NewRemote(model, NewPromptManager(""), NewSimulated(0).WithSeed(1), nil)
		res, err := r.Analyze(context.Background(), testRequest)
		require.NoError(t, err)
		assert.True(t, simulatedStatuses()[res.Status])
		assert.NotEmpty(t, res.VisualCues)
	}
}

// hangingModel never answers until the caller gives up.
type hangingModel struct{}

func (hangingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRemote_TimeoutStillSimulates(t *testing.T) {
	r := NewRemote(hangingModel{}, NewPromptManager(""), NewSimulated(50*time.Millisecond).WithSeed(3), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := r.Analyze(ctx, testRequest)
	require.NoError(t, err, "a model timeout must be answered by the simulation")
	require.NotNil(t, res)
	assert.True(t, simulatedStatuses()[res.Status])
	assert.NotEmpty(t, res.VisualCues)
}

func TestNewAnalyzer_SelectsStrategy(t *testing.T) {
	a := NewAnalyzer(nil, NewPromptManager(""), providerWithTokens(0), 0, nil)
	_, ok := a.(*Simulated)
	assert.True(t, ok)
	assert.True(t, NewClient(a).Simulated())

	a = NewAnalyzer(&stubModel{}, NewPromptManager(""), providerWithTokens(256), 0, nil)
	r, ok := a.(*Remote)
	require.True(t, ok)
	assert.Equal(t, 256, r.MaxTokens)
	assert.False(t, NewClient(a).Simulated())
}

func providerWithTokens(n int) config.ProviderConfig {
	return config.ProviderConfig{MaxTokens: n}
}
