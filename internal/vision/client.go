package vision

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/pkg/config"
)

// Client guards an Analyzer so that at most one call is in flight.
type Client struct {
	analyzer Analyzer
	busy     atomic.Bool
}

func NewClient(analyzer Analyzer) *Client {
	return &Client{analyzer: analyzer}
}

// Analyze fails fast with ErrAlreadyAnalyzing instead of queueing.
func (c *Client) Analyze(ctx context.Context, req Request) (*ScreenAnalysis, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAnalyzing
	}
	defer c.busy.Store(false)
	return c.analyzer.Analyze(ctx, req)
}

// Busy reports whether a call is in flight.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Simulated reports whether the client runs the canned-scenario strategy only.
func (c *Client) Simulated() bool {
	_, ok := c.analyzer.(*Simulated)
	return ok
}

// NewModel builds the chat model for the named provider.
func NewModel(name string, p config.ProviderConfig, apiKey string) (llms.Model, error) {
	switch name {
	case "openai", "openrouter", "":
		opts := []openai.Option{
			openai.WithToken(apiKey),
		}
		if p.Model != "" {
			opts = append(opts, openai.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not yet implemented", name)
	}
}

// NewAnalyzer selects the strategy: the remote model when one is given,
// otherwise the simulator. The simulator also backs the remote path.
func NewAnalyzer(model llms.Model, prompts *PromptManager, p config.ProviderConfig, simDelay time.Duration, logger *observability.Logger) Analyzer {
	sim := NewSimulated(simDelay)
	if model == nil {
		return sim
	}
	r := NewRemote(model, prompts, sim, logger)
	if p.MaxTokens > 0 {
		r.MaxTokens = p.MaxTokens
	}
	if p.Temperature > 0 {
		r.Temperature = p.Temperature
	}
	return r
}
