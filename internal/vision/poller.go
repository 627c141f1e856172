package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

// FrameProvider returns the latest screen frame as a data URI.
type FrameProvider func(ctx context.Context) (string, error)

// Poller runs continuous analysis on a fixed interval. Only one loop is ever
// active: Start cancels the previous loop before launching a new one.
type Poller struct {
	client  *Client
	timeout time.Duration
	logger  *observability.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	loops  atomic.Int32
}

func NewPoller(client *Client, timeout time.Duration, logger *observability.Logger) *Poller {
	if logger == nil {
		logger = observability.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Poller{client: client, timeout: timeout, logger: logger}
}

// StartContinuousAnalysis invokes Analyze every interval with the current
// frame, instructions and step, forwarding each result to callback.
func (p *Poller) StartContinuousAnalysis(
	frames FrameProvider,
	instructions func() []string,
	step func() int,
	callback func(*ScreenAnalysis),
	interval time.Duration,
) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.loops.Add(1)
	go func() {
		defer p.loops.Add(-1)
		p.run(ctx, frames, instructions, step, callback, interval)
	}()
}

// StopContinuousAnalysis cancels the timer. A call already in flight still
// completes and is delivered.
func (p *Poller) StopContinuousAnalysis() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Active reports whether a loop is scheduled.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(
	ctx context.Context,
	frames FrameProvider,
	instructions func() []string,
	step func() int,
	callback func(*ScreenAnalysis),
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.tick(ctx, frames, instructions, step, callback)
		}
	}
}

func (p *Poller) tick(
	ctx context.Context,
	frames FrameProvider,
	instructions func() []string,
	step func() int,
	callback func(*ScreenAnalysis),
) {
	// The call outlives Stop; only the per-call timeout bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	frame, err := frames(callCtx)
	if err != nil {
		p.logger.Warn("failed to capture frame", zap.Error(err))
		return
	}

	analysis, err := p.client.Analyze(callCtx, Request{
		Screenshot:   frame,
		Instructions: instructions(),
		CurrentStep:  step(),
	})
	if errors.Is(err, ErrAlreadyAnalyzing) {
		p.logger.Debug("skipping tick, analysis in flight")
		return
	}
	if err != nil {
		p.logger.Warn("analysis failed", zap.Error(err))
		return
	}
	callback(analysis)
}
