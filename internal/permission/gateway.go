package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/UmanUmair/ScreenGuide/internal/governance"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
)

// Capability is a media capability that needs user consent.
type Capability string

const (
	CapabilityScreen     Capability = "screen"
	CapabilityMicrophone Capability = "microphone"
	CapabilityCamera     Capability = "camera"
)

// Capabilities lists every known capability.
var Capabilities = []Capability{CapabilityScreen, CapabilityMicrophone, CapabilityCamera}

func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability: %s", s)
}

// Resource is whatever the platform acquired; it is released right away.
type Resource interface {
	Release()
}

// Platform performs feature detection and media acquisition.
type Platform interface {
	Supports(c Capability) bool
	Acquire(ctx context.Context, c Capability) (Resource, error)
}

// Gateway tracks granted capabilities and the last error per capability.
// A single Gateway is shared by handle between the capture modes.
type Gateway struct {
	mu       sync.RWMutex
	platform Platform
	policy   governance.PolicyEngine
	origin   string
	granted  map[Capability]bool
	errs     map[Capability]string
	logger   *observability.Logger
}

type Option func(*Gateway)

// WithPolicy consults policy before touching the platform.
func WithPolicy(p governance.PolicyEngine) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithOrigin sets the origin evaluated by the policy.
func WithOrigin(origin string) Option {
	return func(g *Gateway) { g.origin = origin }
}

func WithLogger(l *observability.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func NewGateway(platform Platform, opts ...Option) *Gateway {
	g := &Gateway{
		platform: platform,
		granted:  make(map[Capability]bool),
		errs:     make(map[Capability]string),
		logger:   observability.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request acquires and immediately releases c to obtain consent. Failures are
// recorded in the error map rather than returned.
func (g *Gateway) Request(ctx context.Context, c Capability) bool {
	if g.policy != nil {
		res, err := g.policy.Evaluate(ctx, governance.Request{Capability: string(c), Origin: g.origin})
		if err != nil {
			return g.fail(c, err)
		}
		if res.Effect == governance.EffectDeny {
			name := ErrNameNotAllowed
			if res.Code == governance.CodeInsecureOrigin {
				name = ErrNameSecurity
			}
			return g.fail(c, NewPlatformError(name, fmt.Errorf("%s", res.Reason)))
		}
	}

	if !g.IsSupported(c) {
		return g.fail(c, NewPlatformError(ErrNameNotSupported, nil))
	}

	res, err := g.platform.Acquire(ctx, c)
	if err != nil {
		return g.fail(c, err)
	}
	if res != nil {
		res.Release()
	}

	g.mu.Lock()
	g.granted[c] = true
	delete(g.errs, c)
	g.mu.Unlock()

	g.logger.LogPermission(string(c), true, "")
	return true
}

func (g *Gateway) fail(c Capability, err error) bool {
	msg := Message(c, err)

	g.mu.Lock()
	g.granted[c] = false
	g.errs[c] = msg
	g.mu.Unlock()

	g.logger.LogPermission(string(c), false, msg)
	return false
}

func (g *Gateway) HasPermission(c Capability) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[c]
}

func (g *Gateway) HasScreenPermission() bool     { return g.HasPermission(CapabilityScreen) }
func (g *Gateway) HasMicrophonePermission() bool { return g.HasPermission(CapabilityMicrophone) }
func (g *Gateway) HasCameraPermission() bool     { return g.HasPermission(CapabilityCamera) }

func (g *Gateway) IsSupported(c Capability) bool {
	return g.platform != nil && g.platform.Supports(c)
}

// Errors returns a copy of the per-capability error map.
func (g *Gateway) Errors() map[Capability]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Capability]string, len(g.errs))
	for k, v := range g.errs {
		out[k] = v
	}
	return out
}

func (g *Gateway) ClearError(c Capability) {
	g.mu.Lock()
	delete(g.errs, c)
	g.mu.Unlock()
}

// CapabilityState is a point-in-time view of one capability.
type CapabilityState struct {
	Capability Capability `json:"capability"`
	Supported  bool       `json:"supported"`
	Granted    bool       `json:"granted"`
	Error      string     `json:"error,omitempty"`
}

func (g *Gateway) States() []CapabilityState {
	errs := g.Errors()
	out := make([]CapabilityState, 0, len(Capabilities))
	for _, c := range Capabilities {
		out = append(out, CapabilityState{
			Capability: c,
			Supported:  g.IsSupported(c),
			Granted:    g.HasPermission(c),
			Error:      errs[c],
		})
	}
	return out
}
