package governance

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Reason codes attached to a deny.
const (
	CodeRestricted     = "restricted"
	CodeInsecureOrigin = "insecure_origin"
)

// Request describes a capability acquisition to be evaluated.
type Request struct {
	Capability string
	Origin     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Code   string
	Reason string
}

// PolicyEngine evaluates capability requests against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies listed capabilities and, optionally, any request
// coming from a non-encrypted origin other than loopback.
type DefaultPolicyEngine struct {
	DeniedCapabilities  map[string]bool
	RequireSecureOrigin bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedCapabilities: make(map[string]bool),
	}
}

func (e *DefaultPolicyEngine) DenyCapability(name string) {
	e.DeniedCapabilities[strings.ToLower(strings.TrimSpace(name))] = true
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedCapabilities[req.Capability] {
		return Result{
			Effect: EffectDeny,
			Code:   CodeRestricted,
			Reason: fmt.Sprintf("Capability '%s' is restricted by system policy", req.Capability),
		}, nil
	}

	if e.RequireSecureOrigin {
		secure, err := IsSecureOrigin(req.Origin)
		if err != nil {
			return Result{}, err
		}
		if !secure {
			return Result{
				Effect: EffectDeny,
				Code:   CodeInsecureOrigin,
				Reason: fmt.Sprintf("Origin %q is not a secure context", req.Origin),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// IsSecureOrigin treats https origins and loopback hosts as secure contexts.
// An empty origin means a local caller.
func IsSecureOrigin(origin string) (bool, error) {
	if origin == "" {
		return true, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "https" {
		return true, nil
	}
	host := u.Hostname()
	if host == "localhost" {
		return true, nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true, nil
	}
	return false, nil
}
