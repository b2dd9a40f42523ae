// ABOUTME: Catalog resolves tool names against connected tool providers
// ABOUTME: Tracks per-provider connection state and dispatches invocations

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrToolNotFound indicates no ready provider exposes the requested tool name.
var ErrToolNotFound = errors.New("tool not found")

// ExecError wraps a provider failure during tool execution.
type ExecError struct {
	Tool string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Descriptor describes one callable tool: name, description, and the JSON
// schema of its expected arguments.
type Descriptor struct {
	Name            string
	Description     string
	ParameterSchema json.RawMessage
}

// Provider is a connected source of tools. Connect is driven lazily by the
// catalog; Tools and Call are only used after a successful Connect.
type Provider interface {
	ID() string
	Connect(ctx context.Context) error
	Tools() []Descriptor
	Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// ConnState is the connection state of a provider within the catalog.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
	StateFailed
)

// String returns the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type providerEntry struct {
	provider Provider
	state    ConnState
	lastErr  error
}

// Catalog maintains the set of tool providers and the tools they expose.
// Connection is attempted lazily and cached once successful; a provider
// that fails to connect contributes zero tools rather than an error.
type Catalog struct {
	mu      sync.Mutex
	entries []*providerEntry
	logger  *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		logger: logger.With("component", "tools"),
	}
}

// AddProvider registers a provider in the Disconnected state.
func (c *Catalog) AddProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, &providerEntry{
		provider: p,
		state:    StateDisconnected,
	})
	c.logger.Debug("provider added", "provider", p.ID())
}

// ensureConnected drives the Disconnected -> Connecting -> Ready|Failed
// transition for one entry. Callers hold c.mu.
func (c *Catalog) ensureConnected(ctx context.Context, e *providerEntry) {
	if e.state != StateDisconnected {
		return
	}

	e.state = StateConnecting
	if err := e.provider.Connect(ctx); err != nil {
		e.state = StateFailed
		e.lastErr = err
		c.logger.Warn("provider connection failed, tools unavailable",
			"provider", e.provider.ID(),
			"error", err)
		return
	}

	e.state = StateReady
	c.logger.Info("provider connected",
		"provider", e.provider.ID(),
		"tool_count", len(e.provider.Tools()))
}

// Available returns the descriptors of every tool exposed by ready providers.
// Providers still disconnected are connected now; a provider that cannot
// connect simply contributes nothing. Name collisions keep the first
// registration, matching provider order.
func (c *Catalog) Available(ctx context.Context) []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]string) // tool name -> provider ID
	var result []Descriptor
	for _, e := range c.entries {
		c.ensureConnected(ctx, e)
		if e.state != StateReady {
			continue
		}
		for _, d := range e.provider.Tools() {
			if owner, dup := seen[d.Name]; dup {
				c.logger.Warn("tool name collision, keeping first",
					"tool", d.Name,
					"kept", owner,
					"ignored", e.provider.ID())
				continue
			}
			seen[d.Name] = e.provider.ID()
			result = append(result, d)
		}
	}
	return result
}

// Invoke resolves a tool name against ready providers and dispatches the call.
// Returns ErrToolNotFound if no ready provider exposes the name, and an
// *ExecError wrapping the provider failure otherwise. The result payload is
// returned verbatim.
func (c *Catalog) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	var target Provider
	for _, e := range c.entries {
		c.ensureConnected(ctx, e)
		if e.state != StateReady {
			continue
		}
		for _, d := range e.provider.Tools() {
			if d.Name == name {
				target = e.provider
				break
			}
		}
		if target != nil {
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	result, err := target.Call(ctx, name, args)
	if err != nil {
		return nil, &ExecError{Tool: name, Err: err}
	}
	return result, nil
}

// Reset returns a Failed provider to Disconnected so a later turn retries
// the connection. Ready providers are left alone.
func (c *Catalog) Reset(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.provider.ID() != providerID {
			continue
		}
		if e.state == StateFailed {
			e.state = StateDisconnected
			e.lastErr = nil
			c.logger.Debug("provider reset", "provider", providerID)
		}
		return
	}
}

// State reports the connection state of a provider, for diagnostics.
func (c *Catalog) State(providerID string) (ConnState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.provider.ID() == providerID {
			return e.state, true
		}
	}
	return StateDisconnected, false
}
