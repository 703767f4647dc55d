// Package behaviors provides the named node behaviors a graph description
// can refer to, and the registry that builds them from params.
package behaviors

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/statenet/internal/fsm"
)

// ErrUnknownBehavior is returned by Registry.New for unregistered names.
var ErrUnknownBehavior = errors.New("unknown behavior")

// Factory builds a fresh behavior for one node. Behaviors that keep state
// between starts must not be shared, so New calls the factory per node.
type Factory func(params map[string]any) (fsm.Behavior, error)

// Registry maps behavior names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	out       io.Writer
}

// Option configures a Registry.
type Option func(*Registry)

// WithOutput sets where print writes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Registry) {
		r.out = w
	}
}

// NewRegistry creates a registry with no behaviors.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default creates a registry holding every built-in behavior.
func Default(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	registerBuiltins(r)
	return r
}

// Register adds a factory. An existing name is overwritten.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether name is registered. The empty name always is.
func (r *Registry) Has(name string) bool {
	if name == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds the behavior registered as name. An empty name means noop.
func (r *Registry) New(name string, params map[string]any) (fsm.Behavior, error) {
	if name == "" {
		name = "noop"
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBehavior, name)
	}

	b, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("behavior %q: %w", name, err)
	}
	return b, nil
}

// Decode copies params into the struct pointed to by target. Keys are
// matched against `mapstructure` tags, strings convert to time.Duration,
// and keys the target does not declare are an error.
func Decode(params map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}
