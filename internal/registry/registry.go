// Package registry holds the declarative worker capability table. It is
// populated once at startup and read-only afterwards: the planner formats
// it into prompts, the dispatch router validates declared outputs against
// it, join/reduce reads memorable slots from it, and the synthesizer reads
// synthesis modes from it.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/haricheung/harbormind/internal/types"
)

// Worker is one executable capability. Failures are reported in the
// returned WorkerResult, never as panics; the executor recovers panics as a
// last resort.
type Worker interface {
	Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, in types.WorkerInput) types.WorkerResult

func (f WorkerFunc) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	return f(ctx, in)
}

type entry struct {
	cap    types.WorkerCapability
	worker Worker
}

// Registry maps capability names to their descriptors and bodies.
type Registry struct {
	entries map[string]entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a capability. A duplicate name is a startup error; all
// registration happens in one routine so the caller can fail fast.
// Defaults applied: synthesis_mode "hidden", goal_type "support".
func (r *Registry) Register(cap types.WorkerCapability, w Worker) error {
	if cap.Name == "" {
		return fmt.Errorf("registry: capability with empty name")
	}
	if _, exists := r.entries[cap.Name]; exists {
		return fmt.Errorf("registry: duplicate capability %q", cap.Name)
	}
	if w == nil {
		return fmt.Errorf("registry: capability %q has no worker body", cap.Name)
	}
	if cap.SynthesisMode == "" {
		cap.SynthesisMode = types.SynthHidden
	}
	if cap.GoalType == "" {
		cap.GoalType = types.GoalSupport
	}
	r.entries[cap.Name] = entry{cap: cap, worker: w}
	r.order = append(r.order, cap.Name)
	return nil
}

// MustRegister is Register for startup wiring where a duplicate is a bug.
func (r *Registry) MustRegister(cap types.WorkerCapability, w Worker) {
	if err := r.Register(cap, w); err != nil {
		panic(err)
	}
}

// Lookup returns the capability descriptor for name.
func (r *Registry) Lookup(name string) (types.WorkerCapability, bool) {
	e, ok := r.entries[name]
	return e.cap, ok
}

// WorkerFor returns the executable body for name.
func (r *Registry) WorkerFor(name string) (Worker, bool) {
	e, ok := r.entries[name]
	return e.worker, ok
}

// Capabilities returns all descriptors in registration order.
func (r *Registry) Capabilities() []types.WorkerCapability {
	caps := make([]types.WorkerCapability, 0, len(r.order))
	for _, name := range r.order {
		caps = append(caps, r.entries[name].cap)
	}
	return caps
}

// Names returns all capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int { return len(r.entries) }
