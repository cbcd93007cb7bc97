package runner

import "sync"

// Registry tracks the live runner for each in-flight build. The durable
// store answers "what happened"; the registry answers "who is driving it
// right now" so control requests (approval, decisions, cancellation) can
// reach the goroutine that is suspended waiting for them.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Register records r as the live runner for its build.
func (g *Registry) Register(r *Runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runners[r.build.ID] = r
}

// Lookup returns the live runner for a build, if one exists.
func (g *Registry) Lookup(buildID string) (*Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[buildID]
	return r, ok
}

// Unregister removes the runner for a build. Called exactly once, when the
// run goroutine exits.
func (g *Registry) Unregister(buildID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runners, buildID)
}
