package redemption

import (
	"fmt"
	"sort"
	"sync"
)

// Registry owns every chain's redemption Pipeline, keyed by chain
// name. Mirrors chainhandler.Registry: the Orchestrator looks pipelines
// up by name, pipelines never reference the registry.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

// Register adds p, failing if its chain name is already registered.
func (r *Registry) Register(p *Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[p.ChainName()]; exists {
		return fmt.Errorf("redemption: pipeline for chain %q already registered", p.ChainName())
	}
	r.pipelines[p.ChainName()] = p
	return nil
}

// Get looks up the pipeline for chainName.
func (r *Registry) Get(chainName string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[chainName]
	return p, ok
}

// ChainNames returns every registered chain name, sorted.
func (r *Registry) ChainNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered pipeline, in ChainNames order.
func (r *Registry) All() []*Pipeline {
	names := r.ChainNames()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Pipeline, 0, len(names))
	for _, name := range names {
		out = append(out, r.pipelines[name])
	}
	return out
}

// Len returns the number of registered pipelines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}
