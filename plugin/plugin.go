// Package plugin resolves tenant automation for plugin_job definitions:
// named native methods registered at startup, and stored scripts looked
// up per tenant.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
)

// Call is the input of a plugin method.
type Call struct {
	StoreID string
	Params  map[string]any
	Logger  *slog.Logger
}

// Method is a native plugin entry point.
type Method func(ctx context.Context, call Call) (any, error)

// Registry maps plugin name and method name to a Method.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]map[string]Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]map[string]Method)}
}

// Register adds a method. A later registration replaces an earlier one.
func (r *Registry) Register(plugin, method string, fn Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.methods[plugin] == nil {
		r.methods[plugin] = make(map[string]Method)
	}
	r.methods[plugin][method] = fn
}

// Resolve looks up a method. Missing plugins and methods are
// configuration errors.
func (r *Registry) Resolve(plugin, method string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods, ok := r.methods[plugin]
	if !ok {
		return nil, jobs.Misconfigured("plugin.resolve", fmt.Sprintf("plugin %q is not registered", plugin))
	}
	fn, ok := methods[method]
	if !ok {
		return nil, jobs.Misconfigured("plugin.resolve", fmt.Sprintf("plugin %q has no method %q", plugin, method))
	}
	return fn, nil
}

// Plugins returns the registered plugin names, sorted.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Script is a stored automation program, owned by one tenant.
type Script struct {
	jobs.Entity

	ID      id.ScriptID     `json:"id"`
	StoreID string          `json:"store_id"`
	Name    string          `json:"name"`
	Program json.RawMessage `json:"program"`
	Enabled bool            `json:"enabled"`
}

// ScriptStore is the store of record for tenant scripts.
type ScriptStore interface {
	SaveScript(ctx context.Context, s *Script) error
	// GetScript returns ErrScriptNotFound for scripts of other tenants.
	GetScript(ctx context.Context, storeID string, scriptID id.ScriptID) (*Script, error)
}
