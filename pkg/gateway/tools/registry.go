// Package tools holds the fixed registry of server-side tools the language
// model may call during a turn.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Definition is the JSON-schema-shaped description advertised to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type Executor interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, input map[string]any) (string, error)
}

type Registry struct {
	byName map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	registry := &Registry{byName: make(map[string]Executor, len(executors))}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		registry.byName[ex.Name()] = ex
	}
	return registry
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	out := make([]Definition, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name].Definition())
	}
	return out
}

// Execute runs the named tool. An unknown name is an error; callers fold
// execution errors into tool-result strings so a bad call never fails the
// turn.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (string, error) {
	if r == nil {
		return "", fmt.Errorf("tools registry is not configured")
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return ex.Execute(ctx, input)
}
