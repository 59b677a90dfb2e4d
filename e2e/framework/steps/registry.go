// Package steps maps step text onto handlers. Patterns are regular
// expressions matched against the whole step text; capture groups become the
// handler's arguments.
package steps

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
)

// Handler executes a step.
type Handler func(ctx context.Context, sc *Context, args []string) error

// Definition is one registered pattern.
type Definition struct {
	Pattern *regexp.Regexp
	Handler Handler
}

// Registry stores definitions in registration order; the first match wins.
type Registry struct {
	mu   sync.RWMutex
	defs []Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler. The pattern is anchored at both ends. It panics
// on an invalid pattern, like regexp.MustCompile.
func (r *Registry) Register(pattern string, handler Handler) {
	anchored := "^" + strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$") + "$"
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = append(r.defs, Definition{Pattern: regexp.MustCompile(anchored), Handler: handler})
}

// Match finds the handler for text.
func (r *Registry) Match(text string) (Handler, []string, bool) {
	if r == nil {
		return nil, nil, false
	}
	text = strings.TrimSpace(text)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.defs {
		if m := def.Pattern.FindStringSubmatch(text); m != nil {
			return def.Handler, m[1:], true
		}
	}
	return nil, nil, false
}

// Has reports whether some definition matches text.
func (r *Registry) Has(text string) bool {
	_, _, ok := r.Match(text)
	return ok
}

// Patterns lists registered patterns.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Pattern.String())
	}
	return out
}

// Execute runs the handler for step. Undefined steps and handler errors are
// StepFailures unless the handler already classified the error.
func (r *Registry) Execute(ctx context.Context, sc *Context, step spec.Step) error {
	handler, args, ok := r.Match(step.Text)
	if !ok {
		return failures.New(failures.StepFailure, "execute step", "undefined step: %s", step.Text)
	}
	err := handler(ctx, sc, args)
	if err == nil {
		return nil
	}
	if _, classified := failures.KindOf(err); classified {
		return err
	}
	return failures.Wrap(failures.StepFailure, step.Text, err)
}
