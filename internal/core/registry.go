package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultExpression is used for declarations that do not name a schedule.
const DefaultExpression = "* * * * *"

// Target is the execution contract every schedulable unit of work satisfies.
type Target interface {
	Execute(ctx context.Context, args Arguments) error
}

// TargetFunc adapts a plain function to Target.
type TargetFunc func(ctx context.Context, args Arguments) error

func (f TargetFunc) Execute(ctx context.Context, args Arguments) error {
	return f(ctx, args)
}

// ArgumentsValidator is implemented by targets that check their arguments
// before a task is registered against them.
type ArgumentsValidator interface {
	ValidateArguments(args Arguments) error
}

// TargetResolver maps a target name to its implementation.
type TargetResolver interface {
	Resolve(name string) (Target, bool)
}

// Declaration is a task defined in code or configuration rather than storage.
type Declaration struct {
	Target      string
	Expression  string
	Description string
}

// Declarations lists the declared tasks known to the process.
type Declarations interface {
	Declarations() []Declaration
}

// Registry holds the named targets of the process and the declared tasks bound to them.
// It is built once at startup; declarations may be swapped atomically afterwards.
type Registry struct {
	mu           sync.RWMutex
	targets      map[string]Target
	declarations []Declaration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register binds a target implementation to name.
func (r *Registry) Register(name string, target Target) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: target name is required", ErrInvalidTarget)
	}
	if target == nil {
		return fmt.Errorf("%w: target %q has no implementation", ErrInvalidTarget, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[name]; exists {
		return fmt.Errorf("%w: target %q already registered", ErrInvalidTarget, name)
	}
	r.targets[name] = target
	return nil
}

// RegisterFunc binds a function to name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, args Arguments) error) error {
	if fn == nil {
		return r.Register(name, nil)
	}
	return r.Register(name, TargetFunc(fn))
}

// Resolve implements TargetResolver.
func (r *Registry) Resolve(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// Targets returns the registered target names in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declare adds a declared task for a registered target. An empty expression
// means every minute. Declaring the same target twice replaces the earlier entry.
func (r *Registry) Declare(target, expression, description string) error {
	d, err := r.validate(Declaration{Target: target, Expression: expression, Description: description})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.declarations {
		if r.declarations[i].Target == d.Target {
			r.declarations[i] = d
			return nil
		}
	}
	r.declarations = append(r.declarations, d)
	return nil
}

// ReplaceDeclarations validates decls and swaps them in as the full declared set.
// Nothing changes when any entry is invalid.
func (r *Registry) ReplaceDeclarations(decls []Declaration) error {
	next := make([]Declaration, 0, len(decls))
	seen := make(map[string]int, len(decls))
	for _, raw := range decls {
		d, err := r.validate(raw)
		if err != nil {
			return err
		}
		if i, ok := seen[d.Target]; ok {
			next[i] = d
			continue
		}
		seen[d.Target] = len(next)
		next = append(next, d)
	}
	r.mu.Lock()
	r.declarations = next
	r.mu.Unlock()
	return nil
}

// Declarations implements the Declarations contract and returns a snapshot in declaration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, len(r.declarations))
	copy(out, r.declarations)
	return out
}

func (r *Registry) validate(d Declaration) (Declaration, error) {
	d.Target = strings.TrimSpace(d.Target)
	d.Expression = NormalizeExpression(d.Expression)
	if d.Expression == "" {
		d.Expression = DefaultExpression
	}
	if _, ok := r.Resolve(d.Target); !ok {
		return Declaration{}, fmt.Errorf("%w: declared target %q is not registered", ErrInvalidTarget, d.Target)
	}
	schedule, err := ParseCron(d.Expression)
	if err != nil {
		return Declaration{}, fmt.Errorf("declaration %q: %w", d.Target, err)
	}
	if _, err := nextOf(schedule, d.Expression, time.Now()); err != nil {
		return Declaration{}, fmt.Errorf("declaration %q: %w", d.Target, err)
	}
	return d, nil
}
