package pv

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Function is a helper callable from formula expressions. It must be pure:
// formulas are re-evaluated whenever an input changes.
type Function func(args ...any) (any, error)

// FunctionRegistry holds formula helpers. Names are case-insensitive and
// stored in lower case, so NINT and nint are the same function.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: map[string]Function{}}
}

// ScanFunctions returns a registry with the numeric helpers scan formulas
// commonly need: abs, ceil, floor, max, min, nint and sqrt.
func ScanFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	unary := func(name string, fn func(float64) float64) {
		_ = r.Register(name, func(args ...any) (any, error) {
			x, err := floatArgs(name, 1, args)
			if err != nil {
				return nil, err
			}
			return fn(x[0]), nil
		})
	}
	binary := func(name string, fn func(float64, float64) float64) {
		_ = r.Register(name, func(args ...any) (any, error) {
			x, err := floatArgs(name, 2, args)
			if err != nil {
				return nil, err
			}
			return fn(x[0], x[1]), nil
		})
	}
	unary("abs", math.Abs)
	unary("ceil", math.Ceil)
	unary("floor", math.Floor)
	unary("nint", math.Round)
	unary("sqrt", math.Sqrt)
	binary("max", math.Max)
	binary("min", math.Min)
	return r
}

func floatArgs(name string, n int, args []any) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("pv: %s expects %d argument(s), got %d", name, n, len(args))
	}
	out := make([]float64, n)
	for i, arg := range args {
		f, ok := numeric(arg)
		if !ok {
			return nil, fmt.Errorf("pv: %s argument %d is %T, not a number", name, i+1, arg)
		}
		out[i] = f
	}
	return out, nil
}

// Register adds fn under name. The name must be an identifier usable by
// every evaluator and must not already be taken.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("pv: function %q is nil", name)
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if !isIdentifier(key) {
		return fmt.Errorf("pv: function name %q is not an identifier", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = map[string]Function{}
	}
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("pv: function %q already registered", name)
	}
	r.functions[key] = fn
	return nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	return r.lookup(name) != nil
}

func (r *FunctionRegistry) lookup(name string) Function {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[strings.ToLower(name)]
}

// Clone returns an independent copy; later registrations on either side are
// not shared.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &FunctionRegistry{functions: make(map[string]Function, len(r.functions))}
	for name, fn := range r.functions {
		out.functions[name] = fn
	}
	return out
}

func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("pv: function registry is nil")
	}
	fn := r.lookup(name)
	if fn == nil {
		return nil, fmt.Errorf("pv: function %q not registered", name)
	}
	return fn(args...)
}

// Names returns the registered names in lower case, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// merge registers every function of src into r. Names already present in r
// are reported, not replaced.
func (r *FunctionRegistry) merge(src *FunctionRegistry) error {
	src = src.Clone()
	if src == nil {
		return nil
	}
	var errs []error
	for _, name := range src.Names() {
		errs = append(errs, r.Register(name, src.functions[name]))
	}
	return errors.Join(errs...)
}

// WithFunctionRegistry makes a copy of registry available to formulas
// compiled by the default evaluator. It can be combined, in any order, with
// further registries and WithCustomFunction; a name defined twice makes
// NewEngine fail. Evaluators passed to WithEvaluator take their registry from
// their own options.
func WithFunctionRegistry(registry *FunctionRegistry) EngineOption {
	return func(cfg *engineConfig) {
		if registry != nil {
			cfg.registries = append(cfg.registries, registry.Clone())
		}
	}
}

// WithCustomFunction registers one helper for the default evaluator.
func WithCustomFunction(name string, fn Function) EngineOption {
	return func(cfg *engineConfig) {
		cfg.custom = append(cfg.custom, customFunction{name: name, fn: fn})
	}
}
