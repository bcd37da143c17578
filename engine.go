package pv

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	evaluator  Evaluator
	registries []*FunctionRegistry
	custom     []customFunction
	functions  *FunctionRegistry
	errs       []error
}

type customFunction struct {
	name string
	fn   Function
}

// buildFunctions merges the registries and custom helpers, independent of
// the order the options were given in. A name defined twice is an error.
func (cfg *engineConfig) buildFunctions() error {
	if len(cfg.registries) == 0 && len(cfg.custom) == 0 {
		return nil
	}
	functions := NewFunctionRegistry()
	var errs []error
	for _, registry := range cfg.registries {
		errs = append(errs, functions.merge(registry))
	}
	for _, c := range cfg.custom {
		errs = append(errs, functions.Register(c.name, c.fn))
	}
	cfg.functions = functions
	return errors.Join(errs...)
}

// WithEvaluator selects the evaluator used to compile formula expressions.
// The default is the expr-lang evaluator. A nil evaluator, such as
// NewJSEvaluator without the js_eval tag, makes NewEngine fail.
func WithEvaluator(e Evaluator) EngineOption {
	return func(cfg *engineConfig) {
		if e == nil {
			cfg.errs = append(cfg.errs, ErrNoEvaluator)
			return
		}
		cfg.evaluator = e
	}
}

// FormulaFunc computes a derived value from the formula inputs, in the order
// they were declared. It must be pure.
type FormulaFunc func(inputs []Value) (any, error)

// Formula declares a derived output computed from a fixed input list. Exactly
// one of Expr and Func must be set. Expressions may reference inputs by name
// or by position letter (A for the first input, B for the second, ...).
type Formula struct {
	Output string
	Inputs []string
	Expr   string
	Func   FormulaFunc
}

type compiledFormula struct {
	Formula
	aliases []string
	rule    CompiledRule
	engine  string
}

// Engine keeps derived outputs consistent with their inputs. It is bound to
// exactly one Store and evaluates formulas inside the store's write
// transaction, so readers never see inputs updated with a stale output.
type Engine struct {
	store *Store
	cfg   engineConfig

	mu         sync.RWMutex
	formulas   map[string]*compiledFormula
	order      []string
	dependents map[string][]string
	traces     map[string]Trace
}

// NewEngine binds a new engine to store.
func NewEngine(store *Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("pv: engine requires a store")
	}
	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if err := errors.Join(cfg.errs...); err != nil {
		return nil, err
	}
	if err := cfg.buildFunctions(); err != nil {
		return nil, err
	}
	if cfg.evaluator == nil {
		var exprOpts []ExprEvaluatorOption
		if cfg.functions != nil {
			exprOpts = append(exprOpts, ExprWithFunctionRegistry(cfg.functions))
		}
		cfg.evaluator = NewExprEvaluator(exprOpts...)
	}
	e := &Engine{
		store:      store,
		cfg:        cfg,
		formulas:   map[string]*compiledFormula{},
		dependents: map[string][]string{},
		traces:     map[string]Trace{},
	}
	if err := store.bindEngine(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ErrNoEvaluator is returned when no evaluator could be configured.
var ErrNoEvaluator = errors.New("pv: evaluator not configured")

// Register adds a formula. The output must be a declared numeric parameter;
// inputs may be declared later. Only one level of derivation is supported:
// an output cannot feed another formula.
//
// The formula is evaluated once on registration. As with Declare, a
// *ComputationError from that evaluation is logged and recorded in the
// trace, not returned: the formula stays registered and the output keeps its
// previous value until its inputs change.
func (e *Engine) Register(f Formula) error {
	f.Output = strings.TrimSpace(f.Output)
	if f.Output == "" {
		return fmt.Errorf("%w: output name is required", ErrInvalidFormula)
	}
	if len(f.Inputs) == 0 {
		return fmt.Errorf("%w: %q has no inputs", ErrInvalidFormula, f.Output)
	}
	if (f.Expr == "") == (f.Func == nil) {
		return fmt.Errorf("%w: %q needs exactly one of Expr or Func", ErrInvalidFormula, f.Output)
	}
	f.Inputs = append([]string(nil), f.Inputs...)
	seen := map[string]struct{}{}
	for _, input := range f.Inputs {
		if input == f.Output {
			return fmt.Errorf("%w: %q depends on itself", ErrInvalidFormula, f.Output)
		}
		if _, dup := seen[input]; dup {
			return fmt.Errorf("%w: %q lists input %q twice", ErrInvalidFormula, f.Output, input)
		}
		seen[input] = struct{}{}
	}

	param, err := e.store.Parameter(f.Output)
	if err != nil {
		return err
	}
	if param.Kind != KindFloat && param.Kind != KindInt {
		return fmt.Errorf("%w: output %q is %s, want float or int", ErrInvalidFormula, f.Output, param.Kind)
	}

	compiled := &compiledFormula{Formula: f, aliases: inputAliases(f.Inputs), engine: "func"}
	if f.Expr != "" {
		variables := append([]string(nil), f.Inputs...)
		for _, alias := range compiled.aliases {
			if alias != "" {
				variables = append(variables, alias)
			}
		}
		rule, err := e.cfg.evaluator.Compile(f.Expr, WithVariables(variables...), WithOutput(f.Output))
		if err != nil {
			return err
		}
		compiled.rule = rule
		compiled.engine = evaluatorEngineName(e.cfg.evaluator)
	}

	err = e.store.exclusive(func(next *table) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, exists := e.formulas[f.Output]; exists {
			return &DuplicateNameError{Name: f.Output, What: "formula"}
		}
		if _, feeds := e.dependents[f.Output]; feeds {
			return fmt.Errorf("%w: %q is already an input of another formula", ErrInvalidFormula, f.Output)
		}
		for _, input := range f.Inputs {
			if _, derived := e.formulas[input]; derived {
				return fmt.Errorf("%w: input %q of %q is itself derived", ErrInvalidFormula, input, f.Output)
			}
		}
		out, ok := next.entries[f.Output]
		if !ok {
			return &UnknownParameterError{Name: f.Output}
		}
		out.derived = true
		next.entries[f.Output] = out

		e.formulas[f.Output] = compiled
		e.order = append(e.order, f.Output)
		for _, input := range f.Inputs {
			e.dependents[input] = append(e.dependents[input], f.Output)
		}
		e.traces[f.Output] = Trace{Output: f.Output, Expr: f.Expr, Engine: compiled.engine, Pending: true}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.Recompute(f.Output); err != nil {
		e.store.logger().Log(LogEvent{Op: "register", Namespace: e.store.Namespace(), Name: f.Output, Expr: f.Expr, Err: err})
		if !errors.Is(err, ErrComputation) {
			return err
		}
	}
	return nil
}

// Outputs returns the derived output names in registration order.
func (e *Engine) Outputs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

// Dependents returns the outputs computed from input.
func (e *Engine) Dependents(input string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.dependents[input]...)
}

// Recompute re-evaluates outputs (all of them when none are named) in one
// transaction. Unchanged results commit nothing.
func (e *Engine) Recompute(outputs ...string) error {
	if len(outputs) == 0 {
		outputs = e.Outputs()
	}
	return e.store.update(OriginEngine, func(tx *Tx) error {
		for _, output := range outputs {
			if !e.isOutput(output) {
				return fmt.Errorf("%w: no formula for %q", ErrInvalidFormula, output)
			}
		}
		tx.forceOutputs = append(tx.forceOutputs, outputs...)
		return nil
	})
}

func (e *Engine) isOutput(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.formulas[name]
	return ok
}

// recompute runs with the store write lock held.
func (e *Engine) recompute(tx *Tx) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	affected := map[string]struct{}{}
	for _, name := range tx.changedInputs() {
		for _, output := range e.dependents[name] {
			affected[output] = struct{}{}
		}
	}
	for _, output := range tx.forceOutputs {
		affected[output] = struct{}{}
	}
	if len(affected) == 0 {
		return nil
	}

	var errs []error
	for _, output := range e.order {
		if _, ok := affected[output]; !ok {
			continue
		}
		if err := e.evaluate(tx, e.formulas[output]); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func (e *Engine) evaluate(tx *Tx, f *compiledFormula) error {
	trace := Trace{Output: f.Output, Expr: f.Expr, Engine: f.engine, Inputs: make([]Provenance, 0, len(f.Inputs))}
	values := make([]Value, len(f.Inputs))
	env := make(map[string]any, len(f.Inputs)*2)
	named := make(map[string]any, len(f.Inputs))
	for i, name := range f.Inputs {
		v, err := tx.Get(name)
		prov := Provenance{Name: name, Alias: f.aliases[i], Found: err == nil && v.IsSet()}
		if prov.Found {
			prov.Value = v.Interface()
		}
		trace.Inputs = append(trace.Inputs, prov)
		if !prov.Found {
			trace.Pending = true
			continue
		}
		values[i] = v
		native := formulaInput(v)
		env[name] = native
		named[name] = native
		if f.aliases[i] != "" {
			env[f.aliases[i]] = native
		}
	}
	if current, err := tx.Get(f.Output); err == nil {
		trace.Value = current.Interface()
	}
	if trace.Pending {
		// Inputs that are undeclared or unset leave the output untouched.
		e.traces[f.Output] = trace
		return nil
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	if f.Func != nil {
		result, err = f.Func(values)
	} else {
		result, err = f.rule.Evaluate(RuleContext{Inputs: env, Output: f.Output, Namespace: e.store.Namespace()})
	}
	trace.EvaluatedAt = time.Now()
	e.store.logger().Log(LogEvent{
		Op:        "recompute",
		Namespace: e.store.Namespace(),
		Name:      f.Output,
		Engine:    f.engine,
		Expr:      f.Expr,
		Value:     result,
		Duration:  time.Since(start),
		Err:       err,
	})

	compErr := e.check(f, named, result, err)
	if compErr == nil {
		num, _ := numeric(result)
		if setErr := tx.setDerived(f.Output, num); setErr != nil {
			compErr = &ComputationError{Output: f.Output, Expr: f.Expr, Inputs: named, Result: result, Err: setErr}
		} else {
			trace.Value = num
		}
	}
	if compErr != nil {
		trace.Error = compErr.Error()
		e.traces[f.Output] = trace
		e.store.emitComputationFailure(compErr)
		return compErr
	}
	e.traces[f.Output] = trace
	return nil
}

func (e *Engine) check(f *compiledFormula, inputs map[string]any, result any, err error) *ComputationError {
	if err != nil {
		return &ComputationError{Output: f.Output, Expr: f.Expr, Inputs: inputs, Err: err}
	}
	num, ok := numeric(result)
	if !ok {
		return &ComputationError{Output: f.Output, Expr: f.Expr, Inputs: inputs, Result: result,
			Err: fmt.Errorf("result %v (%T) is not numeric", result, result)}
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return &ComputationError{Output: f.Output, Expr: f.Expr, Inputs: inputs, Result: num}
	}
	return nil
}

// formulaInput converts a value to the form bound in expressions: numeric
// kinds as float64, text as string.
func formulaInput(v Value) any {
	if v.Kind() == KindText {
		return v.Text()
	}
	return v.Float()
}

// inputAliases assigns position letters to inputs, skipping letters that
// collide with an input name.
func inputAliases(inputs []string) []string {
	names := make(map[string]struct{}, len(inputs))
	for _, name := range inputs {
		names[name] = struct{}{}
	}
	aliases := make([]string, len(inputs))
	for i := range inputs {
		if i >= 26 {
			break
		}
		letter := string(rune('A' + i))
		if _, clash := names[letter]; clash {
			continue
		}
		aliases[i] = letter
	}
	return aliases
}
