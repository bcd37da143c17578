package pv

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownParameter matches any *UnknownParameterError.
	ErrUnknownParameter = errors.New("pv: unknown parameter")
	// ErrInvalidValue matches any *InvalidValueError.
	ErrInvalidValue = errors.New("pv: invalid value")
	// ErrDuplicateName matches any *DuplicateNameError.
	ErrDuplicateName = errors.New("pv: duplicate name")
	// ErrComputation matches any *ComputationError.
	ErrComputation = errors.New("pv: computation failed")
	// ErrDerivedWrite is wrapped by an InvalidValueError when a caller writes
	// to a derived output.
	ErrDerivedWrite = errors.New("pv: derived parameter is read-only")
	// ErrDerivedRestore is wrapped by an InvalidValueError when snapshot data
	// names a derived output.
	ErrDerivedRestore = errors.New("pv: derived parameter is not a restore target")
	// ErrInvalidFormula reports a formula that cannot be registered.
	ErrInvalidFormula = errors.New("pv: invalid formula")
)

// UnknownParameterError reports a name that is not declared in the store.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pv: unknown parameter %q", e.Name)
}

func (e *UnknownParameterError) Is(target error) bool {
	return target == ErrUnknownParameter
}

// InvalidValueError reports a value outside the parameter's declared domain.
// The stored value is left untouched.
type InvalidValueError struct {
	Name   string
	Kind   Kind
	Value  any
	Reason string
	Err    error
}

func (e *InvalidValueError) Error() string {
	if e == nil {
		return "<nil>"
	}
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("pv: invalid value %v for %s parameter %q: %s", e.Value, e.Kind, e.Name, reason)
}

func (e *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

func (e *InvalidValueError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DuplicateNameError reports a second declaration of the same name.
type DuplicateNameError struct {
	Name string
	What string
}

func (e *DuplicateNameError) Error() string {
	if e == nil {
		return "<nil>"
	}
	what := e.What
	if what == "" {
		what = "parameter"
	}
	return fmt.Sprintf("pv: %s %q already declared", what, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// ComputationError reports a derived result that is undefined or not finite.
// The output keeps its last valid value.
type ComputationError struct {
	Output string
	Expr   string
	Inputs map[string]any
	Result any
	Err    error
}

func (e *ComputationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pv: compute %q", e.Output)
	if e.Expr != "" {
		fmt.Fprintf(&b, " %s", describeExpression(e.Expr))
	}
	if len(e.Inputs) > 0 {
		names := make([]string, 0, len(e.Inputs))
		for name := range e.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%v", name, e.Inputs[name]))
		}
		fmt.Fprintf(&b, " inputs[%s]", strings.Join(parts, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": non-finite result %v", e.Result)
	}
	return b.String()
}

func (e *ComputationError) Is(target error) bool {
	return target == ErrComputation
}

func (e *ComputationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Output string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pv: %s evaluator %s output=%s: %v", e.Engine, describeExpression(e.Expr), e.Output, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "pv:") {
		return err
	}
	return fmt.Errorf("pv: %s evaluator: %w", engine, err)
}

func wrapEvaluationError(engine, expr, output string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Output == "" {
			evalErr.Output = output
		}
		return evalErr
	}

	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Output: output,
		Err:    err,
	}
}
