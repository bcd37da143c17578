package pv

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

var evaluatorFactories = []struct {
	name string
	new  func(registry *FunctionRegistry) Evaluator
}{
	{
		name: "expr",
		new: func(registry *FunctionRegistry) Evaluator {
			opts := []ExprEvaluatorOption{}
			if registry != nil {
				opts = append(opts, ExprWithFunctionRegistry(registry))
			}
			return NewExprEvaluator(opts...)
		},
	},
	{
		name: "cel",
		new: func(registry *FunctionRegistry) Evaluator {
			opts := []CELEvaluatorOption{}
			if registry != nil {
				opts = append(opts, CELWithFunctionRegistry(registry))
			}
			return NewCELEvaluator(opts...)
		},
	},
	{
		name: "js",
		new: func(registry *FunctionRegistry) Evaluator {
			opts := []JSEvaluatorOption{}
			if registry != nil {
				opts = append(opts, JSWithFunctionRegistry(registry))
			}
			return NewJSEvaluator(opts...)
		},
	},
}

func TestNumOfAnglesAcrossEvaluators(t *testing.T) {
	type expect struct {
		Value float64 `json:"value"`
		Err   string  `json:"err"`
	}
	type testCase struct {
		Name   string  `json:"name"`
		Start  float64 `json:"start"`
		End    float64 `json:"end"`
		Step   float64 `json:"step"`
		Expect expect  `json:"expect"`
	}
	type fixture struct {
		Expr  string     `json:"expr"`
		Cases []testCase `json:"cases"`
	}

	fx := loadFixture[fixture](t, "num_of_angles.json")

	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			evaluator := factory.new(nil)
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}
			for _, tc := range fx.Cases {
				tc := tc
				t.Run(tc.Name, func(t *testing.T) {
					store := NewStore()
					if err := store.DeclareAll(
						Definition{Name: "RotationStart", Kind: KindFloat, Precision: 3},
						Definition{Name: "RotationEnd", Kind: KindFloat, Precision: 3},
						Definition{Name: "RotationStep", Kind: KindFloat, Precision: 3},
						Definition{Name: "NumOfAngles", Kind: KindFloat},
					); err != nil {
						t.Fatalf("declare: %v", err)
					}
					engine, err := NewEngine(store, WithEvaluator(evaluator))
					if err != nil {
						t.Fatalf("engine: %v", err)
					}
					if err := engine.Register(Formula{
						Output: "NumOfAngles",
						Inputs: []string{"RotationStart", "RotationEnd", "RotationStep"},
						Expr:   fx.Expr,
					}); err != nil {
						t.Fatalf("register: %v", err)
					}

					err = store.Update(func(tx *Tx) error {
						for name, value := range map[string]float64{
							"RotationStart": tc.Start,
							"RotationEnd":   tc.End,
							"RotationStep":  tc.Step,
						} {
							if err := tx.Set(name, value); err != nil {
								return err
							}
						}
						return nil
					})
					if tc.Expect.Err != "" {
						if !errors.Is(err, ErrComputation) || !strings.Contains(err.Error(), tc.Expect.Err) {
							t.Fatalf("expected computation error containing %q, got %v", tc.Expect.Err, err)
						}
						if v, _ := store.Read("NumOfAngles"); v.IsSet() {
							t.Fatalf("expected NumOfAngles to stay unset, got %v", v)
						}
						return
					}
					if err != nil {
						t.Fatalf("update: %v", err)
					}
					v, _ := store.Read("NumOfAngles")
					if math.Abs(v.Float()-tc.Expect.Value) > 1e-9 {
						t.Fatalf("expected %v, got %v", tc.Expect.Value, v)
					}
				})
			}
		})
	}
}

func TestCustomFunctionsAcrossEvaluators(t *testing.T) {
	rules := map[string]string{
		"expr": "nint(A / B)",
		"cel":  `call("nint", [A / B])`,
		"js":   "nint(A / B)",
	}

	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			registry := NewFunctionRegistry()
			if err := registry.Register("nint", func(args ...any) (any, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("nint expects 1 arg")
				}
				f, ok := numeric(args[0])
				if !ok {
					return nil, fmt.Errorf("nint expects a number, got %T", args[0])
				}
				return math.Round(f), nil
			}); err != nil {
				t.Fatalf("register nint: %v", err)
			}
			evaluator := factory.new(registry)
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}

			rule, err := evaluator.Compile(rules[factory.name], WithVariables("A", "B"), WithOutput("Frames"))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			result, err := rule.Evaluate(RuleContext{Inputs: map[string]any{"A": 10.0, "B": 4.0}})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			got, ok := numeric(result)
			if !ok || got != 3 {
				t.Fatalf("expected 3, got %v (%T)", result, result)
			}
		})
	}
}

func TestEngineCustomFunctionOption(t *testing.T) {
	store := NewStore()
	if err := store.DeclareAll(
		Definition{Name: "PostScanStep", Kind: KindFloat, Default: 2.6},
		Definition{Name: "Frames", Kind: KindInt},
	); err != nil {
		t.Fatalf("declare: %v", err)
	}
	engine, err := NewEngine(store, WithCustomFunction("NINT", func(args ...any) (any, error) {
		f, _ := numeric(args[0])
		return math.Round(f), nil
	}))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := engine.Register(Formula{Output: "Frames", Inputs: []string{"PostScanStep"}, Expr: "nint(A)"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, _ := store.Read("Frames")
	if v.Int() != 3 {
		t.Fatalf("expected 3, got %v", v)
	}

	_, err = NewEngine(NewStore(),
		WithCustomFunction("nint", func(...any) (any, error) { return nil, nil }),
		WithCustomFunction("NINT", func(...any) (any, error) { return nil, nil }),
	)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate function error, got %v", err)
	}
}

func TestRuleContextDefaultsNow(t *testing.T) {
	ctx := RuleContext{}.withDefaults()
	if ctx.Now == nil || ctx.Inputs == nil {
		t.Fatalf("expected defaults applied, got %+v", ctx)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx = RuleContext{Now: &fixed}.withDefaults()
	if !ctx.timestamp().Equal(fixed) {
		t.Fatalf("expected explicit Now preserved")
	}
}

func TestEvaluateWithoutCompile(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			evaluator := factory.new(nil)
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}
			result, err := evaluator.Evaluate(RuleContext{Inputs: map[string]any{"A": 3.0, "B": 1.5}}, "A * B")
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got, ok := numeric(result); !ok || got != 4.5 {
				t.Fatalf("expected 4.5, got %v", result)
			}
			if _, err := evaluator.Evaluate(RuleContext{}, ""); err == nil {
				t.Fatalf("expected empty expression to fail")
			}
		})
	}
}

func TestEvaluatorEngineName(t *testing.T) {
	if got := evaluatorEngineName(NewExprEvaluator()); got != "expr" {
		t.Fatalf("expected expr, got %q", got)
	}
	if got := evaluatorEngineName(NewCELEvaluator()); got != "cel" {
		t.Fatalf("expected cel, got %q", got)
	}
	if got := evaluatorEngineName(nil); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestTraceJSONRoundTrip(t *testing.T) {
	store, engine := newPrismaStore(t)
	setRotation(t, store, 0, 180, 1)

	trace, err := engine.Explain("NumOfAngles")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if trace.Pending || trace.Value != 181.0 || trace.Engine != "expr" {
		t.Fatalf("unexpected trace %+v", trace)
	}
	if len(trace.Inputs) != 3 || trace.Inputs[2].Name != "RotationStep" || trace.Inputs[2].Alias != "C" {
		t.Fatalf("unexpected provenance %+v", trace.Inputs)
	}

	payload, err := trace.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	decoded, err := TraceFromJSON(payload)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if decoded.Output != "NumOfAngles" || decoded.Value != 181.0 || len(decoded.Inputs) != 3 {
		t.Fatalf("unexpected decoded trace %+v", decoded)
	}

	if _, err := engine.Explain("RotationEnd"); !errors.Is(err, ErrInvalidFormula) {
		t.Fatalf("expected ErrInvalidFormula for a non-output, got %v", err)
	}
}

func TestExplainRecordsFailure(t *testing.T) {
	store, engine := newPrismaStore(t)
	setRotation(t, store, 0, 180, 1)
	_ = store.Write("RotationStep", 0)

	trace, err := engine.Explain("NumOfAngles")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if trace.Error == "" || trace.Value != 181.0 {
		t.Fatalf("expected failure recorded with retained value, got %+v", trace)
	}
}

func loadFixture[T any](t *testing.T, name string) T {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to resolve caller for fixture %q", name)
	}
	path := filepath.Join(filepath.Dir(file), "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %q: %v", path, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("failed to unmarshal fixture %q: %v", path, err)
	}
	return out
}
