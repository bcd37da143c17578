package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/activity"
	"github.com/goliatone/go-pvscan/pkg/config"
	"github.com/goliatone/go-pvscan/pkg/logging"
	"github.com/goliatone/go-pvscan/pkg/schema"
	"github.com/goliatone/go-pvscan/pkg/state"
)

// buildInstrument declares the built-in Prisma schemas followed by the
// configured documents, applies the site overlay and, when request files are
// configured, uses their categories as the manifest.
func buildInstrument(cfg *config.Config, logger *logging.Logger, hooks activity.Hooks) (*schema.Instrument, error) {
	docs, err := schema.Prisma()
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.Schemas {
		doc, err := schema.ParseFile(path, cfg.Macros)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	evaluator, err := evaluatorFor(cfg.Evaluator)
	if err != nil {
		return nil, err
	}
	opts := []schema.BuildOption{
		schema.WithStoreOptions(
			pv.WithNamespace(cfg.Namespace),
			pv.WithLogger(logger),
			pv.WithActorID(cfg.Actor),
			pv.WithActivityHooks(hooks),
		),
		schema.WithEngineOptions(pv.WithEvaluator(evaluator)),
	}

	if cfg.Overlay != "" {
		data, err := os.ReadFile(cfg.Overlay)
		if err != nil {
			return nil, fmt.Errorf("overlay: %w", err)
		}
		overlay, err := schema.ParseOverlay(cfg.Overlay, data, cfg.Macros)
		if err != nil {
			return nil, err
		}
		opts = append(opts, schema.WithOverlay(overlay))
	}
	if len(cfg.Requests) > 0 {
		groups, err := schema.LoadRequestFiles(cfg.Requests, cfg.Macros, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		opts = append(opts, schema.WithManifestGroups(groups))
	}

	return schema.Build(docs, opts...)
}

// evaluatorFor returns the named evaluator with the scan helpers (nint, abs,
// min, ...) available to formulas.
func evaluatorFor(name string) (pv.Evaluator, error) {
	functions := pv.ScanFunctions()
	switch name {
	case "", "expr":
		return pv.NewExprEvaluator(pv.ExprWithFunctionRegistry(functions)), nil
	case "cel":
		return pv.NewCELEvaluator(pv.CELWithFunctionRegistry(functions)), nil
	case "js":
		if !pv.JSEvaluatorAvailable() {
			return nil, fmt.Errorf("evaluator js requires a build with the js_eval tag")
		}
		return pv.NewJSEvaluator(pv.JSWithFunctionRegistry(functions)), nil
	}
	return nil, fmt.Errorf("unknown evaluator %q", name)
}

// openStore opens the configured snapshot backend. The returned func releases
// it.
func openStore(cfg config.StateConfig) (state.Store[pv.Snapshot], func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "memory":
		return state.NewMemoryStore[pv.Snapshot](), noop, nil
	case "badger":
		store, err := state.OpenBadgerStore[pv.Snapshot](cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "", "file":
		store, err := state.NewFileStore[pv.Snapshot](cfg.Path, state.Format(cfg.Format))
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
}

// parseAssignment splits NAME=VALUE.
func parseAssignment(arg string) (string, string, error) {
	name, value, ok := strings.Cut(arg, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected NAME=VALUE, got %q", arg)
	}
	return name, value, nil
}

// parseValue converts a command-line string into the Go value the store
// validates for p. Bool and enum parameters accept an index or a label.
func parseValue(p pv.Parameter, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	switch p.Kind {
	case pv.KindFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected a number, got %q", p.Name, raw)
		}
		return f, nil
	case pv.KindInt:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected an integer, got %q", p.Name, raw)
		}
		return n, nil
	case pv.KindBool, pv.KindEnum:
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, nil
		}
		return trimmed, nil
	default:
		return raw, nil
	}
}
