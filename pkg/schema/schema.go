// Package schema loads parameter declarations, formulas and persistence
// manifests from YAML documents and assembles them into a wired store.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/internal/hydrate"
)

// Document is one schema file: a set of parameters and the manifest groups
// that persist them.
type Document struct {
	Name       string          `yaml:"name" json:"name"`
	Namespace  string          `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Parameters []ParameterSpec `yaml:"parameters" json:"parameters"`
	Manifest   []pv.Group      `yaml:"manifest,omitempty" json:"manifest,omitempty"`
}

// ParameterSpec is the document form of a parameter declaration. Pointer
// fields distinguish "not given" from an explicit zero so overlays can set
// precision 0.
type ParameterSpec struct {
	Name        string       `yaml:"name" json:"name"`
	Kind        string       `yaml:"kind,omitempty" json:"kind,omitempty"`
	Default     any          `yaml:"default,omitempty" json:"default,omitempty"`
	Precision   *int         `yaml:"precision,omitempty" json:"precision,omitempty"`
	Labels      []string     `yaml:"labels,omitempty" json:"labels,omitempty"`
	Capacity    *int         `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Formula     *FormulaSpec `yaml:"formula,omitempty" json:"formula,omitempty"`
}

// FormulaSpec marks a parameter as derived.
type FormulaSpec struct {
	Expr   string   `yaml:"expr" json:"expr"`
	Inputs []string `yaml:"inputs" json:"inputs"`
}

// Definition converts p into a store declaration.
func (p ParameterSpec) Definition() (pv.Definition, error) {
	kind, err := pv.ParseKind(p.Kind)
	if err != nil {
		return pv.Definition{}, fmt.Errorf("schema: parameter %q: %w", p.Name, err)
	}
	def := pv.Definition{
		Name:        p.Name,
		Kind:        kind,
		Default:     p.Default,
		Labels:      append([]string(nil), p.Labels...),
		Description: p.Description,
	}
	if p.Precision != nil {
		def.Precision = *p.Precision
	}
	if p.Capacity != nil {
		def.Capacity = *p.Capacity
	}
	return def, nil
}

// Derived converts the formula block, if any, into an engine registration.
func (p ParameterSpec) Derived() (pv.Formula, bool) {
	if p.Formula == nil {
		return pv.Formula{}, false
	}
	return pv.Formula{
		Output: p.Name,
		Inputs: append([]string(nil), p.Formula.Inputs...),
		Expr:   p.Formula.Expr,
	}, true
}

// Parse decodes a schema document. Strings may reference $(NAME) macros,
// which are expanded before decoding; unknown keys are rejected.
func Parse(source string, data []byte, macros map[string]string) (Document, error) {
	decoder := hydrate.NewDecoder[Document](
		hydrate.WithMacros[Document](),
		hydrate.WithKnownFields[Document](),
		hydrate.WithPostHook[Document](validateDocument),
	)
	doc, err := decoder.Decode(hydrate.Context{Source: source, Macros: macros}, data)
	if err != nil {
		return Document{}, fmt.Errorf("schema: %w", err)
	}
	return doc, nil
}

// ParseFile reads and decodes a schema document from disk.
func ParseFile(path string, macros map[string]string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(filepath.Base(path), data, macros)
}

func validateDocument(ctx hydrate.Context, doc *Document) error {
	if strings.TrimSpace(doc.Name) == "" {
		doc.Name = ctx.Source
	}
	seen := make(map[string]struct{}, len(doc.Parameters))
	for i, param := range doc.Parameters {
		name := strings.TrimSpace(param.Name)
		if name == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return &pv.DuplicateNameError{Name: name, What: "schema parameter"}
		}
		seen[name] = struct{}{}
		doc.Parameters[i].Name = name
		if _, err := pv.ParseKind(param.Kind); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		if f := param.Formula; f != nil {
			if strings.TrimSpace(f.Expr) == "" {
				return fmt.Errorf("parameter %q: formula expr is required", name)
			}
			if len(f.Inputs) == 0 {
				return fmt.Errorf("parameter %q: formula declares no inputs", name)
			}
		}
	}
	return nil
}
