package pv

import (
	"fmt"
	"strings"
)

// Kind identifies the semantic type of a parameter.
type Kind int

const (
	// KindInvalid is the zero Kind and never accepted by Declare.
	KindInvalid Kind = iota
	// KindBool is a two-state switch rendered through a pair of labels.
	KindBool
	// KindEnum is an index into a contiguous label table.
	KindEnum
	// KindFloat is a floating-point value displayed at a fixed precision.
	KindFloat
	// KindInt is a signed integer value.
	KindInt
	// KindText is a byte-bounded string buffer.
	KindText
)

// DefaultTextCapacity is the byte capacity applied to text parameters that do
// not declare one.
const DefaultTextCapacity = 256

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindEnum:    "enum",
	KindFloat:   "float",
	KindInt:     "int",
	KindText:    "text",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind name as used in schema documents.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean", "bo", "bi":
		return KindBool, nil
	case "enum", "mbbo", "mbbi":
		return KindEnum, nil
	case "float", "double", "ao", "ai":
		return KindFloat, nil
	case "int", "integer", "long", "longout", "longin":
		return KindInt, nil
	case "text", "string", "waveform":
		return KindText, nil
	default:
		return KindInvalid, fmt.Errorf("pv: unknown kind %q", name)
	}
}

// Definition declares a parameter. Default is optional; a parameter declared
// without one stays unset until first written.
type Definition struct {
	Name        string
	Kind        Kind
	Default     any
	Precision   int
	Labels      []string
	Capacity    int
	Description string
}

func (d Definition) normalized() Definition {
	out := d
	out.Name = strings.TrimSpace(d.Name)
	if out.Kind == KindBool && len(out.Labels) == 0 {
		out.Labels = []string{"No", "Yes"}
	}
	if out.Kind == KindText && out.Capacity <= 0 {
		out.Capacity = DefaultTextCapacity
	}
	if len(out.Labels) > 0 {
		out.Labels = append([]string(nil), out.Labels...)
	}
	return out
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("pv: parameter name must not be empty")
	}
	switch d.Kind {
	case KindBool:
		if len(d.Labels) != 2 {
			return fmt.Errorf("pv: bool parameter %q needs exactly two labels, got %d", d.Name, len(d.Labels))
		}
	case KindEnum:
		if len(d.Labels) == 0 {
			return fmt.Errorf("pv: enum parameter %q declares no labels", d.Name)
		}
	case KindFloat, KindInt, KindText:
	default:
		return fmt.Errorf("pv: parameter %q has unsupported kind %s", d.Name, d.Kind)
	}
	if d.Precision < 0 {
		return fmt.Errorf("pv: parameter %q has negative precision", d.Name)
	}
	return nil
}

// Parameter is a read-only view of a declared parameter and its current value.
type Parameter struct {
	Definition
	Value   Value
	Derived bool
}

// Format renders the current value using the parameter's precision and labels.
func (p Parameter) Format() string {
	return p.Value.Format(p.Definition)
}

// Origin records which path produced a change.
type Origin string

const (
	OriginDeclare Origin = "declare"
	OriginWrite   Origin = "write"
	OriginEngine  Origin = "engine"
	OriginRestore Origin = "restore"
)

// Change describes one committed parameter transition. Changes produced by a
// single transaction share the same Version.
type Change struct {
	Name     string
	FullName string
	Old      Value
	New      Value
	Derived  bool
	Origin   Origin
	Version  uint64
}
