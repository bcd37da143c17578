package pv

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Snapshot is an ordered capture of manifest parameters. A nil Value marks a
// parameter that was unset when the snapshot was taken.
type Snapshot struct {
	Namespace string          `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Version   uint64          `json:"version,omitempty" yaml:"version,omitempty"`
	Entries   []SnapshotEntry `json:"entries" yaml:"entries"`
}

// SnapshotEntry is one captured parameter.
type SnapshotEntry struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Value    any    `json:"value" yaml:"value"`
}

// UnmarshalJSON keeps integers exact. Numbers decode to int64 when they are
// integral and fit, and to float64 otherwise.
func (e *SnapshotEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Category string          `json:"category"`
		Name     string          `json:"name"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var value any
	if len(raw.Value) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw.Value))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return err
		}
	}
	*e = SnapshotEntry{Category: raw.Category, Name: raw.Name, Value: exactNumber(value)}
	return nil
}

func exactNumber(value any) any {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Lookup returns the captured value of name.
func (s Snapshot) Lookup(name string) (any, bool) {
	for _, entry := range s.Entries {
		if entry.Name == name {
			return entry.Value, true
		}
	}
	return nil, false
}

// Map flattens the snapshot into name/value pairs. Later entries win.
func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.Entries))
	for _, entry := range s.Entries {
		out[entry.Name] = entry.Value
	}
	return out
}

// Names returns entry names in snapshot order.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Entries))
	for _, entry := range s.Entries {
		out = append(out, entry.Name)
	}
	return out
}

// localName strips namespace from a fully qualified name.
func localName(namespace, name string) string {
	name = strings.TrimSpace(name)
	if namespace != "" && strings.HasPrefix(name, namespace) {
		return strings.TrimPrefix(name, namespace)
	}
	return name
}
