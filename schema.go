package pv

// FieldDescriptor describes a declared parameter and its current value.
type FieldDescriptor struct {
	Name        string   `json:"name" yaml:"name"`
	FullName    string   `json:"full_name" yaml:"full_name"`
	Kind        string   `json:"kind" yaml:"kind"`
	Precision   int      `json:"precision,omitempty" yaml:"precision,omitempty"`
	Capacity    int      `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Labels      []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Derived     bool     `json:"derived,omitempty" yaml:"derived,omitempty"`
	Set         bool     `json:"set" yaml:"set"`
	Value       any      `json:"value,omitempty" yaml:"value,omitempty"`
	Display     string   `json:"display" yaml:"display"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Describe returns a flattened view of every declared parameter in
// declaration order.
func (s *Store) Describe() []FieldDescriptor {
	params := s.Parameters()
	out := make([]FieldDescriptor, 0, len(params))
	for _, p := range params {
		d := FieldDescriptor{
			Name:        p.Name,
			FullName:    s.FullName(p.Name),
			Kind:        p.Kind.String(),
			Default:     p.Default,
			Derived:     p.Derived,
			Set:         p.Value.IsSet(),
			Value:       p.Value.Interface(),
			Display:     p.Format(),
			Description: p.Description,
		}
		switch p.Kind {
		case KindFloat:
			d.Precision = p.Precision
		case KindText:
			d.Capacity = p.Capacity
		case KindBool, KindEnum:
			d.Labels = p.Labels
		}
		out = append(out, d)
	}
	return out
}
