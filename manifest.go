package pv

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Group is a named category of persisted parameters. Order inside a group is
// kept for display only.
type Group struct {
	Category string   `json:"category" yaml:"category"`
	Names    []string `json:"names" yaml:"names"`
}

// ManifestOption configures a Manifest.
type ManifestOption func(*Manifest)

// WithRestoreEngine re-evaluates every formula of engine as part of each
// restore transaction, so derived outputs are consistent even when the
// snapshot left all inputs unchanged.
func WithRestoreEngine(engine *Engine) ManifestOption {
	return func(m *Manifest) {
		m.engine = engine
	}
}

// Manifest lists the parameters saved to and restored from durable storage.
// Membership is fixed at construction.
type Manifest struct {
	store  *Store
	groups []Group
	engine *Engine
}

// NewManifest validates groups and binds them to store. A name listed twice
// fails with a *DuplicateNameError. Names are not checked against the store
// until Snapshot.
func NewManifest(store *Store, groups []Group, opts ...ManifestOption) (*Manifest, error) {
	if store == nil {
		return nil, fmt.Errorf("pv: manifest requires a store")
	}
	m := &Manifest{store: store}
	seen := map[string]string{}
	categories := map[string]struct{}{}
	for _, group := range groups {
		category := strings.TrimSpace(group.Category)
		if category == "" {
			return nil, fmt.Errorf("pv: manifest group category is required")
		}
		if _, dup := categories[category]; dup {
			return nil, &DuplicateNameError{Name: category, What: "manifest category"}
		}
		categories[category] = struct{}{}
		names := make([]string, 0, len(group.Names))
		for _, name := range group.Names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				return nil, &DuplicateNameError{Name: name, What: "manifest entry"}
			}
			seen[name] = category
			names = append(names, name)
		}
		m.groups = append(m.groups, Group{Category: category, Names: names})
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Groups returns a copy of the manifest groups.
func (m *Manifest) Groups() []Group {
	out := make([]Group, 0, len(m.groups))
	for _, group := range m.groups {
		out = append(out, Group{Category: group.Category, Names: append([]string(nil), group.Names...)})
	}
	return out
}

// Names returns every listed name in manifest order.
func (m *Manifest) Names() []string {
	var out []string
	for _, group := range m.groups {
		out = append(out, group.Names...)
	}
	return out
}

// Snapshot captures the listed parameters from one consistent store version.
// It fails with *UnknownParameterError when a listed name is no longer
// declared.
func (m *Manifest) Snapshot() (Snapshot, error) {
	start := time.Now()
	t := m.store.current.Load()
	snap := Snapshot{Namespace: m.store.Namespace(), Version: t.version}
	for _, group := range m.groups {
		for _, name := range group.Names {
			e, ok := t.entries[name]
			if !ok {
				err := &UnknownParameterError{Name: name}
				m.store.logger().Log(LogEvent{Op: "snapshot", Namespace: snap.Namespace, Name: name, Err: err})
				return Snapshot{}, err
			}
			snap.Entries = append(snap.Entries, SnapshotEntry{
				Category: group.Category,
				Name:     name,
				Value:    e.value.Interface(),
			})
		}
	}
	m.store.logger().Log(LogEvent{Op: "snapshot", Namespace: snap.Namespace, Value: len(snap.Entries), Duration: time.Since(start)})
	return snap, nil
}

// RestoreFailure reports one snapshot entry that was not applied.
type RestoreFailure struct {
	Name string
	Err  error
}

func (f RestoreFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Name, f.Err)
}

func (f RestoreFailure) Unwrap() error {
	return f.Err
}

// RestoreReport summarises a restore. Failures hold entries rejected by
// validation or naming undeclared parameters; Flagged holds entries naming
// derived outputs, which are never restored. Neither stops the remaining
// entries from being applied.
type RestoreReport struct {
	Applied     []string
	Skipped     []string
	Failures    []RestoreFailure
	Flagged     []RestoreFailure
	Computation error
}

// Err joins the failures and any computation error. Flagged entries are not
// included.
func (r RestoreReport) Err() error {
	errs := make([]error, 0, len(r.Failures)+1)
	for _, failure := range r.Failures {
		errs = append(errs, failure)
	}
	if r.Computation != nil {
		errs = append(errs, r.Computation)
	}
	return errors.Join(errs...)
}

// OK reports whether every entry was applied or skipped.
func (r RestoreReport) OK() bool {
	return len(r.Failures) == 0 && len(r.Flagged) == 0 && r.Computation == nil
}

// Restore writes every snapshot entry back through the store validation path
// as one transaction. Unset entries are skipped. Entry names may carry the
// store namespace.
func (m *Manifest) Restore(snap Snapshot) RestoreReport {
	start := time.Now()
	namespace := m.store.Namespace()
	var report RestoreReport
	err := m.store.update(OriginRestore, func(tx *Tx) error {
		for _, entry := range snap.Entries {
			name := localName(namespace, entry.Name)
			if entry.Value == nil {
				report.Skipped = append(report.Skipped, name)
				continue
			}
			current, ok := tx.next.entries[name]
			if !ok {
				report.Failures = append(report.Failures, RestoreFailure{Name: name, Err: &UnknownParameterError{Name: name}})
				continue
			}
			if current.derived {
				report.Flagged = append(report.Flagged, RestoreFailure{
					Name: name,
					Err:  &InvalidValueError{Name: name, Kind: current.def.Kind, Value: entry.Value, Err: ErrDerivedRestore},
				})
				continue
			}
			if err := tx.Set(name, entry.Value); err != nil {
				report.Failures = append(report.Failures, RestoreFailure{Name: name, Err: err})
				continue
			}
			report.Applied = append(report.Applied, name)
		}
		if m.engine != nil {
			tx.forceOutputs = append(tx.forceOutputs, m.engine.Outputs()...)
		}
		return nil
	})
	report.Computation = err

	for _, failure := range report.Failures {
		m.store.logger().Log(LogEvent{Op: "restore", Namespace: namespace, Name: failure.Name, Err: failure.Err})
	}
	for _, flagged := range report.Flagged {
		m.store.logger().Log(LogEvent{Op: "restore", Namespace: namespace, Name: flagged.Name, Err: flagged.Err})
	}
	m.store.logger().Log(LogEvent{Op: "restore", Namespace: namespace, Value: len(report.Applied), Duration: time.Since(start), Err: err})
	return report
}
