package pv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-pvscan/pkg/activity"
)

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	namespace     string
	logger        Logger
	activityHooks activity.Hooks
	actorID       string
	channel       string
}

func applyStoreOptions(opts []StoreOption) storeConfig {
	cfg := storeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopLogger{}
	}
	return cfg
}

// WithNamespace sets the prefix prepended to every parameter name when it is
// exposed outside the store, e.g. "pxm1:TomoScan:".
func WithNamespace(namespace string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.namespace = strings.TrimSpace(namespace)
	}
}

// WithActorID tags emitted activity events with the writer identity.
func WithActorID(id string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.actorID = strings.TrimSpace(id)
	}
}

// recomputer is implemented by the engine bound to a store. It runs inside the
// write transaction, before the new table is published.
type recomputer interface {
	recompute(tx *Tx) error
	isOutput(name string) bool
}

type entry struct {
	def     Definition
	value   Value
	derived bool
}

type table struct {
	version uint64
	order   []string
	entries map[string]entry
}

func (t *table) clone() *table {
	out := &table{
		version: t.version,
		order:   append([]string(nil), t.order...),
		entries: make(map[string]entry, len(t.entries)+1),
	}
	for name, e := range t.entries {
		out.entries[name] = e
	}
	return out
}

// Store holds the declared parameters. Readers load an immutable table and
// never block; writers are serialized and publish a new table once the write,
// its recomputation and validation have all completed.
type Store struct {
	cfg     storeConfig
	emitter *activity.Emitter

	writeMu sync.Mutex
	current atomic.Pointer[table]
	engine  recomputer

	subMu       sync.RWMutex
	subscribers []*subscriber
}

type subscriber struct {
	fn func(Change)
}

// NewStore constructs an empty store.
func NewStore(opts ...StoreOption) *Store {
	cfg := applyStoreOptions(opts)
	s := &Store{cfg: cfg}
	s.emitter = activity.NewEmitter(cfg.activityHooks, activity.Config{
		Enabled: len(cfg.activityHooks) > 0,
		Channel: cfg.channel,
	})
	s.current.Store(&table{entries: map[string]entry{}})
	return s
}

// Namespace returns the configured prefix.
func (s *Store) Namespace() string {
	return s.cfg.namespace
}

// FullName returns name with the store namespace prepended.
func (s *Store) FullName(name string) string {
	return s.cfg.namespace + name
}

// local accepts both local and namespaced names.
func (s *Store) local(name string) string {
	return localName(s.cfg.namespace, name)
}

// Version returns a counter incremented by every committed transaction.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

func (s *Store) logger() Logger {
	return s.cfg.logger
}

// Declare registers a parameter. Declaring the same name twice fails with a
// *DuplicateNameError.
func (s *Store) Declare(def Definition) error {
	def = def.normalized()
	if err := def.validate(); err != nil {
		return err
	}
	err := s.update(OriginDeclare, func(tx *Tx) error {
		return tx.declare(def)
	})
	s.logger().Log(LogEvent{Op: "declare", Namespace: s.cfg.namespace, Name: def.Name, Value: def.Default, Err: err})
	if errors.Is(err, ErrComputation) {
		// The declaration committed; a pending formula that cannot be
		// evaluated yet is not a declaration failure.
		return nil
	}
	return err
}

// DeclareAll declares every definition in order and stops at the first error.
func (s *Store) DeclareAll(defs ...Definition) error {
	for _, def := range defs {
		if err := s.Declare(def); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the current value of name, given with or without the
// namespace.
func (s *Store) Read(name string) (Value, error) {
	e, ok := s.current.Load().entries[s.local(name)]
	if !ok {
		return Value{}, &UnknownParameterError{Name: name}
	}
	return e.value, nil
}

// Parameter returns the definition and current value of name.
func (s *Store) Parameter(name string) (Parameter, error) {
	e, ok := s.current.Load().entries[s.local(name)]
	if !ok {
		return Parameter{}, &UnknownParameterError{Name: name}
	}
	return e.parameter(), nil
}

// Parameters returns every parameter in declaration order from one consistent
// table version.
func (s *Store) Parameters() []Parameter {
	t := s.current.Load()
	out := make([]Parameter, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name].parameter())
	}
	return out
}

// Names returns declared names in declaration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.current.Load().order...)
}

// Values returns a consistent view of several parameters. Unknown names fail
// the whole call.
func (s *Store) Values(names ...string) (map[string]Value, error) {
	t := s.current.Load()
	out := make(map[string]Value, len(names))
	for _, name := range names {
		e, ok := t.entries[s.local(name)]
		if !ok {
			return nil, &UnknownParameterError{Name: name}
		}
		out[name] = e.value
	}
	return out, nil
}

// Write validates value against the declared domain of name and commits it.
// Dependent outputs are recomputed before the new value becomes visible. A
// *ComputationError is returned when a dependent result is not finite; the
// write itself is still committed and the output keeps its last valid value.
func (s *Store) Write(name string, value any) error {
	return s.Update(func(tx *Tx) error {
		return tx.Set(name, value)
	})
}

// Update runs fn as a single logical update. Every Set inside fn becomes
// visible at once and dependent outputs are recomputed once at commit. When
// fn returns an error nothing is committed.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.update(OriginWrite, fn)
}

func (s *Store) update(origin Origin, fn func(*Tx) error) error {
	if fn == nil {
		return fmt.Errorf("pv: update function is required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	prev := s.current.Load()
	tx := newTx(s, prev.clone(), origin)
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changed) == 0 && !tx.structural && len(tx.forceOutputs) == 0 {
		return nil
	}

	var computeErr error
	if s.engine != nil {
		computeErr = s.engine.recompute(tx)
	}
	if len(tx.changed) == 0 && !tx.structural {
		return computeErr
	}

	tx.next.version = prev.version + 1
	s.current.Store(tx.next)

	changes := tx.changes(prev)
	for _, change := range changes {
		s.logger().Log(LogEvent{
			Op:        "write",
			Namespace: s.cfg.namespace,
			Name:      change.Name,
			Value:     change.New.Interface(),
			Duration:  time.Since(start),
		})
	}
	s.notify(changes)
	return computeErr
}

// Subscribe registers fn to receive every committed change. Callbacks run
// synchronously, in commit order, while the write lock is held: they may read
// from the store but must not write to it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	sub := &subscriber{fn: fn}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, candidate := range s.subscribers {
				if candidate == sub {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	subs := append([]*subscriber(nil), s.subscribers...)
	s.subMu.RUnlock()

	for _, change := range changes {
		for _, sub := range subs {
			sub.fn(change)
		}
		if s.emitter.Enabled() {
			if err := s.emitter.Emit(context.Background(), s.changeEvent(change)); err != nil {
				s.logger().Log(LogEvent{Op: "activity", Namespace: s.cfg.namespace, Name: change.Name, Err: err})
			}
		}
	}
}

func (s *Store) bindEngine(engine recomputer) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.engine != nil && s.engine != engine {
		return fmt.Errorf("pv: store already has an engine")
	}
	s.engine = engine
	return nil
}

// exclusive runs fn against a copy of the current table with the write lock
// held and publishes the copy when fn succeeds. It bypasses recomputation and
// change notification.
func (s *Store) exclusive(fn func(next *table) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	prev := s.current.Load()
	next := prev.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.version = prev.version + 1
	s.current.Store(next)
	return nil
}

func (e entry) parameter() Parameter {
	def := e.def
	if len(def.Labels) > 0 {
		def.Labels = append([]string(nil), def.Labels...)
	}
	return Parameter{Definition: def, Value: e.value, Derived: e.derived}
}

// Tx is a pending update. It is only valid inside the function passed to
// Store.Update.
type Tx struct {
	store      *Store
	next       *table
	origin     Origin
	changed    []string
	changedSet map[string]Origin
	// touched holds names declared without a value; forceOutputs holds
	// outputs to re-evaluate even when no input changed.
	touched      []string
	forceOutputs []string
	structural   bool
}

func newTx(store *Store, next *table, origin Origin) *Tx {
	return &Tx{
		store:      store,
		next:       next,
		origin:     origin,
		changedSet: map[string]Origin{},
	}
}

// Get returns the pending value of name, including writes made earlier in
// the same transaction.
func (tx *Tx) Get(name string) (Value, error) {
	e, ok := tx.next.entries[tx.store.local(name)]
	if !ok {
		return Value{}, &UnknownParameterError{Name: name}
	}
	return e.value, nil
}

// Set validates and stages value for name. Derived outputs are rejected.
func (tx *Tx) Set(name string, value any) error {
	local := tx.store.local(name)
	e, ok := tx.next.entries[local]
	if !ok {
		return &UnknownParameterError{Name: name}
	}
	name = local
	if e.derived || (tx.store.engine != nil && tx.store.engine.isOutput(name)) {
		return &InvalidValueError{Name: name, Kind: e.def.Kind, Value: value, Err: ErrDerivedWrite}
	}
	return tx.stage(name, e, value, tx.origin)
}

func (tx *Tx) setDerived(name string, value any) error {
	e, ok := tx.next.entries[name]
	if !ok {
		return &UnknownParameterError{Name: name}
	}
	return tx.stage(name, e, value, OriginEngine)
}

func (tx *Tx) stage(name string, e entry, raw any, origin Origin) error {
	v, reason := coerce(e.def, raw)
	if reason != "" {
		return &InvalidValueError{Name: name, Kind: e.def.Kind, Value: raw, Reason: reason}
	}
	if e.value.Equal(v) {
		return nil
	}
	e.value = v
	tx.next.entries[name] = e
	tx.markChanged(name, origin)
	return nil
}

func (tx *Tx) declare(def Definition) error {
	if _, exists := tx.next.entries[def.Name]; exists {
		return &DuplicateNameError{Name: def.Name}
	}
	value := unsetValue(def.Kind)
	if def.Default != nil {
		v, reason := coerce(def, def.Default)
		if reason != "" {
			return &InvalidValueError{Name: def.Name, Kind: def.Kind, Value: def.Default, Reason: "default: " + reason}
		}
		value = v
	}
	tx.next.entries[def.Name] = entry{def: def, value: value}
	tx.next.order = append(tx.next.order, def.Name)
	tx.structural = true
	if value.IsSet() {
		tx.markChanged(def.Name, OriginDeclare)
	} else {
		// Declaring a formula input can make a pending formula computable.
		tx.touched = append(tx.touched, def.Name)
	}
	return nil
}

func (tx *Tx) markChanged(name string, origin Origin) {
	if _, seen := tx.changedSet[name]; !seen {
		tx.changed = append(tx.changed, name)
	}
	tx.changedSet[name] = origin
}

func (tx *Tx) changes(prev *table) []Change {
	out := make([]Change, 0, len(tx.changed))
	for _, name := range tx.changed {
		e := tx.next.entries[name]
		old := unsetValue(e.def.Kind)
		if previous, ok := prev.entries[name]; ok {
			old = previous.value
		}
		out = append(out, Change{
			Name:     name,
			FullName: tx.store.FullName(name),
			Old:      old,
			New:      e.value,
			Derived:  e.derived || tx.changedSet[name] == OriginEngine,
			Origin:   tx.changedSet[name],
			Version:  tx.next.version,
		})
	}
	return out
}

// changedInputs returns the names staged so far, sorted for deterministic
// formula ordering by the engine.
func (tx *Tx) changedInputs() []string {
	out := append([]string(nil), tx.changed...)
	out = append(out, tx.touched...)
	sort.Strings(out)
	return out
}

// IsUnknown reports whether err is or wraps an *UnknownParameterError.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownParameter)
}
