package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/activity"
	"github.com/google/uuid"
)

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithActivityHooks emits pv.snapshot.saved and pv.snapshot.restored events.
func WithActivityHooks(hooks ...activity.ActivityHook) PersisterOption {
	return func(p *Persister) {
		p.emitter = activity.NewEmitter(activity.Hooks(hooks), activity.Config{Enabled: true, Channel: "pv.state"})
	}
}

// WithPersisterLogger sets the logger for save and restore operations.
func WithPersisterLogger(logger pv.Logger) PersisterOption {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithActor tags saved metadata and emitted events with the operator id.
func WithActor(actorID string) PersisterOption {
	return func(p *Persister) {
		p.actorID = strings.TrimSpace(actorID)
	}
}

// WithClock overrides the time source used for Meta.UpdatedAt.
func WithClock(now func() time.Time) PersisterOption {
	return func(p *Persister) {
		if now != nil {
			p.now = now
		}
	}
}

// Persister saves manifest snapshots to a Store and restores them.
type Persister struct {
	manifest *pv.Manifest
	store    Store[pv.Snapshot]
	emitter  *activity.Emitter
	logger   pv.Logger
	actorID  string
	now      func() time.Time
}

// NewPersister binds manifest to store.
func NewPersister(manifest *pv.Manifest, store Store[pv.Snapshot], opts ...PersisterOption) (*Persister, error) {
	if manifest == nil {
		return nil, fmt.Errorf("state: manifest is required")
	}
	if store == nil {
		return nil, fmt.Errorf("state: store is required")
	}
	p := &Persister{
		manifest: manifest,
		store:    store,
		logger:   pv.LoggerFunc(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Store returns the backing store.
func (p *Persister) Store() Store[pv.Snapshot] {
	return p.store
}

// Save captures the manifest and writes it under ref. Each save gets a fresh
// SnapshotID; the ETag only changes when the captured values change.
func (p *Persister) Save(ctx context.Context, ref Ref) (pv.Snapshot, Meta, error) {
	start := p.now()
	snap, err := p.manifest.Snapshot()
	if err != nil {
		return pv.Snapshot{}, Meta{}, fmt.Errorf("state: snapshot %s: %w", ref, err)
	}
	etag, err := ContentETag(snap.Entries)
	if err != nil {
		return pv.Snapshot{}, Meta{}, err
	}
	meta := Meta{
		SnapshotID: uuid.NewString(),
		ETag:       etag,
		UpdatedAt:  start.UTC(),
		Extra: map[string]string{
			"entries": strconv.Itoa(len(snap.Entries)),
			"version": strconv.FormatUint(snap.Version, 10),
		},
	}
	if p.actorID != "" {
		meta.Extra["actor"] = p.actorID
	}

	saved, err := p.store.Save(ctx, ref, snap, meta)
	p.logger.Log(pv.LogEvent{Op: "save", Namespace: snap.Namespace, Name: ref.String(), Value: len(snap.Entries), Duration: p.now().Sub(start), Err: err})
	if err != nil {
		return pv.Snapshot{}, Meta{}, fmt.Errorf("state: save %s: %w", ref, err)
	}
	p.emit(ctx, activity.BuildSnapshotSavedEvent(activity.SnapshotEventInput{
		ActorID:    p.actorID,
		Namespace:  snap.Namespace,
		SnapshotID: saved.SnapshotID,
		Ref:        ref.String(),
		Entries:    len(snap.Entries),
		OccurredAt: saved.UpdatedAt,
	}))
	return snap, saved, nil
}

// Restore loads ref and applies it through the manifest. A missing snapshot
// fails with ErrNotFound; entry-level problems are reported in the
// RestoreReport, not as an error.
func (p *Persister) Restore(ctx context.Context, ref Ref) (pv.RestoreReport, Meta, error) {
	snap, meta, ok, err := p.store.Load(ctx, ref)
	if err != nil {
		return pv.RestoreReport{}, Meta{}, fmt.Errorf("state: load %s: %w", ref, err)
	}
	if !ok {
		return pv.RestoreReport{}, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	report := p.Apply(ctx, snap, meta)
	return report, meta, nil
}

// Apply restores snap, which may come from a file rather than the store.
func (p *Persister) Apply(ctx context.Context, snap pv.Snapshot, meta Meta) pv.RestoreReport {
	report := p.manifest.Restore(snap)
	p.emit(ctx, activity.BuildSnapshotRestoredEvent(activity.SnapshotEventInput{
		ActorID:    p.actorID,
		Namespace:  snap.Namespace,
		SnapshotID: meta.SnapshotID,
		Entries:    len(report.Applied),
		Failures:   len(report.Failures) + len(report.Flagged),
		OccurredAt: p.now().UTC(),
	}))
	return report
}

func (p *Persister) emit(ctx context.Context, event activity.Event) {
	if !p.emitter.Enabled() {
		return
	}
	if err := p.emitter.Emit(ctx, event); err != nil {
		p.logger.Log(pv.LogEvent{Op: "activity", Namespace: event.Namespace, Name: event.Verb, Err: err})
	}
}

// IsNotFound reports whether err means no snapshot was saved under a ref.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
