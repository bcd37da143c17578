package state

import (
	"context"
	"fmt"
	"time"

	pv "github.com/goliatone/go-pvscan"
)

// Autosave saves the manifest under ref every interval until ctx is done,
// skipping ticks where the captured values did not change. A final save is
// attempted on shutdown so the last configuration is never lost. onSave, if
// set, observes every save attempt.
func (p *Persister) Autosave(ctx context.Context, ref Ref, interval time.Duration, onSave func(Meta, error)) error {
	if interval <= 0 {
		return fmt.Errorf("state: autosave interval must be positive, got %s", interval)
	}
	if _, err := ref.Identifier(); err != nil {
		return err
	}

	var last string
	if _, meta, ok, err := p.store.Load(ctx, ref); err == nil && ok {
		last = meta.ETag
	}

	save := func(ctx context.Context) {
		snap, err := p.manifest.Snapshot()
		if err != nil {
			p.logger.Log(pv.LogEvent{Op: "autosave", Name: ref.String(), Err: err})
			if onSave != nil {
				onSave(Meta{}, err)
			}
			return
		}
		etag, err := ContentETag(snap.Entries)
		if err == nil && etag == last {
			return
		}
		_, meta, err := p.Save(ctx, ref)
		if err == nil {
			last = meta.ETag
		}
		if onSave != nil {
			onSave(meta, err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			save(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			save(ctx)
		}
	}
}
