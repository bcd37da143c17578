package state

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	pv "github.com/goliatone/go-pvscan"
)

// WatchDebounce coalesces the burst of events editors and atomic renames
// produce for one logical save.
var WatchDebounce = 100 * time.Millisecond

// Watch restores the snapshot file at path every time it is written, until
// ctx is done. The parent directory is watched so files replaced by rename
// keep being tracked. onApply receives each restore report, or the error
// that prevented reading the file.
func (p *Persister) Watch(ctx context.Context, path string, onApply func(pv.RestoreReport, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("state: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("state: watch %s: %w", path, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("state: watch %s: %w", path, err)
	}

	apply := func() {
		snap, meta, err := LoadFile[pv.Snapshot](abs)
		if err != nil {
			p.logger.Log(pv.LogEvent{Op: "watch", Name: abs, Err: err})
			if onApply != nil {
				onApply(pv.RestoreReport{}, err)
			}
			return
		}
		report := p.Apply(ctx, snap, meta)
		p.logger.Log(pv.LogEvent{Op: "watch", Namespace: snap.Namespace, Name: abs, Value: len(report.Applied), Err: report.Err()})
		if onApply != nil {
			onApply(report, nil)
		}
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = time.After(WatchDebounce)
			}
		case <-pending:
			pending = nil
			apply()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Log(pv.LogEvent{Op: "watch", Name: abs, Err: err})
		}
	}
}
