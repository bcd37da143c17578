package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one parameter or snapshot occurrence. ObjectID is the namespaced
// parameter name for parameter events and the snapshot id for snapshot
// events.
type Event struct {
	Verb       string
	ActorID    string
	Namespace  string
	ObjectType string
	ObjectID   string
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// addressable reports whether the event names a verb and an object. Hooks
// are never called with anything less.
func (e Event) addressable() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// ActivityHook receives normalized activity events. Hooks attached to a store
// run while its write lock is held and must not write back to the store.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// HookError records which hook of a fan-out failed.
type HookError struct {
	Index int
	Verb  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("activity: hook %d on %s: %v", e.Index, e.Verb, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Hooks fans one event out to every hook in order.
type Hooks []ActivityHook

func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and delivers it to every hook, even after one
// fails. Events without a verb or object are dropped. A panicking hook is
// reported as a *HookError so a faulty audit sink cannot abort a parameter
// write.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	normalized := NormalizeEvent(event)
	if !normalized.addressable() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for idx, hook := range h {
		if hook == nil {
			continue
		}
		if err := notifyOne(ctx, hook, normalized); err != nil {
			errs = append(errs, &HookError{Index: idx, Verb: normalized.Verb, Err: err})
		}
	}
	return errors.Join(errs...)
}

func notifyOne(ctx context.Context, hook ActivityHook, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Notify(ctx, event)
}

// now is swapped in tests.
var now = time.Now

// NormalizeEvent trims identifiers, copies metadata so hooks cannot alias
// the caller's map, and stamps events that carry no time.
func NormalizeEvent(event Event) Event {
	out := event
	for _, field := range []*string{&out.Verb, &out.ActorID, &out.Namespace, &out.ObjectType, &out.ObjectID, &out.Channel} {
		*field = strings.TrimSpace(*field)
	}
	out.Metadata = cloneMap(event.Metadata)
	if out.OccurredAt.IsZero() {
		out.OccurredAt = now()
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
