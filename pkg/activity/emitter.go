package activity

import (
	"context"
	"strings"
)

// DefaultChannel is stamped on events emitted without one.
const DefaultChannel = "pv"

// Config selects what an Emitter forwards.
type Config struct {
	Enabled bool
	// Channel defaults to DefaultChannel.
	Channel string
	// Verbs restricts emission to the listed verbs. Empty emits everything.
	Verbs []string
}

// Emitter is the store-side front of a Hooks fan-out. A nil or disabled
// Emitter drops every event, so call sites never check for hooks themselves.
type Emitter struct {
	hooks   Hooks
	channel string
	verbs   verbSet
}

type verbSet map[string]struct{}

func newVerbSet(verbs []string) verbSet {
	var set verbSet
	for _, verb := range verbs {
		if verb = strings.TrimSpace(verb); verb == "" {
			continue
		}
		if set == nil {
			set = verbSet{}
		}
		set[verb] = struct{}{}
	}
	return set
}

// allows treats an empty set as "all verbs".
func (s verbSet) allows(verb string) bool {
	if s == nil {
		return true
	}
	_, ok := s[strings.TrimSpace(verb)]
	return ok
}

// NewEmitter returns an emitter over the non-nil hooks. It is disabled when
// cfg.Enabled is false or no hook remains.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{channel: strings.TrimSpace(cfg.Channel), verbs: newVerbSet(cfg.Verbs)}
	if e.channel == "" {
		e.channel = DefaultChannel
	}
	if cfg.Enabled {
		e.hooks = CloneHooks(hooks)
	}
	return e
}

func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Emit delivers event unless its verb is filtered out. The emitter channel
// applies only when the event has none.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() || !e.verbs.allows(event.Verb) {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	return e.hooks.Notify(ctx, event)
}

// CloneHooks returns a copy of hooks with nil entries dropped, or nil when
// none remain.
func CloneHooks(hooks Hooks) Hooks {
	var out Hooks
	for _, hook := range hooks {
		if hook != nil {
			out = append(out, hook)
		}
	}
	return out
}
