package pv

import (
	"context"
	"strings"

	"github.com/goliatone/go-pvscan/pkg/activity"
)

// WithActivityHooks attaches activity hooks notified for every committed
// change. Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) StoreOption {
	normalized := activity.CloneHooks(hooks)
	return func(cfg *storeConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityChannel overrides the channel stamped on emitted events.
func WithActivityChannel(channel string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.channel = strings.TrimSpace(channel)
	}
}

// ActivityHooks returns a cloned slice of the configured hooks.
func (s *Store) ActivityHooks() activity.Hooks {
	if s == nil {
		return nil
	}
	return activity.CloneHooks(s.cfg.activityHooks)
}

func (s *Store) changeEvent(change Change) activity.Event {
	input := activity.ParameterEventInput{
		ActorID:   s.cfg.actorID,
		Namespace: s.cfg.namespace,
		Name:      change.Name,
		FullName:  change.FullName,
		Origin:    string(change.Origin),
		Version:   change.Version,
		OldValue:  change.Old.Interface(),
		NewValue:  change.New.Interface(),
	}
	switch change.Origin {
	case OriginEngine:
		return activity.BuildParameterRecomputedEvent(input)
	case OriginRestore:
		return activity.BuildParameterRestoredEvent(input)
	case OriginDeclare:
		return activity.BuildParameterDeclaredEvent(input)
	default:
		return activity.BuildParameterUpdatedEvent(input)
	}
}

func (s *Store) emitComputationFailure(err *ComputationError) {
	if !s.emitter.Enabled() || err == nil {
		return
	}
	event := activity.BuildComputationFailedEvent(activity.ParameterEventInput{
		ActorID:   s.cfg.actorID,
		Namespace: s.cfg.namespace,
		Name:      err.Output,
		FullName:  s.FullName(err.Output),
		Metadata: map[string]any{
			"error":  err.Error(),
			"inputs": err.Inputs,
		},
	})
	if emitErr := s.emitter.Emit(context.Background(), event); emitErr != nil {
		s.logger().Log(LogEvent{Op: "activity", Namespace: s.cfg.namespace, Name: err.Output, Err: emitErr})
	}
}
