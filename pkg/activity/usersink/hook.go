// Package usersink forwards parameter activity to a go-users ActivitySink.
package usersink

import (
	"context"

	"github.com/goliatone/go-pvscan/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook writes parameter and snapshot activity to a go-users ActivitySink so
// scan parameter changes share the audit trail of operator actions.
type Hook struct {
	Sink usertypes.ActivitySink
	// TenantID scopes every record, e.g. one beamline.
	TenantID string
	// SkipDerived drops pv.recomputed events. They always follow an input
	// write that is already recorded.
	SkipDerived bool
}

func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	record, ok := h.Record(event)
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, record)
}

// Record maps event to the record Notify logs. ok is false for events the
// hook skips. Actors that are not UUIDs, such as "sequencer", are kept under
// Data["actor"].
func (h Hook) Record(event activity.Event) (usertypes.ActivityRecord, bool) {
	e := activity.NormalizeEvent(event)
	if e.Verb == "" || e.ObjectType == "" || e.ObjectID == "" {
		return usertypes.ActivityRecord{}, false
	}
	if h.SkipDerived && e.Verb == activity.VerbRecomputed {
		return usertypes.ActivityRecord{}, false
	}

	data := e.Metadata
	put := func(key string, value any) {
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}
	if e.Namespace != "" {
		put("namespace", e.Namespace)
	}
	actor := parseUUID(e.ActorID)
	if actor == uuid.Nil && e.ActorID != "" {
		put("actor", e.ActorID)
	}

	return usertypes.ActivityRecord{
		ActorID:    actor,
		UserID:     actor,
		TenantID:   parseUUID(h.TenantID),
		Verb:       e.Verb,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Channel:    e.Channel,
		Data:       data,
		OccurredAt: e.OccurredAt,
	}, true
}

func parseUUID(value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}
