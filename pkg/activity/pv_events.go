package activity

import (
	"strings"
	"time"
)

const (
	VerbUpdated           = "pv.updated"
	VerbRecomputed        = "pv.recomputed"
	VerbRestored          = "pv.restored"
	VerbDeclared          = "pv.declared"
	VerbComputationFailed = "pv.computation_failed"
	VerbSnapshotSaved     = "pv.snapshot.saved"
	VerbSnapshotRestored  = "pv.snapshot.restored"

	ObjectParameter = "pv"
	ObjectSnapshot  = "pv.snapshot"
)

// ParameterEventInput describes the common fields for parameter lifecycle
// events.
type ParameterEventInput struct {
	ActorID    string
	Namespace  string
	Name       string
	FullName   string
	Channel    string
	Origin     string
	Version    uint64
	OldValue   any
	NewValue   any
	Metadata   map[string]any
	OccurredAt time.Time
}

// SnapshotEventInput describes a persisted snapshot.
type SnapshotEventInput struct {
	ActorID    string
	Namespace  string
	SnapshotID string
	Ref        string
	Entries    int
	Failures   int
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildParameterUpdatedEvent constructs an event for an external write.
func BuildParameterUpdatedEvent(input ParameterEventInput) Event {
	return buildParameterEvent(VerbUpdated, input)
}

// BuildParameterRecomputedEvent constructs an event for a derived output.
func BuildParameterRecomputedEvent(input ParameterEventInput) Event {
	return buildParameterEvent(VerbRecomputed, input)
}

// BuildParameterRestoredEvent constructs an event for a value applied from a
// snapshot.
func BuildParameterRestoredEvent(input ParameterEventInput) Event {
	return buildParameterEvent(VerbRestored, input)
}

// BuildParameterDeclaredEvent constructs an event for a declared default.
func BuildParameterDeclaredEvent(input ParameterEventInput) Event {
	return buildParameterEvent(VerbDeclared, input)
}

// BuildComputationFailedEvent constructs an event for a derived output whose
// result was rejected.
func BuildComputationFailedEvent(input ParameterEventInput) Event {
	return buildParameterEvent(VerbComputationFailed, input)
}

// BuildSnapshotSavedEvent constructs an event for a persisted snapshot.
func BuildSnapshotSavedEvent(input SnapshotEventInput) Event {
	return buildSnapshotEvent(VerbSnapshotSaved, input)
}

// BuildSnapshotRestoredEvent constructs an event for an applied snapshot.
func BuildSnapshotRestoredEvent(input SnapshotEventInput) Event {
	return buildSnapshotEvent(VerbSnapshotRestored, input)
}

func buildParameterEvent(verb string, input ParameterEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Name != "" {
		metadata = ensureMetadata(metadata)
		metadata["name"] = input.Name
	}
	if input.Origin != "" {
		metadata = ensureMetadata(metadata)
		metadata["origin"] = input.Origin
	}
	if input.Version != 0 {
		metadata = ensureMetadata(metadata)
		metadata["version"] = input.Version
	}
	if input.OldValue != nil {
		metadata = ensureMetadata(metadata)
		metadata["old_value"] = input.OldValue
	}
	if input.NewValue != nil {
		metadata = ensureMetadata(metadata)
		metadata["new_value"] = input.NewValue
	}

	objectID := strings.TrimSpace(input.FullName)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Namespace) + strings.TrimSpace(input.Name)
	}
	if objectID == "" {
		objectID = ObjectParameter
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		Namespace:  strings.TrimSpace(input.Namespace),
		ObjectType: ObjectParameter,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func buildSnapshotEvent(verb string, input SnapshotEventInput) Event {
	metadata := cloneMap(input.Metadata)
	metadata = ensureMetadata(metadata)
	metadata["entries"] = input.Entries
	if input.Failures > 0 {
		metadata["failures"] = input.Failures
	}
	if input.Ref != "" {
		metadata["ref"] = input.Ref
	}

	objectID := strings.TrimSpace(input.SnapshotID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Ref)
	}
	if objectID == "" {
		objectID = ObjectSnapshot
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		Namespace:  strings.TrimSpace(input.Namespace),
		ObjectType: ObjectSnapshot,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
