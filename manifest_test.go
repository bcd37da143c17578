package pv

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func prismaGroups() []Group {
	return []Group{
		{Category: "interlace", Names: []string{"InterlacedScan", "InterlacedFileName"}},
		{Category: "beam status", Names: []string{"StabilizationTime", "Testing", "OpenShutter", "CloseShutter"}},
		{Category: "scan info", Names: []string{"RotationStart", "RotationEnd", "RotationStep", "AcquirePostScan", "PostScanStep"}},
	}
}

func newPrismaManifest(t *testing.T, store *Store, opts ...ManifestOption) *Manifest {
	t.Helper()
	manifest, err := NewManifest(store, prismaGroups(), opts...)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	return manifest
}

func populate(t *testing.T, store *Store) {
	t.Helper()
	setRotation(t, store, 0, 180, 0.5)
	err := store.Update(func(tx *Tx) error {
		for name, value := range map[string]any{
			"InterlacedScan":     true,
			"InterlacedFileName": strings.Repeat("f", 256),
			"StabilizationTime":  0.25,
			"Testing":            "Yes",
			"AcquirePostScan":    1,
			"PostScanStep":       3.5,
		} {
			if err := tx.Set(name, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
}

func TestNewManifestRejectsDuplicates(t *testing.T) {
	store := NewStore()
	_, err := NewManifest(store, []Group{
		{Category: "interlace", Names: []string{"InterlacedScan"}},
		{Category: "scan info", Names: []string{"InterlacedScan"}},
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName for repeated entry, got %v", err)
	}
	_, err = NewManifest(store, []Group{{Category: "a"}, {Category: "a"}})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName for repeated category, got %v", err)
	}
	if _, err := NewManifest(store, []Group{{Category: " "}}); err == nil {
		t.Fatalf("expected empty category to be rejected")
	}
}

func TestSnapshotPreservesManifestOrder(t *testing.T) {
	store, _ := newPrismaStore(t, WithNamespace("pxm1:TomoScan:"))
	populate(t, store)
	manifest := newPrismaManifest(t, store)

	snap, err := manifest.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !reflect.DeepEqual(snap.Names(), manifest.Names()) {
		t.Fatalf("expected manifest order %v, got %v", manifest.Names(), snap.Names())
	}
	if snap.Namespace != "pxm1:TomoScan:" {
		t.Fatalf("expected namespace recorded, got %q", snap.Namespace)
	}
	if snap.Entries[0].Category != "interlace" {
		t.Fatalf("expected category on entries, got %+v", snap.Entries[0])
	}
	if value, ok := snap.Lookup("AcquirePostScan"); !ok || value != 1 {
		t.Fatalf("expected AcquirePostScan=1, got %v", value)
	}
	if _, ok := snap.Lookup("NumOfAngles"); ok {
		t.Fatalf("derived outputs are not part of the manifest")
	}
}

func TestSnapshotUnsetEntries(t *testing.T) {
	store, _ := newPrismaStore(t)
	manifest := newPrismaManifest(t, store)

	snap, err := manifest.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if value, ok := snap.Lookup("RotationStart"); !ok || value != nil {
		t.Fatalf("expected unset RotationStart captured as nil, got %v", value)
	}
	if value, _ := snap.Lookup("OpenShutter"); value != 1.0 {
		t.Fatalf("expected default captured, got %v", value)
	}
}

func TestSnapshotSchemaDrift(t *testing.T) {
	store, _ := newPrismaStore(t)
	manifest, err := NewManifest(store, []Group{{Category: "scan info", Names: []string{"RotationEnd", "RotationSpeed"}}})
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	_, err = manifest.Snapshot()
	var unknown *UnknownParameterError
	if !errors.As(err, &unknown) || unknown.Name != "RotationSpeed" {
		t.Fatalf("expected UnknownParameterError for RotationSpeed, got %v", err)
	}
}

func TestRestoreOfSnapshotIsNoop(t *testing.T) {
	store, _ := newPrismaStore(t)
	populate(t, store)
	manifest := newPrismaManifest(t, store)

	snap, err := manifest.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	before := store.Parameters()
	version := store.Version()

	report := manifest.Restore(snap)
	if err := report.Err(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected clean report, got %+v", report)
	}
	if len(report.Applied) != len(snap.Entries) {
		t.Fatalf("expected %d applied, got %d", len(snap.Entries), len(report.Applied))
	}
	if store.Version() != version {
		t.Fatalf("restore of an identical snapshot must not commit")
	}
	if !reflect.DeepEqual(before, store.Parameters()) {
		t.Fatalf("store changed across round trip")
	}
}

func TestRestoreRoundTripThroughJSONAndYAML(t *testing.T) {
	source, _ := newPrismaStore(t)
	populate(t, source)
	snap, err := newPrismaManifest(t, source).Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	jsonPayload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	var fromJSON Snapshot
	if err := json.Unmarshal(jsonPayload, &fromJSON); err != nil {
		t.Fatalf("unmarshal json: %v", err)
	}
	yamlPayload, err := yaml.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	var fromYAML Snapshot
	if err := yaml.Unmarshal(yamlPayload, &fromYAML); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}

	for label, decoded := range map[string]Snapshot{"json": fromJSON, "yaml": fromYAML} {
		target, _ := newPrismaStore(t)
		report := newPrismaManifest(t, target).Restore(decoded)
		if err := report.Err(); err != nil {
			t.Fatalf("%s restore: %v", label, err)
		}
		if !reflect.DeepEqual(source.Parameters(), target.Parameters()) {
			t.Fatalf("%s round trip changed the store", label)
		}
		if got := readFloat(t, target, "NumOfAngles"); got != 361 {
			t.Fatalf("%s: expected NumOfAngles recomputed to 361, got %v", label, got)
		}
	}
}

func TestRestorePartialFailure(t *testing.T) {
	store, _ := newPrismaStore(t)
	manifest := newPrismaManifest(t, store)

	report := manifest.Restore(Snapshot{Entries: []SnapshotEntry{
		{Name: "RotationEnd", Value: 90.0},
		{Name: "RotationSpeed", Value: 3.0},
		{Name: "AcquirePostScan", Value: 2},
		{Name: "InterlacedFileName", Value: strings.Repeat("x", 257)},
		{Name: "Testing", Value: "Yes"},
		{Name: "PostScanStep", Value: nil},
	}})

	if !reflect.DeepEqual(report.Applied, []string{"RotationEnd", "Testing"}) {
		t.Fatalf("expected valid entries applied, got %v", report.Applied)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"PostScanStep"}) {
		t.Fatalf("expected unset entry skipped, got %v", report.Skipped)
	}
	if len(report.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, ErrUnknownParameter) {
		t.Fatalf("expected unknown parameter failure, got %v", report.Failures[0])
	}
	if !errors.Is(report.Failures[1].Err, ErrInvalidValue) || !errors.Is(report.Failures[2].Err, ErrInvalidValue) {
		t.Fatalf("expected invalid value failures, got %v", report.Failures)
	}
	if !errors.Is(report.Err(), ErrUnknownParameter) {
		t.Fatalf("expected joined error to carry failures")
	}

	if got := readFloat(t, store, "RotationEnd"); got != 90 {
		t.Fatalf("expected RotationEnd restored, got %v", got)
	}
	v, _ := store.Read("Testing")
	if !v.Bool() {
		t.Fatalf("expected Testing restored")
	}
}

func TestRestoreFlagsDerivedEntries(t *testing.T) {
	store, _ := newPrismaStore(t)
	setRotation(t, store, 0, 180, 1)
	manifest := newPrismaManifest(t, store)

	report := manifest.Restore(Snapshot{Entries: []SnapshotEntry{
		{Name: "NumOfAngles", Value: 999.0},
		{Name: "RotationStep", Value: 0.5},
	}})
	if err := report.Err(); err != nil {
		t.Fatalf("derived entries are not fatal: %v", err)
	}
	if len(report.Flagged) != 1 || !errors.Is(report.Flagged[0].Err, ErrDerivedRestore) {
		t.Fatalf("expected NumOfAngles flagged, got %+v", report.Flagged)
	}
	if report.OK() {
		t.Fatalf("flagged entries should make the report not OK")
	}
	if got := readFloat(t, store, "NumOfAngles"); got != 361 {
		t.Fatalf("expected NumOfAngles recomputed to 361, got %v", got)
	}
}

func TestRestoreStripsNamespace(t *testing.T) {
	store, _ := newPrismaStore(t, WithNamespace("pxm1:TomoScan:"))
	manifest := newPrismaManifest(t, store)

	report := manifest.Restore(Snapshot{Entries: []SnapshotEntry{
		{Name: "pxm1:TomoScan:PostScanStep", Value: 2.0},
	}})
	if err := report.Err(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := readFloat(t, store, "PostScanStep"); got != 2 {
		t.Fatalf("expected PostScanStep restored, got %v", got)
	}
}

func TestRestoreReportsComputationError(t *testing.T) {
	store, engine := newPrismaStore(t)
	setRotation(t, store, 0, 180, 1)
	manifest := newPrismaManifest(t, store, WithRestoreEngine(engine))

	report := manifest.Restore(Snapshot{Entries: []SnapshotEntry{
		{Name: "RotationStep", Value: 0.0},
		{Name: "PostScanStep", Value: 1.0},
	}})
	if !errors.Is(report.Computation, ErrComputation) {
		t.Fatalf("expected computation error, got %v", report.Computation)
	}
	if len(report.Applied) != 2 {
		t.Fatalf("expected both entries applied, got %v", report.Applied)
	}
	if got := readFloat(t, store, "NumOfAngles"); got != 181 {
		t.Fatalf("expected NumOfAngles to keep 181, got %v", got)
	}
}

func TestRestoreKeepsLargeIntegersThroughJSON(t *testing.T) {
	const frames int64 = 1<<53 + 1
	newStore := func() *Store {
		store := NewStore()
		if err := store.Declare(Definition{Name: "FrameCount", Kind: KindInt}); err != nil {
			t.Fatalf("declare: %v", err)
		}
		return store
	}
	groups := []Group{{Category: "scan info", Names: []string{"FrameCount"}}}

	source := newStore()
	if err := source.Write("FrameCount", frames); err != nil {
		t.Fatalf("write: %v", err)
	}
	manifest, err := NewManifest(source, groups)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	snap, err := manifest.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if value, _ := decoded.Lookup("FrameCount"); value != frames {
		t.Fatalf("expected int64 %d, got %T %v", frames, value, value)
	}

	target := newStore()
	restorer, err := NewManifest(target, groups)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if err := restorer.Restore(decoded).Err(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	v, _ := target.Read("FrameCount")
	if v.Int() != frames {
		t.Fatalf("expected %d, got %d", frames, v.Int())
	}
}
