package pv

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

const numOfAnglesExpr = "((RotationEnd - RotationStart) / RotationStep) + 1"

func prismaDefinitions() []Definition {
	return []Definition{
		{Name: "RotationStart", Kind: KindFloat, Precision: 3},
		{Name: "RotationStep", Kind: KindFloat, Precision: 3},
		{Name: "InterlacedScan", Kind: KindBool},
		{Name: "InterlacedFileName", Kind: KindText, Capacity: 256},
		{Name: "StabilizationTime", Kind: KindFloat, Precision: 3},
		{Name: "Testing", Kind: KindBool},
		{Name: "OpenShutter", Kind: KindFloat, Default: 1},
		{Name: "CloseShutter", Kind: KindFloat, Default: 1},
		{Name: "RotationEnd", Kind: KindFloat, Precision: 3},
		{Name: "NumOfAngles", Kind: KindFloat, Precision: 0},
		{Name: "AcquirePostScan", Kind: KindEnum, Labels: []string{"No", "Yes"}},
		{Name: "PostScanStep", Kind: KindFloat, Precision: 3},
	}
}

func newPrismaStore(t *testing.T, opts ...StoreOption) (*Store, *Engine) {
	t.Helper()
	store := NewStore(opts...)
	if err := store.DeclareAll(prismaDefinitions()...); err != nil {
		t.Fatalf("declare: %v", err)
	}
	engine, err := NewEngine(store)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	err = engine.Register(Formula{
		Output: "NumOfAngles",
		Inputs: []string{"RotationStart", "RotationEnd", "RotationStep"},
		Expr:   numOfAnglesExpr,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return store, engine
}

func setRotation(t *testing.T, store *Store, start, end, step float64) {
	t.Helper()
	err := store.Update(func(tx *Tx) error {
		if err := tx.Set("RotationStart", start); err != nil {
			return err
		}
		if err := tx.Set("RotationEnd", end); err != nil {
			return err
		}
		return tx.Set("RotationStep", step)
	})
	if err != nil {
		t.Fatalf("set rotation: %v", err)
	}
}

func readFloat(t *testing.T, store *Store, name string) float64 {
	t.Helper()
	v, err := store.Read(name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if !v.IsSet() {
		t.Fatalf("%s is unset", name)
	}
	return v.Float()
}

func TestDeclareAppliesDefaults(t *testing.T) {
	store, _ := newPrismaStore(t)

	if got := readFloat(t, store, "OpenShutter"); got != 1 {
		t.Fatalf("expected OpenShutter default 1, got %v", got)
	}
	v, err := store.Read("RotationStart")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.IsSet() {
		t.Fatalf("expected RotationStart unset without a default, got %v", v)
	}

	p, err := store.Parameter("InterlacedScan")
	if err != nil {
		t.Fatalf("parameter: %v", err)
	}
	if len(p.Labels) != 2 || p.Labels[0] != "No" || p.Labels[1] != "Yes" {
		t.Fatalf("expected default bool labels, got %v", p.Labels)
	}
	text, _ := store.Parameter("InterlacedFileName")
	if text.Capacity != DefaultTextCapacity {
		t.Fatalf("expected capacity %d, got %d", DefaultTextCapacity, text.Capacity)
	}
}

func TestDeclareDuplicateName(t *testing.T) {
	store, _ := newPrismaStore(t)

	err := store.Declare(Definition{Name: "RotationEnd", Kind: KindFloat})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	var dup *DuplicateNameError
	if !errors.As(err, &dup) || dup.Name != "RotationEnd" {
		t.Fatalf("expected DuplicateNameError for RotationEnd, got %#v", err)
	}
}

func TestDeclareRejectsInvalidDefinitions(t *testing.T) {
	store := NewStore()
	cases := []Definition{
		{Name: "", Kind: KindFloat},
		{Name: "NoKind"},
		{Name: "Enum", Kind: KindEnum},
		{Name: "Bool", Kind: KindBool, Labels: []string{"Off"}},
		{Name: "Precision", Kind: KindFloat, Precision: -1},
		{Name: "BadDefault", Kind: KindEnum, Labels: []string{"No", "Yes"}, Default: 3},
	}
	for _, def := range cases {
		if err := store.Declare(def); err == nil {
			t.Fatalf("expected %q to be rejected", def.Name)
		}
	}
	if names := store.Names(); len(names) != 0 {
		t.Fatalf("expected no declarations to commit, got %v", names)
	}
}

func TestReadWriteUnknownParameter(t *testing.T) {
	store, _ := newPrismaStore(t)

	if _, err := store.Read("RotationSpeed"); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter on read, got %v", err)
	}
	err := store.Write("RotationSpeed", 1.0)
	var unknown *UnknownParameterError
	if !errors.As(err, &unknown) || unknown.Name != "RotationSpeed" {
		t.Fatalf("expected UnknownParameterError, got %v", err)
	}
	if !IsUnknown(err) {
		t.Fatalf("expected IsUnknown to match")
	}
}

func TestNamespacedNames(t *testing.T) {
	store, _ := newPrismaStore(t, WithNamespace("pxm1:TomoScan:"))

	if err := store.Write("pxm1:TomoScan:RotationStart", 0.0); err != nil {
		t.Fatalf("write start: %v", err)
	}
	err := store.Update(func(tx *Tx) error {
		if err := tx.Set("pxm1:TomoScan:RotationEnd", 180.0); err != nil {
			return err
		}
		if err := tx.Set("RotationStep", 1.0); err != nil {
			return err
		}
		v, err := tx.Get("pxm1:TomoScan:RotationEnd")
		if err != nil {
			return err
		}
		if v.Float() != 180 {
			t.Errorf("expected staged RotationEnd 180, got %v", v.Float())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := readFloat(t, store, "pxm1:TomoScan:NumOfAngles"); got != 181 {
		t.Fatalf("expected NumOfAngles 181, got %v", got)
	}
	if got := readFloat(t, store, "NumOfAngles"); got != 181 {
		t.Fatalf("expected NumOfAngles 181 by local name, got %v", got)
	}
	param, err := store.Parameter("pxm1:TomoScan:RotationEnd")
	if err != nil {
		t.Fatalf("parameter: %v", err)
	}
	if param.Name != "RotationEnd" {
		t.Fatalf("expected local name, got %q", param.Name)
	}
	values, err := store.Values("pxm1:TomoScan:RotationStep", "RotationStart")
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if values["pxm1:TomoScan:RotationStep"].Float() != 1 || values["RotationStart"].Float() != 0 {
		t.Fatalf("unexpected values %v", values)
	}

	err = store.Write("pxm1:TomoScan:NumOfAngles", 5.0)
	if !errors.Is(err, ErrDerivedWrite) {
		t.Fatalf("expected ErrDerivedWrite for namespaced derived write, got %v", err)
	}
	err = store.Write("pxm2:TomoScan:RotationEnd", 10.0)
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected foreign namespace to be unknown, got %v", err)
	}
}

func TestWriteEnumDomain(t *testing.T) {
	store, _ := newPrismaStore(t)

	err := store.Write("AcquirePostScan", 2)
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	v, _ := store.Read("AcquirePostScan")
	if v.IsSet() {
		t.Fatalf("rejected write must not change the value, got %v", v)
	}

	for _, value := range []int{0, 1} {
		if err := store.Write("AcquirePostScan", value); err != nil {
			t.Fatalf("write %d: %v", value, err)
		}
		v, _ := store.Read("AcquirePostScan")
		if v.Int() != int64(value) {
			t.Fatalf("expected %d, got %v", value, v)
		}
	}

	if err := store.Write("AcquirePostScan", "no"); err != nil {
		t.Fatalf("write label: %v", err)
	}
	p, _ := store.Parameter("AcquirePostScan")
	if p.Format() != "No" {
		t.Fatalf("expected label No, got %q", p.Format())
	}
}

func TestWriteBoolAcceptsLabelsAndIndexes(t *testing.T) {
	store, _ := newPrismaStore(t)

	cases := []struct {
		in   any
		want bool
	}{
		{true, true},
		{"No", false},
		{"yes", true},
		{0, false},
		{1.0, true},
	}
	for _, tc := range cases {
		if err := store.Write("InterlacedScan", tc.in); err != nil {
			t.Fatalf("write %v: %v", tc.in, err)
		}
		v, _ := store.Read("InterlacedScan")
		if v.Bool() != tc.want {
			t.Fatalf("write %v: expected %v, got %v", tc.in, tc.want, v)
		}
	}
	if err := store.Write("InterlacedScan", 2); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for 2, got %v", err)
	}
	if err := store.Write("InterlacedScan", "Maybe"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for unknown label, got %v", err)
	}
}

func TestWriteTextCapacity(t *testing.T) {
	store, _ := newPrismaStore(t)

	exact := strings.Repeat("a", 256)
	if err := store.Write("InterlacedFileName", exact); err != nil {
		t.Fatalf("256 bytes should fit: %v", err)
	}
	err := store.Write("InterlacedFileName", exact+"b")
	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidValueError for 257 bytes, got %v", err)
	}
	if invalid.Kind != KindText {
		t.Fatalf("expected text kind in error, got %s", invalid.Kind)
	}
	v, _ := store.Read("InterlacedFileName")
	if v.Text() != exact {
		t.Fatalf("rejected write must keep the previous value")
	}

	// Capacity is in bytes, not runes.
	wide := strings.Repeat("é", 129)
	if err := store.Write("InterlacedFileName", wide); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected 258-byte value to be rejected, got %v", err)
	}
}

func TestWriteFloatRejectsNonNumeric(t *testing.T) {
	store, _ := newPrismaStore(t)

	cases := []any{"fast", true, nil}
	for _, value := range cases {
		if err := store.Write("StabilizationTime", value); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("expected ErrInvalidValue for %v, got %v", value, err)
		}
	}
	if err := store.Write("StabilizationTime", 2); err != nil {
		t.Fatalf("int should widen to float: %v", err)
	}
	p, _ := store.Parameter("StabilizationTime")
	if p.Format() != "2.000" {
		t.Fatalf("expected precision 3 display, got %q", p.Format())
	}
}

func TestUpdateAbortsOnError(t *testing.T) {
	store, _ := newPrismaStore(t)
	before := store.Version()

	err := store.Update(func(tx *Tx) error {
		if err := tx.Set("PostScanStep", 2.5); err != nil {
			return err
		}
		return tx.Set("AcquirePostScan", 7)
	})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if store.Version() != before {
		t.Fatalf("aborted update must not commit")
	}
	v, _ := store.Read("PostScanStep")
	if v.IsSet() {
		t.Fatalf("expected PostScanStep untouched, got %v", v)
	}
}

func TestTxGetSeesPendingWrites(t *testing.T) {
	store, _ := newPrismaStore(t)

	err := store.Update(func(tx *Tx) error {
		if err := tx.Set("PostScanStep", 4.0); err != nil {
			return err
		}
		v, err := tx.Get("PostScanStep")
		if err != nil {
			return err
		}
		if v.Float() != 4 {
			t.Fatalf("expected pending value 4, got %v", v)
		}
		if outside, _ := store.Read("PostScanStep"); outside.IsSet() {
			t.Fatalf("pending value must not be visible before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestWriteUnchangedValueDoesNotCommit(t *testing.T) {
	store, _ := newPrismaStore(t)
	before := store.Version()

	if err := store.Write("OpenShutter", 1.0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if store.Version() != before {
		t.Fatalf("expected no commit for unchanged value")
	}
}

func TestSubscribeReceivesConsistentChanges(t *testing.T) {
	store, _ := newPrismaStore(t, WithNamespace("pxm1:TomoScan:"))

	var changes []Change
	unsubscribe := store.Subscribe(func(change Change) {
		changes = append(changes, change)
		if change.Name != "NumOfAngles" {
			return
		}
		values, err := store.Values("RotationStart", "RotationEnd", "RotationStep", "NumOfAngles")
		if err != nil {
			t.Fatalf("values: %v", err)
		}
		want := (values["RotationEnd"].Float()-values["RotationStart"].Float())/values["RotationStep"].Float() + 1
		if values["NumOfAngles"].Float() != want {
			t.Fatalf("observer saw stale NumOfAngles %v, want %v", values["NumOfAngles"], want)
		}
	})

	setRotation(t, store, 0, 180, 1)

	if len(changes) != 4 {
		t.Fatalf("expected 4 changes from one update, got %d: %+v", len(changes), changes)
	}
	version := changes[0].Version
	derived := 0
	for _, change := range changes {
		if change.Version != version {
			t.Fatalf("changes from one update must share a version")
		}
		if change.Name == "NumOfAngles" {
			derived++
			if !change.Derived || change.Origin != OriginEngine {
				t.Fatalf("expected derived engine change, got %+v", change)
			}
			if change.FullName != "pxm1:TomoScan:NumOfAngles" {
				t.Fatalf("expected namespaced full name, got %q", change.FullName)
			}
		}
	}
	if derived != 1 {
		t.Fatalf("expected one recompute for a batched update, got %d", derived)
	}

	unsubscribe()
	unsubscribe()
	if err := store.Write("RotationEnd", 90.0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(changes) != 4 {
		t.Fatalf("unsubscribed observer still notified")
	}
}

func TestConcurrentReadersNeverSeeStaleOutput(t *testing.T) {
	store, _ := newPrismaStore(t)
	setRotation(t, store, 0, 1, 1)

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan string, 4)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				values, err := store.Values("RotationStart", "RotationEnd", "RotationStep", "NumOfAngles")
				if err != nil {
					errs <- err.Error()
					return
				}
				want := (values["RotationEnd"].Float()-values["RotationStart"].Float())/values["RotationStep"].Float() + 1
				if got := values["NumOfAngles"].Float(); got != want {
					errs <- "stale NumOfAngles"
					return
				}
			}
		}()
	}

	for i := 2; i < 500; i++ {
		if err := store.Write("RotationEnd", float64(i)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if i%7 == 0 {
			if err := store.Write("RotationStep", float64(i%3+1)); err != nil {
				t.Fatalf("write step: %v", err)
			}
		}
	}
	close(done)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatalf("reader failure: %s", msg)
	}
}

func TestDescribeListsDeclarations(t *testing.T) {
	store, _ := newPrismaStore(t, WithNamespace("pxm1:TomoScan:"))
	setRotation(t, store, 0, 180, 1)

	fields := store.Describe()
	if len(fields) != len(prismaDefinitions()) {
		t.Fatalf("expected %d descriptors, got %d", len(prismaDefinitions()), len(fields))
	}
	var angles FieldDescriptor
	for _, field := range fields {
		if field.Name == "NumOfAngles" {
			angles = field
		}
	}
	if !angles.Derived || angles.Display != "181" || angles.FullName != "pxm1:TomoScan:NumOfAngles" {
		t.Fatalf("unexpected NumOfAngles descriptor: %+v", angles)
	}
	if fields[0].Name != "RotationStart" || fields[0].Kind != "float" {
		t.Fatalf("expected declaration order, got %+v", fields[0])
	}
}
