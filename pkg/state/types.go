package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a referenced snapshot was never saved.
var ErrNotFound = errors.New("state: snapshot not found")

// ErrETagMismatch is returned when a save expects a different stored version.
var ErrETagMismatch = errors.New("state: etag mismatch")

// DefaultName is the configuration name used when none is given.
const DefaultName = "default"

// Ref identifies one persisted configuration of one instrument.
type Ref struct {
	// Namespace is the store namespace, e.g. "pxm1:TomoScan:".
	Namespace string
	// Name distinguishes configurations saved for the same instrument.
	Name string
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty" yaml:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	// IfMatch, when set on Save, must equal the stored ETag. It is never
	// persisted.
	IfMatch string `json:"-" yaml:"-"`
}

// Store loads and saves one snapshot per Ref.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

// Lister is implemented by stores that can enumerate saved configurations.
type Lister interface {
	List(ctx context.Context, namespace string) ([]Ref, error)
}

// Identifier returns the canonical storage key "<namespace>/<name>". Colons
// in the namespace become dots and a trailing separator is dropped, so
// "pxm1:TomoScan:" and name "default" map to "pxm1.TomoScan/default".
func (r Ref) Identifier() (string, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return "", fmt.Errorf("state: ref name is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("state: ref name %q must not contain path separators", name)
	}
	return namespaceKey(r.Namespace) + "/" + name, nil
}

func namespaceKey(namespace string) string {
	ns := strings.Trim(strings.TrimSpace(namespace), ":")
	ns = strings.NewReplacer(":", ".", "/", ".", `\`, ".").Replace(ns)
	if ns == "" {
		return "local"
	}
	return ns
}

func (r Ref) String() string {
	id, err := r.Identifier()
	if err != nil {
		return fmt.Sprintf("%s<invalid>", r.Namespace)
	}
	return id
}

// ContentETag hashes the JSON encoding of snapshot. Two snapshots with the
// same entries produce the same tag.
func ContentETag(snapshot any) (string, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("state: etag: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8]), nil
}

func checkETag(stored Meta, found bool, incoming Meta) error {
	expect := incoming.IfMatch
	if expect == "" || !found {
		return nil
	}
	if stored.ETag != expect {
		return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expect, stored.ETag)
	}
	return nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.IfMatch = ""
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

// envelope is the persisted form shared by file and badger stores.
type envelope[T any] struct {
	Meta     Meta `json:"meta" yaml:"meta"`
	Snapshot T    `json:"snapshot" yaml:"snapshot"`
}
