package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Format selects the on-disk encoding of a FileStore.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor infers the encoding from a file extension. Anything other than
// .json is YAML, matching the plain-text .config files operators edit.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

func (f Format) ext() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".yaml"
}

func (f Format) marshal(v any) ([]byte, error) {
	if f == FormatJSON {
		return json.MarshalIndent(v, "", "  ")
	}
	return yaml.Marshal(v)
}

func (f Format) unmarshal(data []byte, v any) error {
	if f == FormatJSON {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

// FileStore keeps one file per Ref under a root directory:
// <root>/<namespace>/<name>.<ext>. Writes go through a temporary file and a
// rename so readers never observe a partial snapshot.
type FileStore[T any] struct {
	root   string
	format Format
	mu     sync.Mutex
}

// NewFileStore creates root if needed.
func NewFileStore[T any](root string, format Format) (*FileStore[T], error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("state: file store root is required")
	}
	if format != FormatJSON {
		format = FormatYAML
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("state: create %s: %w", root, err)
	}
	return &FileStore[T]{root: root, format: format}, nil
}

// Path returns the file backing ref.
func (s *FileStore[T]) Path(ref Ref) (string, error) {
	key, err := ref.Identifier()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)+s.format.ext()), nil
}

func (s *FileStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	path, err := s.Path(ref)
	if err != nil {
		return zero, Meta{}, false, err
	}
	env, ok, err := readEnvelope[T](path, s.format)
	if err != nil || !ok {
		return zero, Meta{}, false, err
	}
	return env.Snapshot, env.Meta, true, nil
}

func (s *FileStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	path, err := s.Path(ref)
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found, err := readEnvelope[T](path, s.format)
	if err != nil {
		return Meta{}, err
	}
	if err := checkETag(existing.Meta, found, meta); err != nil {
		return Meta{}, err
	}

	stored := cloneMeta(meta)
	if err := writeEnvelope(path, s.format, envelope[T]{Meta: stored, Snapshot: snapshot}); err != nil {
		return Meta{}, err
	}
	return cloneMeta(stored), nil
}

// List returns the saved refs of namespace sorted by name.
func (s *FileStore[T]) List(_ context.Context, namespace string) ([]Ref, error) {
	dir := filepath.Join(s.root, namespaceKey(namespace))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: list %s: %w", dir, err)
	}
	var out []Ref
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != s.format.ext() {
			continue
		}
		out = append(out, Ref{Namespace: namespace, Name: strings.TrimSuffix(name, s.format.ext())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveFile writes snapshot to an explicit path, choosing the encoding from
// its extension.
func SaveFile[T any](path string, snapshot T, meta Meta) error {
	return writeEnvelope(path, FormatFor(path), envelope[T]{Meta: cloneMeta(meta), Snapshot: snapshot})
}

// LoadFile reads a file written by SaveFile or a FileStore. A missing file
// yields ErrNotFound.
func LoadFile[T any](path string) (T, Meta, error) {
	var zero T
	env, ok, err := readEnvelope[T](path, FormatFor(path))
	if err != nil {
		return zero, Meta{}, err
	}
	if !ok {
		return zero, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return env.Snapshot, env.Meta, nil
}

func readEnvelope[T any](path string, format Format) (envelope[T], bool, error) {
	var env envelope[T]
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return env, false, nil
	}
	if err != nil {
		return env, false, fmt.Errorf("state: read %s: %w", path, err)
	}
	if err := format.unmarshal(data, &env); err != nil {
		return env, false, fmt.Errorf("state: decode %s: %w", path, err)
	}
	return env, true, nil
}

func writeEnvelope[T any](path string, format Format, env envelope[T]) error {
	data, err := format.marshal(env)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	return nil
}
