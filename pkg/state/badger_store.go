package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "pvscan/snapshot/"

// BadgerStore keeps snapshots in an embedded Badger database, one key per
// Ref. Values are JSON envelopes.
type BadgerStore[T any] struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates a database at path. An empty path opens
// an in-memory database.
func OpenBadgerStore[T any](path string) (*BadgerStore[T], error) {
	opts := badger.DefaultOptions(path)
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open badger %s: %w", path, err)
	}
	return &BadgerStore[T]{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore[T]) Close() error {
	return s.db.Close()
}

func badgerKey(ref Ref) ([]byte, error) {
	id, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	return []byte(badgerKeyPrefix + id), nil
}

func (s *BadgerStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := badgerKey(ref)
	if err != nil {
		return zero, Meta{}, false, err
	}

	var env envelope[T]
	found := true
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: load %s: %w", key, err)
	}
	if !found {
		return zero, Meta{}, false, nil
	}
	return env.Snapshot, env.Meta, true, nil
}

func (s *BadgerStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := badgerKey(ref)
	if err != nil {
		return Meta{}, err
	}
	stored := cloneMeta(meta)
	value, err := json.Marshal(envelope[T]{Meta: stored, Snapshot: snapshot})
	if err != nil {
		return Meta{}, fmt.Errorf("state: encode %s: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		var existing envelope[T]
		found := true
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			found = false
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
		}
		if err := checkETag(existing.Meta, found, meta); err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if errors.Is(err, ErrETagMismatch) {
		return Meta{}, err
	}
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %s: %w", key, err)
	}
	return cloneMeta(stored), nil
}

// List returns the saved refs of namespace in key order.
func (s *BadgerStore[T]) List(_ context.Context, namespace string) ([]Ref, error) {
	prefix := []byte(badgerKeyPrefix + namespaceKey(namespace) + "/")
	var out []Ref
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			out = append(out, Ref{Namespace: namespace, Name: name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("state: list %s: %w", prefix, err)
	}
	return out, nil
}
