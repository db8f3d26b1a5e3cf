// Package store persists protocol records: nonces, replay markers, cross-domain messages and attestations.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	"github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"
)

// MemoryPath explicitly selects a store that is not persisted.
const MemoryPath = "memory"

var ErrNotFound = ds.ErrNotFound

// Store is the root datastore, split into namespaced tables.
type Store struct {
	ds ds.Batching
}

// Open opens a leveldb store at path, or an in-memory store for MemoryPath.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path must be specified, use 'memory' to explicitly not persist records")
	}
	if path == MemoryPath {
		return NewMemory(), nil
	}
	db, err := leveldb.NewDatastore(path, nil) // default leveldb options are fine
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb store at %q: %w", path, err)
	}
	return &Store{ds: db}, nil
}

func NewMemory() *Store {
	return &Store{ds: sync.MutexWrap(ds.NewMapDatastore())}
}

// FromDatastore uses d as the root datastore.
func FromDatastore(d ds.Batching) *Store {
	return &Store{ds: d}
}

func (s *Store) Close() error {
	return s.ds.Close()
}

// Table returns a view of the store with every key under /name.
func (s *Store) Table(name string) *Table {
	return &Table{ds: namespace.Wrap(s.ds, ds.NewKey(name))}
}

// Table is a namespaced key-value view.
type Table struct {
	ds ds.Batching
}

// Sub returns a nested table.
func (t *Table) Sub(name string) *Table {
	return &Table{ds: namespace.Wrap(t.ds, ds.NewKey(name))}
}

// Entry is a key-value pair, the key relative to the table.
type Entry struct {
	Key   string
	Value []byte
}

func (t *Table) Get(ctx context.Context, key string) ([]byte, error) {
	return t.ds.Get(ctx, ds.NewKey(key))
}

func (t *Table) Has(ctx context.Context, key string) (bool, error) {
	return t.ds.Has(ctx, ds.NewKey(key))
}

func (t *Table) Put(ctx context.Context, key string, value []byte) error {
	return t.ds.Put(ctx, ds.NewKey(key), value)
}

func (t *Table) Delete(ctx context.Context, key string) error {
	return t.ds.Delete(ctx, ds.NewKey(key))
}

// PutAll writes all entries in one batch.
func (t *Table) PutAll(ctx context.Context, entries ...Entry) error {
	b, err := t.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	for _, e := range entries {
		if err := b.Put(ctx, ds.NewKey(e.Key), e.Value); err != nil {
			return fmt.Errorf("failed to add %q to batch: %w", e.Key, err)
		}
	}
	return b.Commit(ctx)
}

// List returns the entries below prefix, ordered by key.
func (t *Table) List(ctx context.Context, prefix string) ([]Entry, error) {
	res, err := t.ds.Query(ctx, query.Query{
		Prefix: ds.NewKey(prefix).String(),
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, err
	}
	defer res.Close()
	var out []Entry
	for r := range res.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		out = append(out, Entry{Key: strings.TrimPrefix(r.Key, "/"), Value: r.Value})
	}
	return out, nil
}

func (t *Table) GetUint64(ctx context.Context, key string) (uint64, error) {
	v, err := t.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("value at %q is not a uint64", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

func (t *Table) PutUint64(ctx context.Context, key string, v uint64) error {
	return t.Put(ctx, key, binary.BigEndian.AppendUint64(nil, v))
}

func (t *Table) GetJSON(ctx context.Context, key string, dest any) error {
	v, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(v, dest)
}

func (t *Table) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return t.Put(ctx, key, data)
}
