// Package store persists sealed batches in BadgerDB so an arrangement's
// trace can be rebuilt at startup. Only write-once batches ever reach the
// store, which keeps its contract simple: put, list, load and remove,
// with no in-place rewrites, matching the trace's own immutability rules.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
)

// Store is a BadgerDB-backed batch store shared by any number of named
// arrangements.
type Store struct {
	db *badger.DB
}

// Window identifies one stored batch of an arrangement.
type Window struct {
	Lower, Upper ivm.Time
	// Run tags the store run that wrote the batch, for debugging overlap
	// left behind by an interrupted merge swap.
	Run uuid.UUID
}

// Open opens (or creates) a store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // batch blobs don't need badger's own chatter

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sink returns the arrange.BatchSink persisting one named arrangement.
func (s *Store) Sink(name string) *Sink {
	return &Sink{store: s, name: name}
}

// Sink implements arrange.BatchSink for one arrangement name.
type Sink struct {
	store *Store
	name  string
}

var _ arrange.BatchSink = (*Sink)(nil)

// Put persists a sealed batch under its window.
func (k *Sink) Put(b *arrange.Batch) error {
	key := batchKey(k.name, b.Lower(), b.Upper())
	run := uuid.New()
	value := append(run[:], b.Encode()...)
	return k.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Remove forgets a batch retired by a merge.
func (k *Sink) Remove(lower, upper ivm.Time) error {
	key := batchKey(k.name, lower, upper)
	return k.store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

// Windows lists every stored window of an arrangement, ordered by lower
// bound, wider windows first.
func (s *Store) Windows(name string) ([]Window, error) {
	var out []Window
	prefix := keyPrefix(name)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			lower, upper, err := parseKey(prefix, item.Key())
			if err != nil {
				return err
			}
			w := Window{Lower: lower, Upper: upper}
			if err := item.Value(func(val []byte) error {
				if len(val) < 16 {
					return fmt.Errorf("store: truncated batch envelope")
				}
				copy(w.Run[:], val[:16])
				return nil
			}); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lower != out[j].Lower {
			return out[i].Lower < out[j].Lower
		}
		return out[i].Upper > out[j].Upper
	})
	return out, nil
}

// Load reads one batch back.
func (s *Store) Load(name string, lower, upper ivm.Time) (*arrange.Batch, error) {
	var b *arrange.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(batchKey(name, lower, upper))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 16 {
				return fmt.Errorf("store: truncated batch envelope")
			}
			b, err = arrange.DecodeBatch(val[16:])
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("store: no batch %q [%d,%d)", name, lower, upper)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LoadBatches reassembles an arrangement's contiguous batch sequence. If
// an interrupted merge left both a merged window and its inputs behind,
// the wider window wins and the covered ones are skipped.
func (s *Store) LoadBatches(name string) ([]*arrange.Batch, error) {
	windows, err := s.Windows(name)
	if err != nil {
		return nil, err
	}

	var out []*arrange.Batch
	frontier := ivm.Time(0)
	for _, w := range windows {
		if w.Upper <= frontier {
			continue // covered by a previously chosen wider window
		}
		if w.Lower != frontier {
			return nil, fmt.Errorf("store: %q has a gap at %d (next window [%d,%d))",
				name, frontier, w.Lower, w.Upper)
		}
		b, err := s.Load(name, w.Lower, w.Upper)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		frontier = w.Upper
	}
	return out, nil
}

// Restore rebuilds a trace from the store, ready to hand to an
// arrangement at startup.
func (s *Store) Restore(name string, opts ...arrange.TraceOption) (*arrange.Trace, error) {
	batches, err := s.LoadBatches(name)
	if err != nil {
		return nil, err
	}
	t := arrange.NewTrace(opts...)
	if err := t.Restore(batches); err != nil {
		return nil, err
	}
	return t, nil
}

func keyPrefix(name string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('b')
	buf.WriteString(name)
	buf.WriteByte(0)
	return buf.Bytes()
}

func batchKey(name string, lower, upper ivm.Time) []byte {
	key := keyPrefix(name)
	key = binary.BigEndian.AppendUint64(key, uint64(lower))
	key = binary.BigEndian.AppendUint64(key, uint64(upper))
	return key
}

func parseKey(prefix, key []byte) (ivm.Time, ivm.Time, error) {
	rest := key[len(prefix):]
	if len(rest) != 16 {
		return 0, 0, fmt.Errorf("store: malformed batch key")
	}
	return ivm.Time(binary.BigEndian.Uint64(rest[:8])),
		ivm.Time(binary.BigEndian.Uint64(rest[8:])), nil
}
