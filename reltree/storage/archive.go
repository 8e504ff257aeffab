// Package storage persists relation stores and learned models in a
// Badger database so that facts are parsed once and models can be
// applied later.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

// ErrNotFound is returned for a model name the archive does not hold.
var ErrNotFound = errors.New("not found")

// Key prefixes. Fact keys end in a big-endian sequence number so a prefix
// scan returns the tuples of a relation in insertion order.
const (
	schemaPrefix = "r/"
	factPrefix   = "f/"
	modelPrefix  = "m/"
)

func schemaKey(name string) []byte { return []byte(schemaPrefix + name) }

func factRelationPrefix(name string) []byte { return []byte(factPrefix + name + "/") }

func factKey(name string, seq uint64) []byte {
	key := factRelationPrefix(name)
	return binary.BigEndian.AppendUint64(key, seq)
}

func modelKey(name string) []byte { return []byte(modelPrefix + name) }

type schemaRecord struct {
	Order int      `json:"order"`
	Types []string `json:"types"`
}

type modelRecord struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Archive is a Badger-backed store of relations and models.
type Archive struct {
	db *badger.DB
}

// Open opens or creates the archive in dir.
func Open(dir string) (*Archive, error) {
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens an archive that lives only as long as the process.
func OpenInMemory() (*Archive, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Archive, error) {
	opts.Logger = nil
	opts.ValueThreshold = 1 << 10 // keep facts in the LSM tree

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	return a.db.Close()
}

// PutStore writes every relation of s. Relations already in the archive
// are replaced; others are kept.
func (a *Archive) PutStore(s *relation.Store) error {
	existing, err := a.schemas()
	if err != nil {
		return err
	}
	next := len(existing)
	for _, r := range s.Relations() {
		if err := a.db.DropPrefix(factRelationPrefix(r.Name())); err != nil {
			return fmt.Errorf("failed to drop facts of %s: %w", r.Name(), err)
		}
		order := next
		if old, ok := existing[r.Name()]; ok {
			order = old.Order
		} else {
			next++
		}
		if err := a.putRelation(r, order); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) putRelation(r *relation.Relation, order int) error {
	types := make([]string, len(r.Types()))
	for i, t := range r.Types() {
		types[i] = string(t)
	}
	schema, err := json.Marshal(schemaRecord{Order: order, Types: types})
	if err != nil {
		return err
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	if err := wb.Set(schemaKey(r.Name()), schema); err != nil {
		return fmt.Errorf("failed to write schema of %s: %w", r.Name(), err)
	}
	for i, t := range r.Tuples() {
		args := make([]string, len(t))
		for j, v := range t {
			args[j] = reltree.FormatValue(v)
		}
		value, err := json.Marshal(args)
		if err != nil {
			return err
		}
		if err := wb.Set(factKey(r.Name(), uint64(i)), value); err != nil {
			return fmt.Errorf("failed to write fact of %s: %w", r.Name(), err)
		}
	}
	return wb.Flush()
}

func (a *Archive) schemas() (map[string]schemaRecord, error) {
	out := make(map[string]schemaRecord)
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(schemaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), schemaPrefix)
			var rec schemaRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("schema of %s: %w", name, err)
			}
			out[name] = rec
		}
		return nil
	})
	return out, err
}

// Relations returns the archived relation names in the order they were
// first written.
func (a *Archive) Relations() ([]string, error) {
	schemas, err := a.schemas()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return schemas[names[i]].Order < schemas[names[j]].Order
	})
	return names, nil
}

// LoadStore rebuilds a relation store from the archive and returns it
// with the number of facts read.
func (a *Archive) LoadStore() (*relation.Store, int, error) {
	schemas, err := a.schemas()
	if err != nil {
		return nil, 0, err
	}
	names, err := a.Relations()
	if err != nil {
		return nil, 0, err
	}
	s := relation.NewStore()
	facts := 0
	for _, name := range names {
		types := make([]reltree.Type, len(schemas[name].Types))
		for i, t := range schemas[name].Types {
			types[i] = reltree.Type(t)
		}
		r, err := s.Declare(name, types)
		if err != nil {
			return nil, 0, err
		}
		n, err := a.loadFacts(r)
		if err != nil {
			return nil, 0, err
		}
		facts += n
	}
	return s, facts, nil
}

func (a *Archive) loadFacts(r *relation.Relation) (int, error) {
	types := r.Types()
	n := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = factRelationPrefix(r.Name())
		opts.PrefetchSize = 1000
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var args []string
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &args)
			}); err != nil {
				return fmt.Errorf("fact of %s: %w", r.Name(), err)
			}
			if len(args) != len(types) {
				return fmt.Errorf("%w: archived fact of %s has %d arguments", relation.ErrArity, r.Name(), len(args))
			}
			t := make(reltree.Tuple, len(args))
			for i, raw := range args {
				v, err := reltree.ParseValue(raw, types[i])
				if err != nil {
					return fmt.Errorf("%w: archived fact of %s: %v", relation.ErrType, r.Name(), err)
				}
				t[i] = v
			}
			if _, err := r.AddTuple(t); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// PutModel stores a model under name, replacing any model of that name.
// kind tells readers how to decode it.
func (a *Archive) PutModel(name, kind string, model json.Marshaler) error {
	data, err := model.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode model %s: %w", name, err)
	}
	value, err := json.Marshal(modelRecord{Kind: kind, Data: data})
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(modelKey(name), value)
	})
}

// Model returns the kind and encoding of the named model.
func (a *Archive) Model(name string) (string, []byte, error) {
	var rec modelRecord
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil, fmt.Errorf("model %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", nil, err
	}
	return rec.Kind, rec.Data, nil
}

// Models returns the stored model names, sorted.
func (a *Archive) Models() ([]string, error) {
	var names []string
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(modelPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), modelPrefix))
		}
		return nil
	})
	return names, err
}

// DeleteModel removes the named model.
func (a *Archive) DeleteModel(name string) error {
	if _, _, err := a.Model(name); err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(modelKey(name))
	})
}
