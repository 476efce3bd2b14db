// Package storage persists records and schema definitions for the embedded
// engine. A Store hands out transactions; every read and write goes through
// one. Values are CBOR encoded so any backend can hold them as bytes.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/forgo/surrealembed/pkg/codec"
)

var (
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("storage: store is closed")
	// ErrTxDone is returned by a transaction after Commit or Cancel.
	ErrTxDone = errors.New("storage: transaction already finished")
	// ErrReadOnly is returned when writing through a read transaction.
	ErrReadOnly = errors.New("storage: transaction is read-only")
)

// Store is a transactional record store.
type Store interface {
	// Begin starts a transaction. Only one writable transaction is open at
	// a time; Begin blocks until the previous one finishes.
	Begin(ctx context.Context, writable bool) (Tx, error)
	// Versioned reports whether Scan honours a point in time.
	Versioned() bool
	Close() error
}

// Tx reads and writes one consistent view of a Store.
type Tx interface {
	Get(ns, db, tb string, id any) (map[string]any, bool, error)
	Put(ns, db, tb string, id any, data map[string]any) error
	Delete(ns, db, tb string, id any) error
	// Scan returns the records of a table ordered by id. A non-nil at reads
	// the table as it was at that time on versioned stores.
	Scan(ns, db, tb string, at *time.Time) ([]Record, error)
	// Truncate removes every record of a table.
	Truncate(ns, db, tb string) error

	GetDef(key DefKey) ([]byte, bool, error)
	PutDef(key DefKey, value []byte) error
	DeleteDef(key DefKey) error
	ListDefs(kind DefKind, ns, db string) ([]Def, error)

	Commit() error
	Cancel() error
}

// Record is one stored row.
type Record struct {
	ID   any
	Data map[string]any
}

// DefKind names a kind of schema definition.
type DefKind string

const (
	KindNamespace DefKind = "ns"
	KindDatabase  DefKind = "db"
	KindTable     DefKind = "tb"
	KindUser      DefKind = "user"
	KindAccess    DefKind = "access"
)

// DefKey locates a definition. NS and DB are empty for definitions above
// their level.
type DefKey struct {
	Kind DefKind
	NS   string
	DB   string
	Name string
}

// Def is a definition returned by ListDefs.
type Def struct {
	Name  string
	Value []byte
}

type tableKey struct {
	ns, db, tb string
}

func encodeID(id any) ([]byte, error) {
	b, err := codec.Default().Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("storage: encode id: %w", err)
	}
	return b, nil
}

func decodeID(b []byte) (any, error) {
	return codec.Default().Decode(b)
}

func encodeData(data map[string]any) ([]byte, error) {
	b, err := codec.Default().Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("storage: encode record: %w", err)
	}
	return b, nil
}

func decodeData(b []byte) (map[string]any, error) {
	v, err := codec.Default().Decode(b)
	if err != nil {
		return nil, fmt.Errorf("storage: decode record: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("storage: record is %T, not an object", v)
	}
	return m, nil
}

// SortRecords orders records by id: numbers first, then strings, then any
// other key by its encoded form.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return CompareIDs(records[i].ID, records[j].ID) < 0
	})
}

// CompareIDs orders two record ids.
func CompareIDs(a, b any) int {
	ra, rb := idRank(a), idRank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	ea, _ := encodeID(a)
	eb, _ := encodeID(b)
	return bytes.Compare(ea, eb)
}

func idRank(v any) int {
	switch v.(type) {
	case int64:
		return 0
	case float64:
		return 1
	case string:
		return 2
	}
	return 3
}
