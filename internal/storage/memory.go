package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a Store that lives in process memory. Writers are serialized;
// readers see the last committed state.
type Memory struct {
	mu      sync.RWMutex
	closed  bool
	records map[tableKey]map[string][]byte
	defs    map[DefKey][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[tableKey]map[string][]byte),
		defs:    make(map[DefKey][]byte),
	}
}

// Begin starts a transaction.
func (m *Memory) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if writable {
		m.mu.Lock()
	} else {
		m.mu.RLock()
	}
	tx := &memTx{m: m, writable: writable}
	if m.closed {
		tx.unlock()
		return nil, ErrClosed
	}
	if writable {
		tx.records = make(map[tableKey]map[string]*[]byte)
		tx.truncated = make(map[tableKey]bool)
		tx.defs = make(map[DefKey]*[]byte)
	}
	return tx, nil
}

// Versioned is false: Scan ignores the time argument.
func (m *Memory) Versioned() bool { return false }

// Close drops all data.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	m.defs = nil
	return nil
}

// memTx buffers writes in an overlay until Commit. A nil entry marks a
// deletion.
type memTx struct {
	m         *Memory
	writable  bool
	done      bool
	records   map[tableKey]map[string]*[]byte
	truncated map[tableKey]bool
	defs      map[DefKey]*[]byte
}

func (t *memTx) unlock() {
	if t.writable {
		t.m.mu.Unlock()
	} else {
		t.m.mu.RUnlock()
	}
}

func (t *memTx) check(write bool) error {
	if t.done {
		return ErrTxDone
	}
	if write && !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) lookup(tk tableKey, key string) ([]byte, bool) {
	if t.writable {
		if over, ok := t.records[tk][key]; ok {
			if over == nil {
				return nil, false
			}
			return *over, true
		}
		if t.truncated[tk] {
			return nil, false
		}
	}
	b, ok := t.m.records[tk][key]
	return b, ok
}

func (t *memTx) Get(ns, db, tb string, id any) (map[string]any, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	key, err := encodeID(id)
	if err != nil {
		return nil, false, err
	}
	b, ok := t.lookup(tableKey{ns, db, tb}, string(key))
	if !ok {
		return nil, false, nil
	}
	data, err := decodeData(b)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *memTx) Put(ns, db, tb string, id any, data map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	b, err := encodeData(data)
	if err != nil {
		return err
	}
	t.overlay(tableKey{ns, db, tb})[string(key)] = &b
	return nil
}

func (t *memTx) Delete(ns, db, tb string, id any) error {
	if err := t.check(true); err != nil {
		return err
	}
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	t.overlay(tableKey{ns, db, tb})[string(key)] = nil
	return nil
}

func (t *memTx) overlay(tk tableKey) map[string]*[]byte {
	over, ok := t.records[tk]
	if !ok {
		over = make(map[string]*[]byte)
		t.records[tk] = over
	}
	return over
}

func (t *memTx) Scan(ns, db, tb string, _ *time.Time) ([]Record, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	tk := tableKey{ns, db, tb}
	merged := make(map[string][]byte)
	if !t.writable || !t.truncated[tk] {
		for k, v := range t.m.records[tk] {
			merged[k] = v
		}
	}
	if t.writable {
		for k, v := range t.records[tk] {
			if v == nil {
				delete(merged, k)
			} else {
				merged[k] = *v
			}
		}
	}
	out := make([]Record, 0, len(merged))
	for k, v := range merged {
		id, err := decodeID([]byte(k))
		if err != nil {
			return nil, err
		}
		data, err := decodeData(v)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{ID: id, Data: data})
	}
	SortRecords(out)
	return out, nil
}

func (t *memTx) Truncate(ns, db, tb string) error {
	if err := t.check(true); err != nil {
		return err
	}
	tk := tableKey{ns, db, tb}
	t.truncated[tk] = true
	delete(t.records, tk)
	return nil
}

func (t *memTx) GetDef(key DefKey) ([]byte, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	if t.writable {
		if over, ok := t.defs[key]; ok {
			if over == nil {
				return nil, false, nil
			}
			return *over, true, nil
		}
	}
	b, ok := t.m.defs[key]
	return b, ok, nil
}

func (t *memTx) PutDef(key DefKey, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	v := append([]byte(nil), value...)
	t.defs[key] = &v
	return nil
}

func (t *memTx) DeleteDef(key DefKey) error {
	if err := t.check(true); err != nil {
		return err
	}
	t.defs[key] = nil
	return nil
}

func (t *memTx) ListDefs(kind DefKind, ns, db string) ([]Def, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	merged := make(map[string][]byte)
	for k, v := range t.m.defs {
		if k.Kind == kind && k.NS == ns && k.DB == db {
			merged[k.Name] = v
		}
	}
	if t.writable {
		for k, v := range t.defs {
			if k.Kind != kind || k.NS != ns || k.DB != db {
				continue
			}
			if v == nil {
				delete(merged, k.Name)
			} else {
				merged[k.Name] = *v
			}
		}
	}
	out := make([]Def, 0, len(merged))
	for name, v := range merged {
		out = append(out, Def{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.unlock()
	if !t.writable {
		return nil
	}
	for tk := range t.truncated {
		delete(t.m.records, tk)
	}
	for tk, over := range t.records {
		base, ok := t.m.records[tk]
		if !ok {
			base = make(map[string][]byte)
			t.m.records[tk] = base
		}
		for k, v := range over {
			if v == nil {
				delete(base, k)
			} else {
				base[k] = *v
			}
		}
	}
	for k, v := range t.defs {
		if v == nil {
			delete(t.m.defs, k)
		} else {
			t.m.defs[k] = *v
		}
	}
	return nil
}

func (t *memTx) Cancel() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.unlock()
	return nil
}
