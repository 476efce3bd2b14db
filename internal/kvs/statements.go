package kvs

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/models"
)

// thing is one resolved statement target: a table, a record or, for
// SELECT, a plain value.
type thing struct {
	tb      string
	id      any
	hasID   bool
	value   any
	isValue bool
}

func (t thing) String() string {
	switch {
	case t.isValue:
		return surql.Literal(t.value)
	case t.hasID:
		return models.NewRecordID(t.tb, t.id).String()
	}
	return t.tb
}

// things resolves a target. Expression targets may yield tables, record ids,
// table names as strings or arrays of those.
func (x *exec) things(t surql.Target) ([]thing, error) {
	if t.Expr == nil {
		if t.Count > 0 {
			out := make([]thing, t.Count)
			for i := range out {
				out[i] = thing{tb: t.Table}
			}
			return out, nil
		}
		return []thing{{tb: t.Table, id: t.ID, hasID: t.HasID}}, nil
	}
	v, err := x.eval(t.Expr)
	if err != nil {
		return nil, err
	}
	return thingsOf(v), nil
}

func thingsOf(v any) []thing {
	switch t := v.(type) {
	case models.RecordID:
		return []thing{{tb: t.Table, id: t.ID, hasID: true}}
	case models.Table:
		return []thing{{tb: string(t)}}
	case string:
		return []thing{{tb: t}}
	case []any:
		var out []thing
		for _, item := range t {
			out = append(out, thingsOf(item)...)
		}
		return out
	}
	return []thing{{value: v, isValue: true}}
}

// recordKey turns an id generator into a concrete key.
func (x *exec) recordKey(id any) (any, error) {
	g, ok := id.(surql.IDGenerator)
	if !ok {
		return id, nil
	}
	switch g {
	case "uuid":
		u, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		return models.UUID{UUID: u}, nil
	case "ulid":
		return newULID(x.ds().now(), entropy)
	}
	return randomKey(), nil
}

// writable rejects targets a write statement cannot act on.
func writable(verb string, th thing) error {
	if th.isValue {
		return fmt.Errorf("can not execute %s statement using value: %s", verb, th)
	}
	if th.tb == "" {
		return fmt.Errorf("can not execute %s statement without a table", verb)
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

func (x *exec) create(s surql.CreateStatement) (any, error) {
	things, err := x.things(s.Target)
	if err != nil {
		return nil, err
	}
	ret := returnOr(s.Return, surql.ReturnAfter)
	out := []any{}
	for _, th := range things {
		if err := writable("CREATE", th); err != nil {
			return nil, err
		}
		if err := x.prepare(th.tb, true); err != nil {
			return nil, err
		}
		doc, err := x.applyData(s.Data, map[string]any{})
		if err != nil {
			return nil, err
		}
		key, err := x.newKey(th, doc)
		if err != nil {
			return nil, err
		}
		after, err := x.insertRecord(th.tb, key, doc)
		if err != nil {
			return nil, err
		}
		if v, ok := output(ret, nil, after); ok {
			out = append(out, v)
		}
	}
	if s.Only {
		return only(out)
	}
	return out, nil
}

// newKey picks the key of a new record: the target's id, then an id field
// in the content, then a random key.
func (x *exec) newKey(th thing, doc map[string]any) (any, error) {
	if th.hasID {
		return x.recordKey(th.id)
	}
	switch id := doc["id"].(type) {
	case nil:
		return randomKey(), nil
	case models.RecordID:
		if id.Table != th.tb {
			return nil, fmt.Errorf("found %s for the id field, but a specific record has been specified", id)
		}
		return id.ID, nil
	default:
		return id, nil
	}
}

// insertRecord stores a new record and fails if the key is taken.
func (x *exec) insertRecord(tb string, key any, doc map[string]any) (map[string]any, error) {
	ns, db := x.session().NS, x.session().DB
	rid := models.NewRecordID(tb, key)
	if _, exists, err := x.tx.Get(ns, db, tb, key); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("database record `%s` %w", rid, ErrAlreadyExists)
	}
	doc["id"] = rid
	if err := x.tx.Put(ns, db, tb, key, doc); err != nil {
		return nil, err
	}
	x.changed(tb, actionCreate, doc)
	return doc, nil
}

func (x *exec) changed(tb, action string, doc map[string]any) {
	x.changes = append(x.changes, change{
		ns:     x.session().NS,
		db:     x.session().DB,
		tb:     tb,
		action: action,
		record: cloneDoc(doc),
	})
}

// =============================================================================
// INSERT
// =============================================================================

func (x *exec) insert(s surql.InsertStatement) (any, error) {
	if err := x.prepare(s.Table, true); err != nil {
		return nil, err
	}
	var rows []map[string]any
	if s.Value != nil {
		v, err := x.eval(s.Value)
		if err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case map[string]any:
			rows = append(rows, t)
		case []any:
			for _, item := range t {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("can not execute INSERT statement using value: %s", surql.Literal(item))
				}
				rows = append(rows, m)
			}
		default:
			return nil, fmt.Errorf("can not execute INSERT statement using value: %s", surql.Literal(v))
		}
	}
	for _, exprs := range s.Rows {
		row := map[string]any{}
		for i, e := range exprs {
			v, err := x.eval(e)
			if err != nil {
				return nil, err
			}
			surql.SetField(row, s.Fields[i], v)
		}
		rows = append(rows, row)
	}

	ns, db := x.session().NS, x.session().DB
	out := []any{}
	for _, row := range rows {
		doc := cloneDoc(row)
		key, err := x.newKey(thing{tb: s.Table}, doc)
		if err != nil {
			return nil, err
		}
		if s.Ignore {
			if _, exists, err := x.tx.Get(ns, db, s.Table, key); err != nil {
				return nil, err
			} else if exists {
				continue
			}
		}
		after, err := x.insertRecord(s.Table, key, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, after)
	}
	return out, nil
}

// =============================================================================
// SELECT
// =============================================================================

// selected pairs a projected row with the record it came from.
type selected struct {
	src map[string]any
	out any
}

func (x *exec) selectRecords(s surql.SelectStatement) (any, error) {
	at, err := x.version(s.Version)
	if err != nil {
		return nil, err
	}

	var sources []any
	for _, t := range s.From {
		things, err := x.things(t)
		if err != nil {
			return nil, err
		}
		for _, th := range things {
			if th.isValue {
				sources = append(sources, th.value)
				continue
			}
			docs, err := x.fetch(th, at)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				sources = append(sources, d)
			}
		}
	}

	base := x.env()
	if s.Where != nil {
		kept := sources[:0]
		for _, src := range sources {
			doc, _ := src.(map[string]any)
			v, err := s.Where.Eval(base.With(doc))
			if err != nil {
				return nil, err
			}
			if surql.Truthy(v) {
				kept = append(kept, src)
			}
		}
		sources = kept
	}

	var rows []selected
	if s.GroupAll {
		group := *base
		for _, src := range sources {
			if doc, ok := src.(map[string]any); ok {
				group.Group = append(group.Group, doc)
			}
		}
		if group.Group == nil {
			group.Group = []map[string]any{}
		}
		out, err := project(s, &group, nil)
		if err != nil {
			return nil, err
		}
		rows = append(rows, selected{out: out})
	} else {
		for _, src := range sources {
			doc, _ := src.(map[string]any)
			out, err := project(s, base.With(doc), src)
			if err != nil {
				return nil, err
			}
			rows = append(rows, selected{src: doc, out: out})
		}
	}

	if len(s.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range s.OrderBy {
				c := surql.Compare(rows[i].field(o.Field), rows[j].field(o.Field))
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if s.Start != nil {
		n, err := x.count("START", s.Start)
		if err != nil {
			return nil, err
		}
		rows = rows[min(n, len(rows)):]
	}
	if s.Limit != nil {
		n, err := x.count("LIMIT", s.Limit)
		if err != nil {
			return nil, err
		}
		rows = rows[:min(n, len(rows))]
	}

	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.out
	}
	if s.Only {
		return only(out)
	}
	return out, nil
}

// field reads an ORDER BY field from the projected row, falling back to the
// source record.
func (r selected) field(path string) any {
	if m, ok := r.out.(map[string]any); ok {
		if v := surql.GetField(m, path); v != nil {
			return v
		}
	}
	if r.src != nil {
		return surql.GetField(r.src, path)
	}
	return nil
}

func project(s surql.SelectStatement, env *surql.Env, src any) (any, error) {
	if s.Value != nil {
		return s.Value.Eval(env)
	}
	doc, isDoc := src.(map[string]any)
	if !isDoc && len(s.Fields) == 1 && s.Fields[0].All && src != nil {
		return src, nil
	}
	out := map[string]any{}
	for _, f := range s.Fields {
		if f.All {
			maps.Copy(out, cloneDoc(doc))
			continue
		}
		v, err := f.Expr.Eval(env)
		if err != nil {
			return nil, err
		}
		key := f.Alias
		if key == "" {
			key = f.Expr.Src
		}
		if isFieldPath(key) {
			surql.SetField(out, key, v)
		} else if v != nil {
			out[key] = v
		}
	}
	return out, nil
}

// isFieldPath reports whether s is a dotted list of plain identifiers.
func isFieldPath(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// version evaluates a VERSION clause.
func (x *exec) version(e *surql.Expr) (*time.Time, error) {
	if e == nil {
		return nil, nil
	}
	if !x.ds().store.Versioned() {
		return nil, ErrVersionless
	}
	v, err := x.eval(e)
	if err != nil {
		return nil, err
	}
	dt, ok := v.(models.Datetime)
	if !ok {
		return nil, fmt.Errorf("VERSION expects a datetime, got %s", surql.Literal(v))
	}
	at := dt.Time
	return &at, nil
}

func (x *exec) count(clause string, e *surql.Expr) (int, error) {
	v, err := x.eval(e)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		if n >= 0 {
			return int(n), nil
		}
	case float64:
		if n >= 0 {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%s expects a positive integer, got %s", clause, surql.Literal(v))
}

// fetch reads the records a target names. Missing records and tables read
// as empty.
func (x *exec) fetch(th thing, at *time.Time) ([]map[string]any, error) {
	if th.tb == "" {
		return nil, nil
	}
	if err := x.prepare(th.tb, false); err != nil {
		return nil, err
	}
	ns, db := x.session().NS, x.session().DB
	if th.hasID {
		if _, ok := th.id.(surql.IDGenerator); ok {
			return nil, fmt.Errorf("can not read a generated record id: %s", th.tb)
		}
		if at != nil {
			records, err := x.tx.Scan(ns, db, th.tb, at)
			if err != nil {
				return nil, err
			}
			for _, r := range records {
				if surql.Compare(r.ID, th.id) == 0 {
					return []map[string]any{r.Data}, nil
				}
			}
			return nil, nil
		}
		doc, ok, err := x.tx.Get(ns, db, th.tb, th.id)
		if err != nil || !ok {
			return nil, err
		}
		return []map[string]any{doc}, nil
	}
	records, err := x.tx.Scan(ns, db, th.tb, at)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = r.Data
	}
	return out, nil
}

// =============================================================================
// UPDATE and UPSERT
// =============================================================================

func (x *exec) update(s surql.UpdateStatement) (any, error) {
	verb := "UPDATE"
	if s.Upsert {
		verb = "UPSERT"
	}
	things, err := x.things(s.Target)
	if err != nil {
		return nil, err
	}
	ret := returnOr(s.Return, surql.ReturnAfter)
	out := []any{}
	emit := func(before, after map[string]any) {
		if v, ok := output(ret, before, after); ok {
			out = append(out, v)
		}
	}

	for _, th := range things {
		if err := writable(verb, th); err != nil {
			return nil, err
		}
		if err := x.prepare(th.tb, true); err != nil {
			return nil, err
		}
		if th.hasID {
			key, err := x.recordKey(th.id)
			if err != nil {
				return nil, err
			}
			before, exists, err := x.tx.Get(x.session().NS, x.session().DB, th.tb, key)
			if err != nil {
				return nil, err
			}
			if !exists {
				if !s.Upsert {
					continue
				}
				before = nil
			} else if ok, err := x.matches(s.Where, before); err != nil {
				return nil, err
			} else if !ok {
				continue
			}
			after, err := x.updateRecord(th.tb, key, before, s.Data)
			if err != nil {
				return nil, err
			}
			emit(before, after)
			continue
		}

		docs, err := x.fetch(th, nil)
		if err != nil {
			return nil, err
		}
		matched := 0
		for _, before := range docs {
			ok, err := x.matches(s.Where, before)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			matched++
			rid, _ := before["id"].(models.RecordID)
			after, err := x.updateRecord(th.tb, rid.ID, before, s.Data)
			if err != nil {
				return nil, err
			}
			emit(before, after)
		}
		if matched == 0 && s.Upsert {
			after, err := x.updateRecord(th.tb, nil, nil, s.Data)
			if err != nil {
				return nil, err
			}
			emit(nil, after)
		}
	}
	if s.Only {
		return only(out)
	}
	return out, nil
}

func (x *exec) matches(where *surql.Expr, doc map[string]any) (bool, error) {
	if where == nil {
		return true, nil
	}
	v, err := where.Eval(x.env().With(doc))
	if err != nil {
		return false, err
	}
	return surql.Truthy(v), nil
}

// updateRecord applies data to before and stores the result. A nil before
// creates the record; a nil key then picks one.
func (x *exec) updateRecord(tb string, key any, before map[string]any, data surql.Data) (map[string]any, error) {
	base := cloneDoc(before)
	if base == nil {
		base = map[string]any{}
	}
	if key != nil {
		base["id"] = models.NewRecordID(tb, key)
	}
	after, err := x.applyData(data, base)
	if err != nil {
		return nil, err
	}
	if before == nil {
		if key == nil {
			if key, err = x.newKey(thing{tb: tb}, after); err != nil {
				return nil, err
			}
		}
		delete(after, "id")
		return x.insertRecord(tb, key, after)
	}
	after["id"] = models.NewRecordID(tb, key)
	if err := x.tx.Put(x.session().NS, x.session().DB, tb, key, after); err != nil {
		return nil, err
	}
	x.changed(tb, actionUpdate, after)
	return after, nil
}

// applyData applies a CONTENT, REPLACE, MERGE or SET clause to doc and
// returns the new document.
func (x *exec) applyData(d surql.Data, doc map[string]any) (map[string]any, error) {
	switch d.Kind {
	case surql.DataNone:
		return doc, nil
	case surql.DataContent, surql.DataReplace:
		v, err := d.Value.Eval(x.env().With(doc))
		if err != nil {
			return nil, err
		}
		content, err := object("CONTENT", v)
		if err != nil {
			return nil, err
		}
		out := cloneDoc(content)
		if id, ok := doc["id"]; ok {
			out["id"] = id
		}
		return out, nil
	case surql.DataMerge:
		v, err := d.Value.Eval(x.env().With(doc))
		if err != nil {
			return nil, err
		}
		patch, err := object("MERGE", v)
		if err != nil {
			return nil, err
		}
		out := cloneDoc(doc)
		merge(out, patch)
		return out, nil
	case surql.DataSet:
		out := cloneDoc(doc)
		for _, a := range d.Sets {
			v, err := a.Value.Eval(x.env().With(out))
			if err != nil {
				return nil, err
			}
			cur := surql.GetField(out, a.Field)
			switch a.Op {
			case "+=":
				v, err = increment(cur, v)
			case "-=":
				v, err = decrement(cur, v)
			}
			if err != nil {
				return nil, fmt.Errorf("SET %s %s: %w", a.Field, a.Op, err)
			}
			surql.SetField(out, a.Field, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: data clause %d", ErrUnknownStatement, d.Kind)
}

func object(clause string, v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	}
	return nil, fmt.Errorf("%s expects an object, got %s", clause, surql.Literal(v))
}

// merge writes patch into dst, recursing into nested objects. NONE values
// remove fields.
func merge(dst, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, pm)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}

// =============================================================================
// DELETE
// =============================================================================

func (x *exec) delete(s surql.DeleteStatement) (any, error) {
	things, err := x.things(s.Target)
	if err != nil {
		return nil, err
	}
	ret := returnOr(s.Return, surql.ReturnNone)
	ns, db := x.session().NS, x.session().DB
	out := []any{}
	for _, th := range things {
		if err := writable("DELETE", th); err != nil {
			return nil, err
		}
		if err := x.prepare(th.tb, true); err != nil {
			return nil, err
		}
		docs, err := x.fetch(th, nil)
		if err != nil {
			return nil, err
		}
		for _, before := range docs {
			ok, err := x.matches(s.Where, before)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			rid, _ := before["id"].(models.RecordID)
			if err := x.tx.Delete(ns, db, th.tb, rid.ID); err != nil {
				return nil, err
			}
			x.changed(th.tb, actionDelete, before)
			if v, ok := output(ret, before, nil); ok {
				out = append(out, v)
			}
		}
	}
	if s.Only {
		return only(out)
	}
	return out, nil
}

// =============================================================================
// Results
// =============================================================================

func returnOr(k, def surql.ReturnKind) surql.ReturnKind {
	if k == surql.ReturnDefault {
		return def
	}
	return k
}

// output picks what a write statement returns for one record.
func output(ret surql.ReturnKind, before, after map[string]any) (any, bool) {
	switch ret {
	case surql.ReturnNone:
		return nil, false
	case surql.ReturnBefore:
		return orNone(before), true
	case surql.ReturnDiff:
		return diff(before, after), true
	}
	return orNone(after), true
}

func orNone(doc map[string]any) any {
	if doc == nil {
		return nil
	}
	return doc
}

func only(results []any) (any, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return nil, ErrSingleResult
}

// diff describes the change from before to after as JSON Patch operations
// on top-level fields.
func diff(before, after map[string]any) []any {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	ops := []any{}
	for _, k := range names {
		b, inBefore := before[k]
		a, inAfter := after[k]
		path := "/" + k
		switch {
		case !inBefore:
			ops = append(ops, map[string]any{"op": "add", "path": path, "value": a})
		case !inAfter:
			ops = append(ops, map[string]any{"op": "remove", "path": path})
		case surql.Compare(a, b) != 0:
			ops = append(ops, map[string]any{"op": "replace", "path": path, "value": a})
		}
	}
	return ops
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
