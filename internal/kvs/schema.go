package kvs

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/forgo/surrealembed/internal/storage"
	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/codec"
)

// Stored definitions. They are CBOR encoded into the store.
type (
	namespaceDef struct {
		Name string `cbor:"name"`
	}
	databaseDef struct {
		Name string `cbor:"name"`
	}
	tableDef struct {
		Name       string `cbor:"name"`
		Schemafull bool   `cbor:"schemafull"`
		Drop       bool   `cbor:"drop"`
	}
	userDef struct {
		Name    string        `cbor:"name"`
		Base    surql.Level   `cbor:"base"`
		Hash    string        `cbor:"hash"`
		Roles   []string      `cbor:"roles"`
		Session time.Duration `cbor:"session"`
		Token   time.Duration `cbor:"token"`
	}
	// accessDef keeps the defining statement; it is parsed again on use.
	accessDef struct {
		Name   string `cbor:"name"`
		Source string `cbor:"source"`
	}
)

func (d namespaceDef) sql() string { return "DEFINE NAMESPACE " + ident(d.Name) }
func (d databaseDef) sql() string { return "DEFINE DATABASE " + ident(d.Name) }

func (d tableDef) sql() string {
	kind := "SCHEMALESS"
	if d.Schemafull {
		kind = "SCHEMAFULL"
	}
	drop := ""
	if d.Drop {
		drop = " DROP"
	}
	return fmt.Sprintf("DEFINE TABLE %s TYPE ANY%s %s PERMISSIONS NONE", ident(d.Name), drop, kind)
}

func (d userDef) sql() string {
	roles := make([]string, len(d.Roles))
	for i, r := range d.Roles {
		roles[i] = strings.ToUpper(r)
	}
	return fmt.Sprintf("DEFINE USER %s ON %s PASSHASH %s ROLES %s DURATION FOR TOKEN %s, FOR SESSION %s",
		ident(d.Name), d.Base, surql.Literal(d.Hash), strings.Join(roles, ", "),
		durationSQL(d.Token), durationSQL(d.Session))
}

func durationSQL(d time.Duration) string {
	if d == 0 {
		return "NONE"
	}
	return surql.FormatDuration(d)
}

// ident renders a name, quoting it when it is not a plain identifier.
func ident(name string) string {
	if isFieldPath(name) && !strings.Contains(name, ".") {
		return name
	}
	return "`" + name + "`"
}

// =============================================================================
// Definition storage
// =============================================================================

func getDef[T any](tx storage.Tx, key storage.DefKey) (T, bool, error) {
	var out T
	b, ok, err := tx.GetDef(key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := codec.Default().Unmarshal(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func putDef(tx storage.Tx, key storage.DefKey, def any) error {
	b, err := codec.Default().Marshal(def)
	if err != nil {
		return err
	}
	return tx.PutDef(key, b)
}

func listDefs[T any](tx storage.Tx, kind storage.DefKind, ns, db string) ([]T, error) {
	defs, err := tx.ListDefs(kind, ns, db)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(defs))
	for _, d := range defs {
		var v T
		if err := codec.Default().Unmarshal(d.Value, &v); err != nil {
			return nil, fmt.Errorf("definition %s %q: %w", kind, d.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func nsKey(ns string) storage.DefKey { return storage.DefKey{Kind: storage.KindNamespace, Name: ns} }
func dbKey(ns, db string) storage.DefKey { return storage.DefKey{Kind: storage.KindDatabase, NS: ns, Name: db} }

func tbKey(ns, db, tb string) storage.DefKey {
	return storage.DefKey{Kind: storage.KindTable, NS: ns, DB: db, Name: tb}
}

// userKey places a user definition at its level.
func userKey(base surql.Level, ns, db, name string) storage.DefKey {
	switch base {
	case surql.LevelRoot:
		return storage.DefKey{Kind: storage.KindUser, Name: name}
	case surql.LevelNamespace:
		return storage.DefKey{Kind: storage.KindUser, NS: ns, Name: name}
	}
	return storage.DefKey{Kind: storage.KindUser, NS: ns, DB: db, Name: name}
}

func accessKey(ns, db, name string) storage.DefKey {
	return storage.DefKey{Kind: storage.KindAccess, NS: ns, DB: db, Name: name}
}

// prepare checks permissions for touching table tb and makes sure its
// namespace, database and table exist. Strict mode requires them to be
// defined; otherwise writes define them on the fly.
func (x *exec) prepare(tb string, write bool) error {
	ns, db := x.session().NS, x.session().DB
	if err := x.h.checkData(ns, db, write); err != nil {
		return err
	}
	strict := x.ds().opts.Strict
	if !strict && !write {
		return nil
	}
	steps := []struct {
		key  storage.DefKey
		kind string
		name string
		def  any
	}{
		{nsKey(ns), "namespace", ns, namespaceDef{Name: ns}},
		{dbKey(ns, db), "database", db, databaseDef{Name: db}},
		{tbKey(ns, db, tb), "table", tb, tableDef{Name: tb}},
	}
	for _, s := range steps {
		_, ok, err := x.tx.GetDef(s.key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if strict {
			return notFound(s.kind, s.name)
		}
		if err := putDef(x.tx, s.key, s.def); err != nil {
			return err
		}
	}
	return nil
}

// needSelection checks that a namespace, and for database level a
// database, is selected.
func (x *exec) needSelection(base surql.Level) error {
	switch base {
	case surql.LevelNamespace:
		if x.session().NS == "" {
			return ErrNoNamespace
		}
	case surql.LevelDatabase:
		if x.session().NS == "" {
			return ErrNoNamespace
		}
		if x.session().DB == "" {
			return ErrNoDatabase
		}
	}
	return nil
}

// scope returns the namespace and database a definition at base lives in.
func (x *exec) scope(base surql.Level) (string, string) {
	switch base {
	case surql.LevelRoot:
		return "", ""
	case surql.LevelNamespace:
		return x.session().NS, ""
	}
	return x.session().NS, x.session().DB
}

// define stores def under key, honouring IF NOT EXISTS and OVERWRITE.
func (x *exec) define(key storage.DefKey, kind string, def any, ifNotExists, overwrite bool) (any, error) {
	_, exists, err := x.tx.GetDef(key)
	if err != nil {
		return nil, err
	}
	if exists {
		switch {
		case ifNotExists:
			return nil, nil
		case !overwrite:
			return nil, alreadyExists(kind, key.Name)
		}
	}
	return nil, putDef(x.tx, key, def)
}

// =============================================================================
// DEFINE
// =============================================================================

func (x *exec) defineNamespace(s surql.DefineNamespaceStatement) (any, error) {
	if err := x.h.checkDefine("", "", roleEditor); err != nil {
		return nil, err
	}
	return x.define(nsKey(s.Name), "namespace", namespaceDef{Name: s.Name}, s.IfNotExists, s.Overwrite)
}

func (x *exec) defineDatabase(s surql.DefineDatabaseStatement) (any, error) {
	if err := x.needSelection(surql.LevelNamespace); err != nil {
		return nil, err
	}
	ns := x.session().NS
	if err := x.h.checkDefine(ns, "", roleEditor); err != nil {
		return nil, err
	}
	if err := x.implicit(nsKey(ns), "namespace", namespaceDef{Name: ns}); err != nil {
		return nil, err
	}
	return x.define(dbKey(ns, s.Name), "database", databaseDef{Name: s.Name}, s.IfNotExists, s.Overwrite)
}

func (x *exec) defineTable(s surql.DefineTableStatement) (any, error) {
	if err := x.needSelection(surql.LevelDatabase); err != nil {
		return nil, err
	}
	ns, db := x.session().NS, x.session().DB
	if err := x.h.checkDefine(ns, db, roleEditor); err != nil {
		return nil, err
	}
	if err := x.implicitParents(ns, db); err != nil {
		return nil, err
	}
	def := tableDef{Name: s.Name, Schemafull: s.Schemafull, Drop: s.Drop}
	return x.define(tbKey(ns, db, s.Name), "table", def, s.IfNotExists, s.Overwrite)
}

func (x *exec) defineUser(s surql.DefineUserStatement) (any, error) {
	if err := x.needSelection(s.Base); err != nil {
		return nil, err
	}
	ns, db := x.scope(s.Base)
	if err := x.h.checkDefine(ns, db, roleOwner); err != nil {
		return nil, err
	}
	if err := x.implicitParents(ns, db); err != nil {
		return nil, err
	}
	hash := s.Passhash
	if hash == "" {
		b, err := bcrypt.GenerateFromPassword([]byte(s.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(b)
	}
	def := userDef{
		Name:    s.Name,
		Base:    s.Base,
		Hash:    hash,
		Roles:   s.Roles,
		Session: s.Session,
		Token:   s.Token,
	}
	return x.define(userKey(s.Base, ns, db, s.Name), "user", def, s.IfNotExists, s.Overwrite)
}

func (x *exec) defineAccess(s surql.DefineAccessStatement) (any, error) {
	if err := x.needSelection(surql.LevelDatabase); err != nil {
		return nil, err
	}
	ns, db := x.session().NS, x.session().DB
	if err := x.h.checkDefine(ns, db, roleOwner); err != nil {
		return nil, err
	}
	if err := x.implicitParents(ns, db); err != nil {
		return nil, err
	}
	def := accessDef{Name: s.Name, Source: s.Source}
	return x.define(accessKey(ns, db, s.Name), "access method", def, s.IfNotExists, s.Overwrite)
}

// implicitParents defines the namespace and database of a definition when
// strict mode is off.
func (x *exec) implicitParents(ns, db string) error {
	if ns == "" {
		return nil
	}
	if err := x.implicit(nsKey(ns), "namespace", namespaceDef{Name: ns}); err != nil {
		return err
	}
	if db == "" {
		return nil
	}
	return x.implicit(dbKey(ns, db), "database", databaseDef{Name: db})
}

func (x *exec) implicit(key storage.DefKey, kind string, def any) error {
	_, ok, err := x.tx.GetDef(key)
	if err != nil || ok {
		return err
	}
	if x.ds().opts.Strict {
		return notFound(kind, key.Name)
	}
	return putDef(x.tx, key, def)
}

// =============================================================================
// REMOVE
// =============================================================================

func (x *exec) remove(s surql.RemoveStatement) (any, error) {
	var (
		key  storage.DefKey
		kind = s.Kind
		role = roleEditor
	)
	ns, db := x.session().NS, x.session().DB
	switch s.Kind {
	case "namespace":
		if err := x.h.checkDefine("", "", role); err != nil {
			return nil, err
		}
		key = nsKey(s.Name)
	case "database":
		if err := x.needSelection(surql.LevelNamespace); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, "", role); err != nil {
			return nil, err
		}
		key = dbKey(ns, s.Name)
	case "table":
		if err := x.needSelection(surql.LevelDatabase); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, db, role); err != nil {
			return nil, err
		}
		key = tbKey(ns, db, s.Name)
	case "user":
		base := s.Base
		if base == "" {
			base = surql.LevelDatabase
		}
		if err := x.needSelection(base); err != nil {
			return nil, err
		}
		uns, udb := x.scope(base)
		if err := x.h.checkDefine(uns, udb, roleOwner); err != nil {
			return nil, err
		}
		key = userKey(base, uns, udb, s.Name)
	case "access":
		if err := x.needSelection(surql.LevelDatabase); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, db, roleOwner); err != nil {
			return nil, err
		}
		kind = "access method"
		key = accessKey(ns, db, s.Name)
	default:
		return nil, fmt.Errorf("%w: REMOVE %s", ErrUnknownStatement, s.Kind)
	}

	_, exists, err := x.tx.GetDef(key)
	if err != nil {
		return nil, err
	}
	if !exists {
		if s.IfExists {
			return nil, nil
		}
		return nil, notFound(kind, s.Name)
	}
	if err := x.tx.DeleteDef(key); err != nil {
		return nil, err
	}
	switch s.Kind {
	case "namespace":
		return nil, x.purge(s.Name, "")
	case "database":
		return nil, x.purge(ns, s.Name)
	case "table":
		return nil, x.tx.Truncate(ns, db, s.Name)
	}
	return nil, nil
}

// purge drops the tables, users and access methods below a removed
// namespace or database.
func (x *exec) purge(ns, db string) error {
	dbs := []string{db}
	if db == "" {
		defs, err := x.tx.ListDefs(storage.KindDatabase, ns, "")
		if err != nil {
			return err
		}
		dbs = dbs[:0]
		for _, d := range defs {
			dbs = append(dbs, d.Name)
			if err := x.tx.DeleteDef(dbKey(ns, d.Name)); err != nil {
				return err
			}
		}
		if err := x.dropDefs(storage.KindUser, ns, ""); err != nil {
			return err
		}
	}
	for _, name := range dbs {
		tables, err := x.tx.ListDefs(storage.KindTable, ns, name)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if err := x.tx.Truncate(ns, name, t.Name); err != nil {
				return err
			}
			if err := x.tx.DeleteDef(tbKey(ns, name, t.Name)); err != nil {
				return err
			}
		}
		if err := x.dropDefs(storage.KindUser, ns, name); err != nil {
			return err
		}
		if err := x.dropDefs(storage.KindAccess, ns, name); err != nil {
			return err
		}
	}
	return nil
}

func (x *exec) dropDefs(kind storage.DefKind, ns, db string) error {
	defs, err := x.tx.ListDefs(kind, ns, db)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if err := x.tx.DeleteDef(storage.DefKey{Kind: kind, NS: ns, DB: db, Name: d.Name}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// INFO
// =============================================================================

func (x *exec) info(s surql.InfoStatement) (any, error) {
	ns, db := x.session().NS, x.session().DB
	switch s.Level {
	case surql.LevelRoot:
		if err := x.h.checkDefine("", "", roleViewer); err != nil {
			return nil, err
		}
		nss, err := listDefs[namespaceDef](x.tx, storage.KindNamespace, "", "")
		if err != nil {
			return nil, err
		}
		users, err := x.userInfo("", "")
		if err != nil {
			return nil, err
		}
		out := map[string]any{"namespaces": map[string]any{}, "users": users, "accesses": map[string]any{}, "nodes": map[string]any{}}
		for _, d := range nss {
			out["namespaces"].(map[string]any)[d.Name] = d.sql()
		}
		return out, nil
	case surql.LevelNamespace:
		if err := x.needSelection(surql.LevelNamespace); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, "", roleViewer); err != nil {
			return nil, err
		}
		dbs, err := listDefs[databaseDef](x.tx, storage.KindDatabase, ns, "")
		if err != nil {
			return nil, err
		}
		users, err := x.userInfo(ns, "")
		if err != nil {
			return nil, err
		}
		out := map[string]any{"databases": map[string]any{}, "users": users, "accesses": map[string]any{}}
		for _, d := range dbs {
			out["databases"].(map[string]any)[d.Name] = d.sql()
		}
		return out, nil
	case surql.LevelDatabase:
		if err := x.needSelection(surql.LevelDatabase); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, db, roleViewer); err != nil {
			return nil, err
		}
		tables, err := listDefs[tableDef](x.tx, storage.KindTable, ns, db)
		if err != nil {
			return nil, err
		}
		users, err := x.userInfo(ns, db)
		if err != nil {
			return nil, err
		}
		accesses, err := listDefs[accessDef](x.tx, storage.KindAccess, ns, db)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"accesses":  map[string]any{},
			"analyzers": map[string]any{},
			"functions": map[string]any{},
			"models":    map[string]any{},
			"params":    map[string]any{},
			"tables":    map[string]any{},
			"users":     users,
		}
		for _, t := range tables {
			out["tables"].(map[string]any)[t.Name] = t.sql()
		}
		for _, a := range accesses {
			out["accesses"].(map[string]any)[a.Name] = a.Source
		}
		return out, nil
	case "TABLE":
		if err := x.needSelection(surql.LevelDatabase); err != nil {
			return nil, err
		}
		if err := x.h.checkDefine(ns, db, roleViewer); err != nil {
			return nil, err
		}
		if _, ok, err := x.tx.GetDef(tbKey(ns, db, s.Table)); err != nil {
			return nil, err
		} else if !ok {
			return nil, notFound("table", s.Table)
		}
		return map[string]any{
			"events":  map[string]any{},
			"fields":  map[string]any{},
			"indexes": map[string]any{},
			"lives":   map[string]any{},
			"tables":  map[string]any{},
		}, nil
	}
	return nil, fmt.Errorf("%w: INFO FOR %s", ErrUnknownStatement, s.Level)
}

func (x *exec) userInfo(ns, db string) (map[string]any, error) {
	users, err := listDefs[userDef](x.tx, storage.KindUser, ns, db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(users))
	for _, u := range users {
		out[u.Name] = u.sql()
	}
	return out, nil
}
