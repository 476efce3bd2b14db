package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - records, defs and meta tables
const currentSchemaVersion = 1

// SQLite is a single-file Store. A versioned SQLite store keeps every write
// as a new row so tables can be read as of an earlier time.
type SQLite struct {
	db        *sql.DB
	versioned bool

	// clock hands out strictly increasing version stamps.
	clockMu sync.Mutex
	last    int64
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens a database file at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// A file created as versioned must always be opened as versioned.
func OpenSQLite(path string, versioned bool) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := checkMode(db, versioned); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db, versioned: versioned}
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM records").Scan(&s.last); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read version clock: %w", err)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// checkMode records the versioning mode on first open and rejects a later
// open with the other mode.
func checkMode(db *sql.DB, versioned bool) error {
	want := "plain"
	if versioned {
		want = "versioned"
	}
	var got string
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'mode'").Scan(&got)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.Exec("INSERT INTO meta (key, value) VALUES ('mode', ?)", want)
		return err
	case err != nil:
		return fmt.Errorf("failed to read storage mode: %w", err)
	case got != want:
		return fmt.Errorf("storage: file was created %s, cannot open it %s", got, want)
	}
	return nil
}

// Versioned reports whether writes are kept as history.
func (s *SQLite) Versioned() bool { return s.versioned }

// Close closes the database file.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin starts a transaction.
func (s *SQLite) Begin(ctx context.Context, writable bool) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if err.Error() == "sql: database is closed" {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	return &sqliteTx{s: s, tx: tx, writable: writable}, nil
}

func (s *SQLite) nextVersion() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	v := time.Now().UnixNano()
	if v <= s.last {
		v = s.last + 1
	}
	s.last = v
	return v
}

type sqliteTx struct {
	s        *SQLite
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *sqliteTx) check(write bool) error {
	if t.done {
		return ErrTxDone
	}
	if write && !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *sqliteTx) Get(ns, db, tb string, id any) (map[string]any, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	key, err := encodeID(id)
	if err != nil {
		return nil, false, err
	}
	var (
		data    []byte
		deleted bool
	)
	err = t.tx.QueryRow(`
		SELECT data, deleted FROM records
		WHERE ns = ? AND db = ? AND tb = ? AND id = ?
		ORDER BY version DESC LIMIT 1`, ns, db, tb, key).Scan(&data, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get: %w", err)
	}
	if deleted {
		return nil, false, nil
	}
	m, err := decodeData(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (t *sqliteTx) Put(ns, db, tb string, id any, data map[string]any) error {
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
	return t.write(ns, db, tb, key, b, false)
}

func (t *sqliteTx) Delete(ns, db, tb string, id any) error {
	if err := t.check(true); err != nil {
		return err
	}
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	if !t.s.versioned {
		_, err = t.tx.Exec(`DELETE FROM records WHERE ns = ? AND db = ? AND tb = ? AND id = ?`, ns, db, tb, key)
		if err != nil {
			return fmt.Errorf("storage: delete: %w", err)
		}
		return nil
	}
	return t.write(ns, db, tb, key, nil, true)
}

func (t *sqliteTx) write(ns, db, tb string, key, data []byte, deleted bool) error {
	var version int64
	if t.s.versioned {
		version = t.s.nextVersion()
	}
	_, err := t.tx.Exec(`
		INSERT OR REPLACE INTO records (ns, db, tb, id, version, data, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, ns, db, tb, key, version, data, deleted)
	if err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return nil
}

func (t *sqliteTx) Scan(ns, db, tb string, at *time.Time) ([]Record, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	limit := int64(math.MaxInt64)
	if at != nil && t.s.versioned {
		limit = at.UnixNano()
	}
	rows, err := t.tx.Query(`
		SELECT r.id, r.data FROM records r
		WHERE r.ns = ? AND r.db = ? AND r.tb = ? AND r.deleted = 0
		AND r.version = (
			SELECT MAX(v.version) FROM records v
			WHERE v.ns = r.ns AND v.db = r.db AND v.tb = r.tb AND v.id = r.id AND v.version <= ?
		)`, ns, db, tb, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: scan: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var key, data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		id, err := decodeID(key)
		if err != nil {
			return nil, err
		}
		m, err := decodeData(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{ID: id, Data: m})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan rows: %w", err)
	}
	SortRecords(out)
	return out, nil
}

func (t *sqliteTx) Truncate(ns, db, tb string) error {
	if err := t.check(true); err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM records WHERE ns = ? AND db = ? AND tb = ?`, ns, db, tb); err != nil {
		return fmt.Errorf("storage: truncate: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetDef(key DefKey) ([]byte, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	var value []byte
	err := t.tx.QueryRow(`SELECT value FROM defs WHERE kind = ? AND ns = ? AND db = ? AND name = ?`,
		string(key.Kind), key.NS, key.DB, key.Name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get definition: %w", err)
	}
	return value, true, nil
}

func (t *sqliteTx) PutDef(key DefKey, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	_, err := t.tx.Exec(`INSERT OR REPLACE INTO defs (kind, ns, db, name, value) VALUES (?, ?, ?, ?, ?)`,
		string(key.Kind), key.NS, key.DB, key.Name, value)
	if err != nil {
		return fmt.Errorf("storage: put definition: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteDef(key DefKey) error {
	if err := t.check(true); err != nil {
		return err
	}
	_, err := t.tx.Exec(`DELETE FROM defs WHERE kind = ? AND ns = ? AND db = ? AND name = ?`,
		string(key.Kind), key.NS, key.DB, key.Name)
	if err != nil {
		return fmt.Errorf("storage: delete definition: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListDefs(kind DefKind, ns, db string) ([]Def, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(`SELECT name, value FROM defs WHERE kind = ? AND ns = ? AND db = ? ORDER BY name`,
		string(kind), ns, db)
	if err != nil {
		return nil, fmt.Errorf("storage: list definitions: %w", err)
	}
	defer rows.Close()

	var out []Def
	for rows.Next() {
		var d Def
		if err := rows.Scan(&d.Name, &d.Value); err != nil {
			return nil, fmt.Errorf("storage: list definitions row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Cancel() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("storage: rollback: %w", err)
	}
	return nil
}
