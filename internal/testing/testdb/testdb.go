package testdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/forgo/surrealembed/internal/database"
	"github.com/forgo/surrealembed/internal/kvs"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/opt"
)

// TestDB provides an isolated database environment for testing.
type TestDB struct {
	DB        *database.Client
	Namespace string
	Database  string
	t         *testing.T
}

var (
	counterMu sync.Mutex
	counter   int64
)

// Option adjusts how a TestDB is built.
type Option func(*settings)

type settings struct {
	opts  opt.Options
	url   string
	seeds []string
}

// WithOptions sets the engine options.
func WithOptions(o opt.Options) Option {
	return func(s *settings) { s.opts = o }
}

// WithURL opens the engine at url instead of mem://, for example a
// surrealkv:// file under t.TempDir().
func WithURL(url string) Option {
	return func(s *settings) { s.url = url }
}

// WithSeed runs the given statements after connecting.
func WithSeed(statements ...string) Option {
	return func(s *settings) { s.seeds = append(s.seeds, statements...) }
}

// uniqueNamespace generates a unique namespace for test isolation
func uniqueNamespace() string {
	counterMu.Lock()
	defer counterMu.Unlock()
	counter++
	return fmt.Sprintf("test_%d_%d", time.Now().UnixNano(), counter)
}

// New creates a new isolated test database with any seeds applied. The
// database is closed when the test ends.
func New(t *testing.T, options ...Option) *TestDB {
	t.Helper()

	s := settings{url: "mem://"}
	for _, o := range options {
		o(&s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	namespace := uniqueNamespace()
	dbName := "test"
	engines := engine.EmbeddedEngines(kvs.New(kvs.Config{}), s.opts)
	db := database.NewClient(database.Config{
		URL:       s.url,
		Namespace: namespace,
		Database:  dbName,
	}, engines)
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("testdb: failed to connect: %v", err)
	}

	tdb := &TestDB{
		DB:        db,
		Namespace: namespace,
		Database:  dbName,
		t:         t,
	}
	t.Cleanup(tdb.Close)

	for i, seed := range s.seeds {
		if err := db.Execute(ctx, seed, nil); err != nil {
			t.Fatalf("testdb: seed %d failed: %v", i+1, err)
		}
	}
	return tdb
}

// Close disconnects the engine. It is safe to call more than once.
func (tdb *TestDB) Close() {
	if tdb.DB == nil {
		return
	}
	_ = tdb.DB.Close()
}

// Reset clears all data from tables while preserving definitions.
func (tdb *TestDB) Reset(t *testing.T) {
	t.Helper()

	info, err := tdb.DB.QueryOne(tdb.Ctx(), "INFO FOR DB", nil)
	if err != nil {
		t.Fatalf("testdb: failed to get db info: %v", err)
	}
	result, _ := info.(map[string]any)
	tables, _ := result["tables"].(map[string]any)
	for tableName := range tables {
		if err := tdb.DB.Execute(tdb.Ctx(), "DELETE type::table($tb)", map[string]any{"tb": tableName}); err != nil {
			t.Logf("testdb: warning - failed to clear table %s: %v", tableName, err)
		}
	}
}

// Ctx returns a context with a reasonable timeout for test operations.
func (tdb *TestDB) Ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	tdb.t.Cleanup(cancel)
	return ctx
}

// MustExec executes a query and fails the test on error.
func (tdb *TestDB) MustExec(query string, vars map[string]any) {
	tdb.t.Helper()
	if err := tdb.DB.Execute(tdb.Ctx(), query, vars); err != nil {
		tdb.t.Fatalf("testdb: exec failed: %v\nQuery: %s", err, query)
	}
}

// MustQuery executes a query and returns results, failing the test on error.
func (tdb *TestDB) MustQuery(query string, vars map[string]any) []any {
	tdb.t.Helper()
	results, err := tdb.DB.Query(tdb.Ctx(), query, vars)
	if err != nil {
		tdb.t.Fatalf("testdb: query failed: %v\nQuery: %s", err, query)
	}
	return results
}

// Shared creates a TestDB that can be shared across subtests.
// It provides a SetupSubtest method for per-subtest isolation.
type Shared struct {
	*TestDB
}

// NewShared creates a shared test database for use across multiple subtests.
func NewShared(t *testing.T, options ...Option) *Shared {
	return &Shared{TestDB: New(t, options...)}
}

// SetupSubtest resets the database and returns the TestDB for use in a subtest.
// Call this at the start of each t.Run() block.
func (s *Shared) SetupSubtest(t *testing.T) *TestDB {
	t.Helper()
	s.TestDB.t = t
	s.TestDB.Reset(t)
	return s.TestDB
}
