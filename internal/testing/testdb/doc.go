// Package testdb provides isolated databases for tests.
//
// Each TestDB runs on its own in-memory embedded engine, so tests need no
// server and never see each other's data.
//
// # Test Database Setup
//
// Create a test database for each test:
//
//	func TestSomething(t *testing.T) {
//	    tdb := testdb.New(t)
//	    tdb.MustExec("CREATE person:1 SET name = 'a'", nil)
//	}
//
// # Seeds
//
// Statements passed with WithSeed run once the database is connected:
//
//	tdb := testdb.New(t, testdb.WithSeed("DEFINE TABLE person"))
//
// # Engine Options
//
// Strict mode, timeouts and capabilities are set with WithOptions; a file
// backed store with WithURL:
//
//	tdb := testdb.New(t,
//	    testdb.WithOptions(opt.Options{Strict: true}),
//	    testdb.WithURL("surrealkv://"+filepath.Join(t.TempDir(), "db")))
//
// # Shared Database
//
// For subtests that share definitions:
//
//	tdb := testdb.NewShared(t)
//	t.Run("create", func(t *testing.T) { db := tdb.SetupSubtest(t); ... })
package testdb
