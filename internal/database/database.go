// Package database is the driver-side client for surrealembed engines.
//
// A Client picks an engine from its URL scheme through an engine.Engines
// table, so the same code talks to an in-process store (mem://,
// surrealkv://) or a relayed server (ws://, http://).
//
// # Interface Design
//
// The Database interface provides three query methods:
//   - Query: Returns one {status, result} entry per statement
//   - QueryOne: Returns the first record of the first statement
//   - Execute: No return value (for CREATE/UPDATE/DELETE mutations)
//
// # Transaction Support
//
// IMPORTANT: Transactions in this package are BATCH-BASED, not connection-level.
// When you call BeginTx(), queries are accumulated in memory until Commit() is called.
// At commit time, all queries are wrapped in BEGIN TRANSACTION / COMMIT TRANSACTION
// and executed atomically. This means:
//   - No isolation between Add() calls until Commit()
//   - Rollback() simply discards accumulated queries (nothing to undo)
//   - All queries succeed or fail together at commit time
//
// For most use cases, prefer AtomicBatch over BeginTx() for clarity.
// See transaction.go for advanced transaction utilities.
//
// # Error Handling
//
// Standard errors are defined for common failure cases:
//   - ErrNotFound: Record does not exist
//   - ErrDuplicate: Record id already taken
//   - ErrConnection: No engine, or the engine failed below the protocol
//   - ErrQuery: Query execution failures
//
// Use errors.Is() to check error types:
//
//	if errors.Is(err, database.ErrNotFound) {
//	    // Handle missing record
//	}
//
// # Usage Example
//
//	engines := engine.EmbeddedEngines(kvs.New(kvs.Config{}), opt.Options{})
//	db := database.NewClient(database.Config{URL: "mem://", Namespace: "app", Database: "main"}, engines)
//	if err := db.Connect(ctx); err != nil { ... }
//	defer db.Close()
//
//	result, err := db.QueryOne(ctx, "SELECT * FROM user WHERE id = $id", map[string]any{"id": userID})
package database

import (
	"context"
	"errors"
)

// Standard errors for database operations.
// Use errors.Is() to check these error types in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a record with the same id already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrConnection indicates a failure to connect to or communicate with the engine.
	ErrConnection = errors.New("database connection error")

	// ErrQuery indicates a query execution failure (syntax error, permissions, etc.).
	ErrQuery = errors.New("query error")
)

// Database defines the interface for database operations
type Database interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Query executes a query and returns results
	Query(ctx context.Context, query string, vars map[string]any) ([]any, error)

	// QueryOne executes a query and returns a single result
	QueryOne(ctx context.Context, query string, vars map[string]any) (any, error)

	// Execute runs a query without returning results (for mutations)
	Execute(ctx context.Context, query string, vars map[string]any) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	Query(ctx context.Context, query string, vars map[string]any) ([]any, error)
	QueryOne(ctx context.Context, query string, vars map[string]any) (any, error)
	Execute(ctx context.Context, query string, vars map[string]any) error
	Commit() error
	Rollback() error
}

// Config holds the engine URL and the session to open on connect
type Config struct {
	URL       string
	Namespace string
	Database  string
	// User and Password sign in as a root user when set.
	User     string
	Password string
}
