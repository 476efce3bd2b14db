package database

// Grouped writes. TxBuilder, AtomicBatch and UnitOfWork collect statements
// and send them as one BEGIN ... COMMIT query, which the engine runs under a
// single storage transaction: a failing statement cancels every write before
// it. Nothing reaches the engine until the group is executed.
//
// MultiStepOperation is the exception. Each step is its own call, and on
// failure the completed steps' rollbacks run newest first.

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// paramRef matches a $name parameter reference.
var paramRef = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// TxBuilder joins statements into one transaction query. Each statement's
// variables are prefixed per statement ($email becomes $v1_email), so two
// statements may bind the same name. The zero value is ready to use.
type TxBuilder struct {
	statements []string
	vars       map[string]any
	varCounter uint64
}

// NewTxBuilder returns an empty builder.
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{}
}

// Add appends query with its variables renamed and returns the renames,
// keyed by the name the caller used.
func (tb *TxBuilder) Add(query string, vars map[string]any) map[string]string {
	if tb.vars == nil {
		tb.vars = make(map[string]any)
	}
	tb.varCounter++
	prefix := fmt.Sprintf("v%d_", tb.varCounter)

	varMapping := make(map[string]string, len(vars))
	for varName, varValue := range vars {
		newVarName := prefix + varName
		tb.vars[newVarName] = varValue
		varMapping[varName] = newVarName
	}

	newQuery := paramRef.ReplaceAllStringFunc(query, func(ref string) string {
		if renamed, ok := varMapping[ref[1:]]; ok {
			return "$" + renamed
		}
		return ref
	})
	tb.statements = append(tb.statements, newQuery)
	return varMapping
}

// AddRaw appends query as is.
func (tb *TxBuilder) AddRaw(query string) {
	tb.statements = append(tb.statements, query)
}

// Len returns the number of statements added.
func (tb *TxBuilder) Len() int {
	return len(tb.statements)
}

// Build returns the BEGIN ... COMMIT query and the merged variables. It
// returns an empty query when nothing was added.
func (tb *TxBuilder) Build() (string, map[string]any) {
	if len(tb.statements) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")
	for _, stmt := range tb.statements {
		sb.WriteString(stmt)
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			sb.WriteString(";")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("COMMIT TRANSACTION;")

	return sb.String(), tb.vars
}

// ExecuteTransaction sends the built query to db. An empty builder is a no-op.
func ExecuteTransaction(ctx context.Context, db Database, tb *TxBuilder) ([]any, error) {
	query, vars := tb.Build()
	if query == "" {
		return nil, nil
	}
	return db.Query(ctx, query, vars)
}

// UnitOfWork is a transaction with compensating handlers for work done
// outside the engine.
type UnitOfWork struct {
	db       Database
	builder  *TxBuilder
	rollback func(ctx context.Context) error
	logger   *slog.Logger
}

func NewUnitOfWork(db Database) *UnitOfWork {
	return &UnitOfWork{
		db:      db,
		builder: NewTxBuilder(),
		logger:  slog.Default(),
	}
}

func (uow *UnitOfWork) Add(query string, vars map[string]any) {
	uow.builder.Add(query, vars)
}

// AddWithRollback adds a statement with a custom rollback handler.
// Handlers run newest first if Commit fails.
func (uow *UnitOfWork) AddWithRollback(query string, vars map[string]any, rollback func(ctx context.Context) error) {
	uow.builder.Add(query, vars)
	if rollback == nil {
		return
	}
	prev := uow.rollback
	uow.rollback = func(ctx context.Context) error {
		err := rollback(ctx)
		if prev != nil {
			if prevErr := prev(ctx); prevErr != nil {
				uow.logger.Warn("rollback failed", slog.Any("error", prevErr))
			}
		}
		return err
	}
}

// Commit sends the transaction. When it fails the rollback handlers run and
// the query error is returned.
func (uow *UnitOfWork) Commit(ctx context.Context) error {
	_, err := ExecuteTransaction(ctx, uow.db, uow.builder)
	if err != nil {
		if uow.rollback != nil {
			if rbErr := uow.rollback(ctx); rbErr != nil {
				uow.logger.Warn("rollback failed", slog.Any("error", rbErr))
			}
		}
		return err
	}
	return nil
}

// MultiStepOperation runs steps in order. The first failing step stops the
// run, and the steps before it are rolled back in reverse.
type MultiStepOperation struct {
	db     Database
	steps  []multiStep
	logger *slog.Logger
}

type multiStep struct {
	name     string
	execute  func(ctx context.Context, db Database) error
	rollback func(ctx context.Context, db Database) error
}

func NewMultiStepOperation(db Database) *MultiStepOperation {
	return &MultiStepOperation{
		db:     db,
		logger: slog.Default(),
	}
}

// AddStep appends a step. rollback may be nil.
func (mso *MultiStepOperation) AddStep(name string, execute func(ctx context.Context, db Database) error, rollback func(ctx context.Context, db Database) error) {
	mso.steps = append(mso.steps, multiStep{
		name:     name,
		execute:  execute,
		rollback: rollback,
	})
}

func (mso *MultiStepOperation) Execute(ctx context.Context) error {
	for i, step := range mso.steps {
		if err := step.execute(ctx, mso.db); err != nil {
			for j := i - 1; j >= 0; j-- {
				done := mso.steps[j]
				if done.rollback == nil {
					continue
				}
				if rbErr := done.rollback(ctx, mso.db); rbErr != nil {
					mso.logger.Warn("rollback failed",
						slog.String("step", done.name),
						slog.Any("error", rbErr))
				}
			}
			return fmt.Errorf("step %s failed: %w", step.name, err)
		}
	}
	return nil
}

// AtomicBatch is a TxBuilder with a chaining Add.
type AtomicBatch struct {
	builder TxBuilder
}

func NewAtomicBatch() *AtomicBatch {
	return &AtomicBatch{}
}

func (ab *AtomicBatch) Add(query string, vars map[string]any) *AtomicBatch {
	ab.builder.Add(query, vars)
	return ab
}

// Execute sends the batch as one transaction.
func (ab *AtomicBatch) Execute(ctx context.Context, db Database) error {
	_, err := ExecuteTransaction(ctx, db, &ab.builder)
	return err
}

func (ab *AtomicBatch) Len() int {
	return ab.builder.Len()
}
