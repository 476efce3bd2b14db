package kvs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgo/surrealembed/internal/storage"
	"github.com/forgo/surrealembed/internal/surql"
)

// Query result statuses.
const (
	statusOK  = "OK"
	statusErr = "ERR"
)

// exec carries the state of one statement run: the open transaction, the
// query variables and the writes to report to live queries.
type exec struct {
	h       *Handle
	ctx     context.Context
	tx      storage.Tx
	vars    map[string]any
	changes []change
}

func (x *exec) ds() *datastore { return x.h.ds }
func (x *exec) session() *Session { return x.h.session }

// env returns an evaluation environment with the current variables.
func (x *exec) env() *surql.Env {
	return &surql.Env{
		Vars:  x.vars,
		NS:    x.session().NS,
		DB:    x.session().DB,
		Allow: x.ds().functionAllowed,
		Now:   x.ds().now,
	}
}

func (x *exec) eval(e *surql.Expr) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.Eval(x.env())
}

// withTx runs fn in its own transaction, committing when fn succeeds and
// publishing its writes to live queries after the commit.
func (h *Handle) withTx(ctx context.Context, writable bool, fn func(x *exec) error) error {
	return h.withVars(ctx, writable, h.session.queryVars(nil), fn)
}

func (h *Handle) withVars(ctx context.Context, writable bool, vars map[string]any, fn func(x *exec) error) error {
	tx, err := h.ds.store.Begin(ctx, writable)
	if err != nil {
		return err
	}
	x := &exec{h: h, ctx: ctx, tx: tx, vars: vars}
	if err := fn(x); err != nil {
		_ = tx.Cancel()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	h.publish(x.changes)
	return nil
}

// single runs one statement outside a query, as the data methods do.
func (h *Handle) single(ctx context.Context, stmt surql.Statement, params map[string]any) (any, error) {
	if err := h.checkExpiry(); err != nil {
		return nil, err
	}
	var out any
	err := h.withVars(ctx, surql.Writes(stmt), h.session.queryVars(params), func(x *exec) error {
		var err error
		out, err = x.run(stmt)
		return err
	})
	return out, err
}

// query runs a SurrealQL source and returns one result entry per statement.
// Statements between BEGIN and COMMIT share a transaction and fail together.
// Outside a transaction block every statement commits on its own.
func (h *Handle) query(ctx context.Context, src string, params map[string]any) ([]any, error) {
	if err := h.checkExpiry(); err != nil {
		return nil, err
	}
	stmts, err := surql.Parse(src)
	if err != nil {
		return nil, err
	}
	if d := h.ds.opts.QueryTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	q := &queryRun{h: h, ctx: ctx, vars: h.session.queryVars(params)}
	for _, stmt := range stmts {
		q.step(stmt)
	}
	q.finish()
	return q.results, nil
}

// queryRun is the state of one query call.
type queryRun struct {
	h       *Handle
	ctx     context.Context
	vars    map[string]any
	results []any

	block *txBlock
}

// txBlock is an open BEGIN ... COMMIT block.
type txBlock struct {
	x        *exec
	first    int
	deadline time.Time
	err      error
}

func (q *queryRun) add(start time.Time, result any, err error) {
	entry := map[string]any{
		"time":   time.Since(start).String(),
		"status": statusOK,
		"result": result,
	}
	if err != nil {
		entry["status"] = statusErr
		entry["result"] = err.Error()
	}
	q.results = append(q.results, entry)
}

func (q *queryRun) step(stmt surql.Statement) {
	start := time.Now()
	if err := q.ctx.Err(); err != nil {
		err = timeoutError(err)
		if q.block != nil && q.block.err == nil {
			q.block.err = err
		}
		q.add(start, nil, err)
		return
	}

	switch stmt.(type) {
	case surql.BeginStatement:
		if q.block != nil {
			q.add(start, nil, errors.New("there is already a transaction in progress"))
			return
		}
		tx, err := q.h.ds.store.Begin(q.ctx, true)
		if err != nil {
			q.add(start, nil, err)
			return
		}
		q.block = &txBlock{
			x:     &exec{h: q.h, ctx: q.ctx, tx: tx, vars: q.vars},
			first: len(q.results),
		}
		if d := q.h.ds.opts.TransactionTimeout; d > 0 {
			q.block.deadline = start.Add(d)
		}
		return
	case surql.CommitStatement:
		if q.block == nil {
			q.add(start, nil, errors.New("there is no transaction in progress"))
			return
		}
		q.commit()
		return
	case surql.CancelStatement:
		if q.block == nil {
			q.add(start, nil, errors.New("there is no transaction in progress"))
			return
		}
		q.cancel(ErrTxCancelled)
		return
	}

	if b := q.block; b != nil {
		switch {
		case b.err != nil:
			q.add(start, nil, ErrQueryCancelled)
		case !b.deadline.IsZero() && start.After(b.deadline):
			b.err = ErrTxTimeout
			q.add(start, nil, ErrTxTimeout)
		default:
			result, err := b.x.run(stmt)
			if err != nil {
				b.err = err
			}
			q.add(start, result, err)
		}
		return
	}

	var result any
	err := q.h.withVars(q.ctx, surql.Writes(stmt), q.vars, func(x *exec) error {
		var err error
		result, err = x.run(stmt)
		return err
	})
	if err != nil {
		q.h.ds.logger.Debug("statement failed", slog.Any("error", err))
	}
	q.add(start, result, err)
}

// commit finishes the open block. A failed block is cancelled and every
// statement in it reports an error.
func (q *queryRun) commit() {
	b := q.block
	if b.err == nil && !b.deadline.IsZero() && time.Now().After(b.deadline) {
		b.err = ErrTxTimeout
	}
	if b.err != nil {
		q.cancel(nil)
		return
	}
	q.block = nil
	if err := b.x.tx.Commit(); err != nil {
		q.fail(b, err)
		return
	}
	q.h.publish(b.x.changes)
}

// cancel rolls the open block back. Entries that succeeded are replaced by
// reason, or by ErrQueryCancelled when reason is nil.
func (q *queryRun) cancel(reason error) {
	b := q.block
	q.block = nil
	if err := b.x.tx.Cancel(); err != nil {
		q.h.ds.logger.Warn("cancelling transaction", slog.Any("error", err))
	}
	if reason == nil {
		reason = ErrQueryCancelled
	}
	q.fail(b, reason)
}

func (q *queryRun) fail(b *txBlock, reason error) {
	for _, r := range q.results[b.first:] {
		entry := r.(map[string]any)
		if entry["status"] == statusOK {
			entry["status"] = statusErr
			entry["result"] = reason.Error()
		}
	}
}

// finish cancels a block left open at the end of the query.
func (q *queryRun) finish() {
	if q.block != nil {
		q.cancel(ErrTxCancelled)
	}
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrQueryTimeout
	}
	return err
}

// run executes one statement.
func (x *exec) run(stmt surql.Statement) (any, error) {
	if err := x.ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	switch s := stmt.(type) {
	case surql.UseStatement:
		return x.use(s)
	case surql.LetStatement:
		v, err := x.eval(s.Value)
		if err != nil {
			return nil, err
		}
		if protectedParams[s.Name] {
			return nil, fmt.Errorf("'%s' is a protected variable and cannot be set", s.Name)
		}
		x.vars[s.Name] = v
		return nil, nil
	case surql.ReturnStatement:
		return x.eval(s.Value)
	case surql.ExprStatement:
		return x.eval(s.Value)
	case surql.DefineNamespaceStatement:
		return x.defineNamespace(s)
	case surql.DefineDatabaseStatement:
		return x.defineDatabase(s)
	case surql.DefineTableStatement:
		return x.defineTable(s)
	case surql.DefineUserStatement:
		return x.defineUser(s)
	case surql.DefineAccessStatement:
		return x.defineAccess(s)
	case surql.RemoveStatement:
		return x.remove(s)
	case surql.InfoStatement:
		return x.info(s)
	case surql.CreateStatement:
		return x.create(s)
	case surql.InsertStatement:
		return x.insert(s)
	case surql.SelectStatement:
		return x.selectRecords(s)
	case surql.UpdateStatement:
		return x.update(s)
	case surql.DeleteStatement:
		return x.delete(s)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownStatement, stmt)
}

func (x *exec) use(s surql.UseStatement) (any, error) {
	sess := x.session()
	if s.NS != "" {
		sess.NS = s.NS
	}
	if s.DB != "" {
		sess.DB = s.DB
	}
	x.vars["session"] = sess.value()
	return nil, nil
}

// checkExpiry ends an authenticated session whose time is up.
func (h *Handle) checkExpiry() error {
	s := h.session
	if s.Auth == nil || s.Expires.IsZero() {
		return nil
	}
	if h.ds.now().After(s.Expires) {
		s.invalidate()
		return ErrSessionExpired
	}
	return nil
}

// checkData reports whether the session may read, or with write set
// modify, records in ns and db.
func (h *Handle) checkData(ns, db string, write bool) error {
	if ns == "" {
		return ErrNoNamespace
	}
	if db == "" {
		return ErrNoDatabase
	}
	a := h.session.Auth
	switch {
	case a == nil:
		if !h.ds.guestsAllowed() {
			return ErrNotAllowed
		}
		return nil
	case a.Record != nil:
		if a.NS != ns || a.DB != db {
			return ErrNotAllowed
		}
		return nil
	}
	if !a.covers(ns, db) {
		return ErrNotAllowed
	}
	if write && !a.hasRole(roleEditor) {
		return ErrNotAllowed
	}
	return nil
}

// checkDefine reports whether the session may manage definitions at the
// given level. Users and access methods need the owner role, everything else
// the editor role.
func (h *Handle) checkDefine(ns, db, role string) error {
	a := h.session.Auth
	switch {
	case a == nil:
		if !h.ds.guestsAllowed() {
			return ErrNotAllowed
		}
		return nil
	case a.Record != nil:
		return ErrNotAllowed
	}
	if !a.covers(ns, db) || !a.hasRole(role) {
		return ErrNotAllowed
	}
	return nil
}

// System user roles.
const (
	roleOwner  = "Owner"
	roleEditor = "Editor"
	roleViewer = "Viewer"
)
