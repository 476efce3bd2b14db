package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/models"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// Client implements Database over an engine picked by URL scheme.
type Client struct {
	cfg     Config
	engines engine.Engines
	logger  *slog.Logger

	mu  sync.Mutex
	eng engine.Engine
}

var _ Database = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client. Nothing is opened until Connect.
func NewClient(cfg Config, engines engine.Engines, options ...Option) *Client {
	c := &Client{cfg: cfg, engines: engines, logger: slog.Default()}
	for _, o := range options {
		o(c)
	}
	return c
}

// Connect builds the engine for the configured URL ("memory" is short for
// mem://), connects it, signs in when credentials are set and selects the
// namespace and database.
func (c *Client) Connect(ctx context.Context) error {
	raw := c.cfg.URL
	if raw == "memory" {
		raw = "mem://"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	ctor, err := c.engines.Lookup(u.Scheme)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	eng := ctor()
	if err := eng.Connect(ctx, u); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	c.mu.Lock()
	c.eng = eng
	c.mu.Unlock()

	if c.cfg.User != "" {
		if _, err := c.SignIn(ctx, map[string]any{"user": c.cfg.User, "pass": c.cfg.Password}); err != nil {
			_ = c.Close()
			return fmt.Errorf("%w: signin failed: %v", ErrConnection, err)
		}
	}
	if c.cfg.Namespace != "" || c.cfg.Database != "" {
		if err := c.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
			_ = c.Close()
			return fmt.Errorf("%w: use failed: %v", ErrConnection, err)
		}
	}
	c.logger.Debug("database connected", slog.String("scheme", u.Scheme))
	return nil
}

// Close disconnects the engine.
func (c *Client) Close() error {
	c.mu.Lock()
	eng := c.eng
	c.eng = nil
	c.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Disconnect(context.Background())
}

// Engine returns the connected engine, or nil.
func (c *Client) Engine() engine.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng
}

// Status reports the engine status.
func (c *Client) Status() engine.Status {
	if eng := c.Engine(); eng != nil {
		return eng.Status()
	}
	return engine.Disconnected
}

// call sends one rpc. Engine-reported failures wrap ErrQuery and the
// *rpc.Error; failures below the protocol wrap ErrConnection.
func (c *Client) call(ctx context.Context, method string, params ...any) (any, error) {
	eng := c.Engine()
	if eng == nil {
		return nil, ErrConnection
	}
	res, err := eng.RPC(ctx, rpc.Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if res.Error != nil {
		if res.Error.Code == rpc.CodeTransport {
			return nil, fmt.Errorf("%w: %w", ErrConnection, res.Error)
		}
		return nil, fmt.Errorf("%w: %w", ErrQuery, res.Error)
	}
	return res.Result, nil
}

// Ping checks the engine answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, rpc.MethodPing)
	return err
}

// Version returns the engine's reported version.
func (c *Client) Version(ctx context.Context) (string, error) {
	v, err := c.call(ctx, rpc.MethodVersion)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Use selects a namespace and database. Empty strings keep the current
// selection.
func (c *Client) Use(ctx context.Context, ns, db string) error {
	_, err := c.call(ctx, rpc.MethodUse, optional(ns), optional(db))
	return err
}

// SignIn signs in and returns the session token.
func (c *Client) SignIn(ctx context.Context, creds map[string]any) (string, error) {
	return c.token(ctx, rpc.MethodSignin, creds)
}

// SignUp signs up a record user through an access method and returns the
// session token.
func (c *Client) SignUp(ctx context.Context, creds map[string]any) (string, error) {
	return c.token(ctx, rpc.MethodSignup, creds)
}

func (c *Client) token(ctx context.Context, method string, creds map[string]any) (string, error) {
	v, err := c.call(ctx, method, creds)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Authenticate installs a token on the session.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	_, err := c.call(ctx, rpc.MethodAuthenticate, token)
	return err
}

// Invalidate drops the session's authentication.
func (c *Client) Invalidate(ctx context.Context) error {
	_, err := c.call(ctx, rpc.MethodInvalidate)
	return err
}

// Let sets a session parameter.
func (c *Client) Let(ctx context.Context, name string, value any) error {
	_, err := c.call(ctx, rpc.MethodLet, name, value)
	return err
}

// Unset removes a session parameter.
func (c *Client) Unset(ctx context.Context, name string) error {
	_, err := c.call(ctx, rpc.MethodUnset, name)
	return err
}

// Select returns the records of a table or a single record.
func (c *Client) Select(ctx context.Context, what any) ([]any, error) {
	return c.records(ctx, rpc.MethodSelect, what)
}

// Create creates a record with data as its content.
func (c *Client) Create(ctx context.Context, what any, data map[string]any) ([]any, error) {
	return c.records(ctx, rpc.MethodCreate, what, data)
}

// Merge merges data into existing records.
func (c *Client) Merge(ctx context.Context, what any, data map[string]any) ([]any, error) {
	return c.records(ctx, rpc.MethodMerge, what, data)
}

// Delete removes records and returns them.
func (c *Client) Delete(ctx context.Context, what any) ([]any, error) {
	return c.records(ctx, rpc.MethodDelete, what)
}

func (c *Client) records(ctx context.Context, method string, params ...any) ([]any, error) {
	v, err := c.call(ctx, method, params...)
	if err != nil {
		return nil, duplicate(err)
	}
	out, _ := v.([]any)
	return out, nil
}

// Live registers a live query on table and delivers its notifications to
// fn. The returned function kills the query.
func (c *Client) Live(ctx context.Context, table string, fn engine.LiveListener) (func(context.Context) error, error) {
	eng := c.Engine()
	if eng == nil {
		return nil, ErrConnection
	}
	v, err := c.call(ctx, rpc.MethodLive, table)
	if err != nil {
		return nil, err
	}
	id, ok := v.(models.UUID)
	if !ok {
		return nil, fmt.Errorf("%w: live returned %T", ErrQuery, v)
	}
	unsubscribe := eng.Emitter().SubscribeLive(id.UUID, fn)
	return func(ctx context.Context) error {
		unsubscribe()
		_, err := c.call(ctx, rpc.MethodKill, id)
		return err
	}, nil
}

// Export dumps the selected database as SurrealQL.
func (c *Client) Export(ctx context.Context, opts opt.ExportOptions) (string, error) {
	eng := c.Engine()
	if eng == nil {
		return "", ErrConnection
	}
	out, err := eng.Export(ctx, opts)
	if err != nil {
		if errors.Is(err, engine.ErrConnectionUnavailable) {
			return "", fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return out, nil
}

// Query executes a query and returns results
func (c *Client) Query(ctx context.Context, query string, vars map[string]any) ([]any, error) {
	params := []any{query}
	if vars != nil {
		params = append(params, vars)
	}
	v, err := c.call(ctx, rpc.MethodQuery, params...)
	if err != nil {
		return nil, err
	}
	entries, _ := v.([]any)

	output := make([]any, 0, len(entries))
	failed := ""
	for _, e := range entries {
		r, _ := e.(map[string]any)
		if status, _ := r["status"].(string); status != "OK" {
			// Statements cancelled by a failed transaction only echo the
			// failure; keep the statement that caused it.
			msg, _ := r["result"].(string)
			if failed == "" || strings.Contains(failed, "was not executed") {
				failed = msg
			}
			continue
		}
		output = append(output, map[string]any{
			"status": r["status"],
			"result": r["result"],
		})
	}
	if failed != "" {
		return nil, duplicate(fmt.Errorf("%w: %s", ErrQuery, failed))
	}
	return output, nil
}

// QueryOne executes a query and returns a single result
func (c *Client) QueryOne(ctx context.Context, query string, vars map[string]any) (any, error) {
	results, err := c.Query(ctx, query, vars)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	// Unwrap the response wrapper {status: "OK", result: [...]}
	resp := results[0].(map[string]any)
	if resultData, ok := resp["result"].([]any); ok {
		if len(resultData) == 0 {
			return nil, ErrNotFound
		}
		return resultData[0], nil
	}
	// Result is not an array, return as-is (e.g., scalar values)
	return resp["result"], nil
}

// Execute runs a query without returning results
func (c *Client) Execute(ctx context.Context, query string, vars map[string]any) error {
	_, err := c.Query(ctx, query, vars)
	return err
}

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (Transaction, error) {
	if c.Engine() == nil {
		return nil, ErrConnection
	}
	return &batchTx{db: c, ctx: ctx}, nil
}

// batchTx accumulates statements and runs them in one BEGIN/COMMIT block.
type batchTx struct {
	db        Database
	ctx       context.Context
	builder   TxBuilder
	committed bool
}

func (t *batchTx) Query(_ context.Context, query string, vars map[string]any) ([]any, error) {
	t.builder.Add(query, vars)
	return nil, nil
}

func (t *batchTx) QueryOne(_ context.Context, query string, vars map[string]any) (any, error) {
	t.builder.Add(query, vars)
	return nil, nil
}

func (t *batchTx) Execute(_ context.Context, query string, vars map[string]any) error {
	t.builder.Add(query, vars)
	return nil
}

func (t *batchTx) Commit() error {
	if t.committed {
		return nil
	}
	if _, err := ExecuteTransaction(t.ctx, t.db, &t.builder); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	t.committed = true
	return nil
}

func (t *batchTx) Rollback() error {
	// Clear pending statements
	t.builder = TxBuilder{}
	return nil
}

// UnmarshalResult extracts a T from a Query or QueryOne result.
func UnmarshalResult[T any](result any) (T, error) {
	var zero T

	// Query returns a list of response wrappers
	if results, ok := result.([]any); ok {
		if len(results) == 0 {
			return zero, ErrNotFound
		}
		result = results[0]
	}

	// Handle the {status, result} wrapper
	if resp, ok := result.(map[string]any); ok {
		if status, ok := resp["status"].(string); ok && status == "OK" {
			if resultData, ok := resp["result"]; ok {
				result = resultData
			}
		}
	}

	// Handle array of results
	if arr, ok := result.([]any); ok {
		if len(arr) == 0 {
			return zero, ErrNotFound
		}
		result = arr[0]
	}

	if typed, ok := result.(T); ok {
		return typed, nil
	}
	return zero, fmt.Errorf("failed to unmarshal result to type %T", zero)
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// duplicate rewraps "already exists" failures as ErrDuplicate.
func duplicate(err error) error {
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
