package relay

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"

	"github.com/forgo/surrealembed/pkg/codec"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// ============================================================================
// Fake connection
// ============================================================================

type fakeConn struct {
	calls  []string
	ns, db string
	auth   *surrealdb.Auth
	vars   map[string]any
	err    error
	closed bool
}

func (f *fakeConn) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeConn) Ping(context.Context) error { return f.record("ping") }

func (f *fakeConn) Version(context.Context) (string, error) {
	return "surrealdb-2.1.0", f.record("version")
}

func (f *fakeConn) Use(_ context.Context, ns, db string) error {
	f.ns, f.db = ns, db
	return f.record("use")
}

func (f *fakeConn) SignIn(_ context.Context, auth *surrealdb.Auth) (string, error) {
	f.auth = auth
	return "token", f.record("signin")
}

func (f *fakeConn) Authenticate(context.Context, string) error { return f.record("authenticate") }

func (f *fakeConn) Invalidate(context.Context) error { return f.record("invalidate") }

func (f *fakeConn) Let(_ context.Context, name string, value any) error {
	if f.vars == nil {
		f.vars = map[string]any{}
	}
	f.vars[name] = value
	return f.record("let")
}

func (f *fakeConn) Unset(_ context.Context, name string) error {
	delete(f.vars, name)
	return f.record("unset")
}

func (f *fakeConn) Query(_ context.Context, src string, _ map[string]any) ([]any, error) {
	return []any{map[string]any{"status": "OK", "result": src}}, f.record("query")
}

func (f *fakeConn) Close(context.Context) error {
	f.closed = true
	return nil
}

// ============================================================================
// Test Helpers
// ============================================================================

func connect(t *testing.T, conn *fakeConn) engine.Handle {
	t.Helper()
	n := New(Config{Dial: func(context.Context, string) (Conn, error) { return conn, nil }})
	h, err := n.Connect(context.Background(), "ws://localhost:8000", opt.Options{})
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func call(t *testing.T, h engine.Handle, method string, params ...any) *rpc.Response {
	t.Helper()
	c := codec.Default()
	payload, err := rpc.EncodeRequest(c, rpc.Request{ID: "7", Method: method, Params: params})
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), payload)
	require.NoError(t, err)
	res, err := rpc.DecodeResponse(c, out)
	require.NoError(t, err)
	return res
}

// ============================================================================
// Tests
// ============================================================================

func TestNative_Connect_DialError(t *testing.T) {
	t.Parallel()

	n := New(Config{Dial: func(context.Context, string) (Conn, error) {
		return nil, errors.New("refused")
	}})
	_, err := n.Connect(context.Background(), "ws://nowhere", opt.Options{})
	require.ErrorIs(t, err, ErrDial)
	assert.Equal(t, Version, n.Version())
}

func TestHandle_Use_Partial(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	h := connect(t, conn)
	require.Nil(t, call(t, h, rpc.MethodUse, "ns", "db").Error)
	require.Nil(t, call(t, h, rpc.MethodUse, nil, "other").Error)
	assert.Equal(t, "ns", conn.ns)
	assert.Equal(t, "other", conn.db)

	res := call(t, h, rpc.MethodUse, int64(1))
	require.NotNil(t, res.Error)
	assert.Equal(t, int64(rpc.CodeInvalidParams), res.Error.Code)
}

func TestHandle_Signin(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	h := connect(t, conn)
	res := call(t, h, rpc.MethodSignin, map[string]any{"user": "root", "pass": "root", "ns": "test"})
	require.Nil(t, res.Error)
	assert.Equal(t, "token", res.Result)
	assert.Equal(t, "root", conn.auth.Username)
	assert.Equal(t, "root", conn.auth.Password)
	assert.Equal(t, "test", conn.auth.Namespace)
}

func TestHandle_LetQuery(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	h := connect(t, conn)
	require.Nil(t, call(t, h, rpc.MethodLet, "x", int64(1)).Error)
	assert.Equal(t, int64(1), conn.vars["x"])
	require.Nil(t, call(t, h, rpc.MethodUnset, "x").Error)
	assert.NotContains(t, conn.vars, "x")

	res := call(t, h, rpc.MethodQuery, "RETURN 1")
	require.Nil(t, res.Error)
	assert.Equal(t, []any{map[string]any{"status": "OK", "result": "RETURN 1"}}, res.Result)
}

func TestHandle_RemoteError(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{err: errors.New("boom")}
	h := connect(t, conn)
	res := call(t, h, rpc.MethodPing)
	require.NotNil(t, res.Error)
	assert.Equal(t, int64(rpc.CodeThrown), res.Error.Code)
	assert.Equal(t, "boom", res.Error.Message)
}

func TestHandle_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	h := connect(t, conn)
	for _, m := range []string{rpc.MethodSelect, rpc.MethodLive, "nope"} {
		res := call(t, h, m, "person")
		require.NotNil(t, res.Error, m)
		assert.Equal(t, int64(rpc.CodeMethodNotFound), res.Error.Code, m)
	}
	assert.Empty(t, conn.calls)
}

func TestHandle_Garbage(t *testing.T) {
	t.Parallel()

	h := connect(t, &fakeConn{})
	out, err := h.Execute(context.Background(), []byte("not cbor"))
	require.NoError(t, err)
	res, err := rpc.DecodeResponse(codec.Default(), out)
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, int64(rpc.CodeParseError), res.Error.Code)
}

func TestHandle_Release(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	n := New(Config{Dial: func(context.Context, string) (Conn, error) { return conn, nil }})
	h, err := n.Connect(context.Background(), "ws://localhost:8000", opt.Options{})
	require.NoError(t, err)
	h.Release()
	h.Release()
	assert.True(t, conn.closed)

	_, err = h.Execute(context.Background(), nil)
	require.ErrorIs(t, err, engine.ErrHandleReleased)
}

func TestEmbedded_OverRelay(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	native := New(Config{Dial: func(context.Context, string) (Conn, error) { return conn, nil }})
	e := engine.RemoteEngines(native)[engine.SchemeWS]()
	u := mustURL(t, "ws://localhost:8000/rpc")
	require.NoError(t, e.Connect(context.Background(), u))
	t.Cleanup(func() { _ = e.Disconnect(context.Background()) })

	res, err := e.RPC(context.Background(), rpc.Request{Method: rpc.MethodSignin, Params: []any{map[string]any{"user": "root", "pass": "root"}}})
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, "token", e.Connection().Token)
}
