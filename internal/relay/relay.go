// Package relay is a native engine that forwards rpc calls to a networked
// SurrealDB server through surrealdb.go. It lets the Embedded adapter serve
// ws, wss, http and https URLs with the same session mirroring it does for
// in-process stores.
//
// Only the session methods and query are relayed. Everything else answers
// method not found.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/surrealdb/surrealdb.go"

	"github.com/forgo/surrealembed/pkg/codec"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// Version is reported by Native.Version. The server's own version is
// available through the version method.
const Version = "surrealdb.go-relay"

// ErrDial is returned by Connect when the server cannot be reached.
var ErrDial = errors.New("relay connect failed")

// Config configures a relay Native.
type Config struct {
	Logger *slog.Logger
	// Dial opens the remote connection. Defaults to surrealdb.go.
	Dial func(ctx context.Context, endpoint string) (Conn, error)
}

// Native opens relay handles.
type Native struct {
	logger *slog.Logger
	dial   func(ctx context.Context, endpoint string) (Conn, error)
}

var _ engine.Native = (*Native)(nil)

// New returns a relay Native.
func New(cfg Config) *Native {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = Dial
	}
	return &Native{logger: cfg.Logger, dial: cfg.Dial}
}

// Version returns the relay version.
func (n *Native) Version() string {
	return Version
}

// Connect dials endpoint. Options are enforced by the server, not locally.
func (n *Native) Connect(ctx context.Context, endpoint string, _ opt.Options) (engine.Handle, error) {
	conn, err := n.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	n.logger.Debug("relay connected", slog.String("endpoint", endpoint))
	return &Handle{conn: conn, codec: codec.Default(), logger: n.logger}, nil
}

// Handle relays one connection.
type Handle struct {
	conn   Conn
	codec  *codec.Codec
	logger *slog.Logger

	mu       sync.Mutex
	released bool
	// ns and db are the last selection, kept for partial use calls.
	ns, db string
}

var _ engine.Handle = (*Handle)(nil)

// Execute decodes payload, forwards it and encodes the answer.
func (h *Handle) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, engine.ErrHandleReleased
	}

	req, err := rpc.DecodeRequest(h.codec, payload)
	if err != nil {
		return rpc.EncodeResponse(h.codec, rpc.Response{
			Error: &rpc.Error{Code: rpc.CodeParseError, Message: err.Error()},
		})
	}
	res := rpc.Response{ID: req.ID}
	res.Result, res.Error = h.dispatch(ctx, req)
	if res.Error != nil {
		h.logger.Debug("relayed call failed",
			slog.String("method", req.Method),
			slog.String("error", res.Error.Message))
	}
	return rpc.EncodeResponse(h.codec, res)
}

// Release closes the remote connection.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if err := h.conn.Close(context.Background()); err != nil {
		h.logger.Warn("relay close failed", slog.Any("error", err))
	}
}

func (h *Handle) dispatch(ctx context.Context, req rpc.Request) (any, *rpc.Error) {
	switch req.Method {
	case rpc.MethodPing:
		return nil, thrown(h.conn.Ping(ctx))
	case rpc.MethodVersion:
		v, err := h.conn.Version(ctx)
		return v, thrown(err)
	case rpc.MethodUse:
		ns, ok1 := optString(req.Param(0), h.ns)
		db, ok2 := optString(req.Param(1), h.db)
		if !ok1 || !ok2 {
			return nil, invalidParams("use expects strings")
		}
		if err := h.conn.Use(ctx, ns, db); err != nil {
			return nil, thrown(err)
		}
		h.ns, h.db = ns, db
		return nil, nil
	case rpc.MethodSignin:
		creds, ok := req.Param(0).(map[string]any)
		if !ok {
			return nil, invalidParams("signin expects an object")
		}
		token, err := h.conn.SignIn(ctx, signinAuth(creds))
		if err != nil {
			return nil, thrown(err)
		}
		return token, nil
	case rpc.MethodAuthenticate:
		token, ok := req.Param(0).(string)
		if !ok {
			return nil, invalidParams("authenticate expects a token")
		}
		return nil, thrown(h.conn.Authenticate(ctx, token))
	case rpc.MethodInvalidate:
		return nil, thrown(h.conn.Invalidate(ctx))
	case rpc.MethodLet, rpc.MethodSet:
		name, ok := req.Param(0).(string)
		if !ok || name == "" {
			return nil, invalidParams("%s expects a parameter name", req.Method)
		}
		return nil, thrown(h.conn.Let(ctx, name, req.Param(1)))
	case rpc.MethodUnset:
		name, ok := req.Param(0).(string)
		if !ok || name == "" {
			return nil, invalidParams("unset expects a parameter name")
		}
		return nil, thrown(h.conn.Unset(ctx, name))
	case rpc.MethodQuery:
		src, ok := req.Param(0).(string)
		if !ok {
			return nil, invalidParams("query expects a string")
		}
		vars, ok := req.Param(1).(map[string]any)
		if !ok && req.Param(1) != nil {
			return nil, invalidParams("query variables must be an object")
		}
		out, err := h.conn.Query(ctx, src, vars)
		if err != nil {
			return nil, thrown(err)
		}
		return out, nil
	}
	return nil, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

// signinAuth maps signin credentials onto surrealdb.go's Auth. Keys follow
// the rpc protocol's short and long spellings.
func signinAuth(creds map[string]any) *surrealdb.Auth {
	auth := &surrealdb.Auth{}
	for k, v := range creds {
		s, _ := v.(string)
		switch k {
		case "ns", "NS", "namespace":
			auth.Namespace = s
		case "db", "DB", "database":
			auth.Database = s
		case "user", "username":
			auth.Username = s
		case "pass", "password":
			auth.Password = s
		}
	}
	return auth
}

// optString reads a use parameter. Nil keeps cur.
func optString(v any, cur string) (string, bool) {
	if v == nil {
		return cur, true
	}
	s, ok := v.(string)
	return s, ok
}

func thrown(err error) *rpc.Error {
	if err == nil {
		return nil
	}
	return &rpc.Error{Code: rpc.CodeThrown, Message: err.Error()}
}

func invalidParams(format string, args ...any) *rpc.Error {
	return &rpc.Error{Code: rpc.CodeInvalidParams, Message: "invalid params: " + fmt.Sprintf(format, args...)}
}
