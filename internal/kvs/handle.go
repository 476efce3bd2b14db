package kvs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/forgo/surrealembed/pkg/codec"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// notifyBuffer bounds pending live notifications. Notifications that do
// not fit are dropped and logged.
const notifyBuffer = 256

// Handle is one open engine instance with its own session. Calls are
// serialized.
type Handle struct {
	ds    *datastore
	codec *codec.Codec

	mu       sync.Mutex
	session  *Session
	released bool
	lives    map[uuid.UUID]liveQuery
	notify   chan engine.Notification
}

var (
	_ engine.Handle   = (*Handle)(nil)
	_ engine.Exporter = (*Handle)(nil)
	_ engine.Notifier = (*Handle)(nil)
)

// liveQuery is a registered live select on one table.
type liveQuery struct {
	ns, db, tb string
}

func newHandle(ds *datastore) *Handle {
	return &Handle{
		ds:      ds,
		codec:   codec.Default(),
		session: newSession(),
		lives:   make(map[uuid.UUID]liveQuery),
		notify:  make(chan engine.Notification, notifyBuffer),
	}
}

// Execute decodes a request, runs it against the session and returns the
// encoded response. Malformed payloads produce a parse error response, not
// a Go error.
func (h *Handle) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, engine.ErrHandleReleased
	}

	req, err := rpc.DecodeRequest(h.codec, payload)
	if err != nil {
		return rpc.EncodeResponse(h.codec, rpc.Response{
			Error: &rpc.Error{Code: rpc.CodeParseError, Message: fmt.Sprintf("parse error: %v", err)},
		})
	}

	res := rpc.Response{ID: req.ID}
	result, err := h.dispatch(ctx, req)
	if err != nil {
		h.ds.logger.Debug("rpc call failed",
			slog.String("method", req.Method),
			slog.Any("error", err))
		res.Error = toRPCError(err)
	} else {
		res.Result = result
	}
	return rpc.EncodeResponse(h.codec, res)
}

// Release closes the store and the notification channel. Later calls to
// Execute fail with engine.ErrHandleReleased.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if err := h.ds.store.Close(); err != nil {
		h.ds.logger.Warn("closing store", slog.Any("error", err))
	}
	clear(h.lives)
	close(h.notify)
}

// Notifications delivers live query notifications until Release.
func (h *Handle) Notifications() <-chan engine.Notification {
	return h.notify
}

// Export dumps the session's database as SurrealQL. options is the CBOR
// encoded map produced by opt.ExportOptions.Map.
func (h *Handle) Export(ctx context.Context, options []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return "", engine.ErrHandleReleased
	}
	eo := opt.DefaultExportOptions()
	if len(options) > 0 {
		v, err := h.codec.Decode(options)
		if err != nil {
			return "", err
		}
		if m, ok := v.(map[string]any); ok {
			if eo, err = opt.ExportOptionsFromMap(m); err != nil {
				return "", err
			}
		}
	}
	return h.export(ctx, eo)
}

// publish queues notifications for live queries on the written tables.
func (h *Handle) publish(changes []change) {
	for _, c := range changes {
		for id, lq := range h.lives {
			if lq.ns != c.ns || lq.db != c.db || lq.tb != c.tb {
				continue
			}
			n := engine.Notification{ID: id, Action: c.action, Result: c.record}
			select {
			case h.notify <- n:
			default:
				h.ds.logger.Warn("dropping live notification",
					slog.String("live", id.String()),
					slog.String("action", c.action))
			}
		}
	}
}

// change is one committed write, reported to live queries.
type change struct {
	ns, db, tb string
	action     string
	record     map[string]any
}

const (
	actionCreate = "CREATE"
	actionUpdate = "UPDATE"
	actionDelete = "DELETE"
)
