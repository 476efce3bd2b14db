// Package engine adapts a locally embedded database engine to the request and
// response protocol a driver uses for networked engines.
//
// The Embedded adapter owns one native handle. It mirrors the session
// (namespace, database, token) the driver would otherwise learn from a
// server, reports status transitions through an Emitter and translates
// native failures into protocol errors.
package engine

import (
	"context"
	"net/url"

	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// Engine is what a driver talks to, regardless of transport.
type Engine interface {
	Connect(ctx context.Context, u *url.URL) error
	Disconnect(ctx context.Context) error
	RPC(ctx context.Context, req rpc.Request) (*rpc.Response, error)
	Connected() bool
	Version(ctx context.Context) (string, error)
	Status() Status
	Connection() ConnectionState
	Emitter() *Emitter
	Export(ctx context.Context, opts opt.ExportOptions) (string, error)
}

// Native creates handles for an embedded engine.
type Native interface {
	Connect(ctx context.Context, endpoint string, opts opt.Options) (Handle, error)
	Version() string
}

// Handle is one open instance of a native engine. Execute takes a CBOR
// request and returns a CBOR response.
type Handle interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
	Release()
}

// Exporter is implemented by handles that can dump their database as
// SurrealQL. The options arrive CBOR encoded.
type Exporter interface {
	Export(ctx context.Context, options []byte) (string, error)
}

// Notifier is implemented by handles that push live query notifications.
// The channel is closed when the handle is released.
type Notifier interface {
	Notifications() <-chan Notification
}
