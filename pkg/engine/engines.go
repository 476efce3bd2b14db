package engine

import (
	"fmt"
	"strings"

	"github.com/forgo/surrealembed/pkg/opt"
)

// Constructor builds a fresh, disconnected engine.
type Constructor func() Engine

// Engines maps URL schemes to engine constructors.
type Engines map[string]Constructor

// Embedded schemes.
const (
	SchemeMemory             = "mem"
	SchemeSurrealKV          = "surrealkv"
	SchemeSurrealKVVersioned = "surrealkv+versioned"
)

// Remote schemes, served by a relaying native.
const (
	SchemeWS    = "ws"
	SchemeWSS   = "wss"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// EmbeddedEngines registers the in-process schemes. Every engine built from
// the table shares native and opts.
func EmbeddedEngines(native Native, opts opt.Options, options ...Option) Engines {
	ctor := func() Engine { return NewEmbedded(native, opts, options...) }
	return Engines{
		SchemeMemory:             ctor,
		SchemeSurrealKV:          ctor,
		SchemeSurrealKVVersioned: ctor,
	}
}

// RemoteEngines registers the networked schemes over a relaying native.
func RemoteEngines(native Native, options ...Option) Engines {
	ctor := func() Engine { return NewEmbedded(native, opt.Options{}, options...) }
	return Engines{
		SchemeWS:    ctor,
		SchemeWSS:   ctor,
		SchemeHTTP:  ctor,
		SchemeHTTPS: ctor,
	}
}

// Lookup returns the constructor for scheme. A trailing ":" is ignored.
func (e Engines) Lookup(scheme string) (Constructor, error) {
	key := strings.ToLower(strings.TrimSuffix(scheme, ":"))
	if ctor, ok := e[key]; ok {
		return ctor, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, scheme)
}

// Merge returns a table holding e and others. Later tables win.
func (e Engines) Merge(others ...Engines) Engines {
	out := make(Engines, len(e))
	for k, v := range e {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Schemes lists the registered schemes.
func (e Engines) Schemes() []string {
	out := make([]string, 0, len(e))
	for k := range e {
		out = append(out, k)
	}
	return out
}
