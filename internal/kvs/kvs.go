// Package kvs is an embedded engine: it stores records in process memory or
// in a SQLite file and answers the rpc protocol from package rpc directly,
// without a network hop.
//
// Native satisfies engine.Native. Each Connect opens its own store and
// returns a Handle that owns one session.
package kvs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgo/surrealembed/internal/storage"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/jwt"
	"github.com/forgo/surrealembed/pkg/opt"
)

// Version is reported by the version method and Native.Version.
const Version = "surrealdb-2.1.0"

// DefaultTokenExpiry applies when neither Config nor the user or access
// definition sets a token duration.
const DefaultTokenExpiry = time.Hour

// Config configures a Native engine.
type Config struct {
	Logger *slog.Logger
	// TokenKeyPath is a PEM RSA private key used to sign session tokens.
	// When empty a key is generated once per process.
	TokenKeyPath string
	TokenIssuer  string
	TokenExpiry  time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Native opens embedded engine handles.
type Native struct {
	cfg    Config
	logger *slog.Logger

	tokensOnce sync.Once
	tokens     *jwt.Service
	tokensErr  error
}

var _ engine.Native = (*Native)(nil)

// New returns a Native engine.
func New(cfg Config) *Native {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = "surrealembed"
	}
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Native{cfg: cfg, logger: cfg.Logger}
}

// Version returns the engine version.
func (n *Native) Version() string {
	return Version
}

// Connect opens the store named by endpoint and applies opts. Endpoints are
// "memory" or mem:// for an in-memory store, surrealkv://<path> for a SQLite
// file and surrealkv+versioned://<path> for a versioned SQLite file.
func (n *Native) Connect(ctx context.Context, endpoint string, opts opt.Options) (engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	tokens, err := n.tokenService()
	if err != nil {
		return nil, err
	}
	store, err := openStore(endpoint)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("embedded engine opened",
		slog.String("endpoint", endpoint),
		slog.Bool("strict", opts.Strict),
		slog.Bool("versioned", store.Versioned()))
	return newHandle(&datastore{
		store:  store,
		opts:   opts,
		tokens: tokens,
		logger: n.logger,
		now:    n.cfg.Now,
	}), nil
}

func (n *Native) tokenService() (*jwt.Service, error) {
	n.tokensOnce.Do(func() {
		if n.cfg.TokenKeyPath != "" {
			n.tokens, n.tokensErr = jwt.NewService(jwt.Config{
				PrivateKeyPath: n.cfg.TokenKeyPath,
				Issuer:         n.cfg.TokenIssuer,
				Expiration:     n.cfg.TokenExpiry,
			})
			return
		}
		n.tokens, n.tokensErr = jwt.NewEphemeralService(n.cfg.TokenIssuer, n.cfg.TokenExpiry)
	})
	return n.tokens, n.tokensErr
}

// openStore maps an endpoint onto a storage backend.
func openStore(endpoint string) (storage.Store, error) {
	if endpoint == "memory" || strings.HasPrefix(endpoint, "mem:") {
		return storage.NewMemory(), nil
	}
	scheme, path, ok := strings.Cut(endpoint, "://")
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, endpoint)
	}
	switch strings.ToLower(scheme) {
	case engine.SchemeSurrealKV:
		return storage.OpenSQLite(path, false)
	case engine.SchemeSurrealKVVersioned:
		return storage.OpenSQLite(path, true)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, endpoint)
}

// datastore is the state shared by everything a handle does.
type datastore struct {
	store  storage.Store
	opts   opt.Options
	tokens *jwt.Service
	logger *slog.Logger
	now    func() time.Time
}

// functionAllowed applies the function capability. Functions are allowed
// unless capabilities say otherwise.
func (ds *datastore) functionAllowed(name string) bool {
	c := ds.opts.Capabilities
	if c == nil {
		return true
	}
	if c.All != nil {
		return *c.All
	}
	return c.Functions.Permits(name, true, opt.MatchFunction)
}

// guestsAllowed reports whether unauthenticated sessions may touch data.
func (ds *datastore) guestsAllowed() bool {
	c := ds.opts.Capabilities
	if c == nil {
		return true
	}
	if c.All != nil {
		return *c.All
	}
	return c.GuestAccess == nil || *c.GuestAccess
}

// liveAllowed reports whether live queries may be registered.
func (ds *datastore) liveAllowed() bool {
	c := ds.opts.Capabilities
	if c == nil {
		return true
	}
	if c.All != nil {
		return *c.All
	}
	return c.LiveQueryNotifications == nil || *c.LiveQueryNotifications
}
