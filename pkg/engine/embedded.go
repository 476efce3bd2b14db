package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/forgo/surrealembed/internal/telemetry"
	"github.com/forgo/surrealembed/pkg/codec"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// Option configures an Embedded adapter.
type Option func(*Embedded)

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Embedded) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c telemetry.Collector) Option {
	return func(e *Embedded) {
		if c != nil {
			e.metrics = c
		}
	}
}

// WithCodec replaces the default CBOR codec.
func WithCodec(c *codec.Codec) Option {
	return func(e *Embedded) {
		if c != nil {
			e.codec = c
		}
	}
}

// connectAttempt is an in-flight or completed Connect shared by every caller
// that arrives before it is forgotten.
type connectAttempt struct {
	done chan struct{}
	err  error
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *connectAttempt) resolved() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Embedded drives a Native engine in-process.
type Embedded struct {
	native  Native
	opts    opt.Options
	codec   *codec.Codec
	logger  *slog.Logger
	metrics telemetry.Collector
	emitter *Emitter
	ids     rpc.IDGenerator

	mu      sync.Mutex
	status  Status
	state   ConnectionState
	handle  Handle
	attempt *connectAttempt
	reader  sync.WaitGroup
}

var _ Engine = (*Embedded)(nil)

// NewEmbedded returns a disconnected adapter over native. opts is passed to
// every Native.Connect call.
func NewEmbedded(native Native, opts opt.Options, options ...Option) *Embedded {
	e := &Embedded{
		native:  native,
		opts:    opts,
		codec:   codec.Default(),
		logger:  slog.Default(),
		metrics: telemetry.Noop(),
		emitter: NewEmitter(),
		status:  Disconnected,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Connect opens a native handle for u. Calls made while an attempt is in
// flight, or after it succeeded, share its outcome. A failed attempt is
// forgotten so the next call retries.
func (e *Embedded) Connect(ctx context.Context, u *url.URL) error {
	if u == nil {
		return newUnexpectedConnectionError(errors.New("missing connection url"))
	}
	e.mu.Lock()
	if a := e.attempt; a != nil {
		e.mu.Unlock()
		return a.wait(ctx)
	}
	a := &connectAttempt{done: make(chan struct{})}
	e.attempt = a
	e.state.URL = u
	ev, changed := e.setStatusLocked(Connecting, nil)
	e.mu.Unlock()
	e.emit(ev, changed)

	h, err := e.native.Connect(ctx, u.String(), e.opts)

	e.mu.Lock()
	if err != nil {
		a.err = newUnexpectedConnectionError(err)
		e.attempt = nil
		ev, changed = e.setStatusLocked(Error, a.err)
		close(a.done)
		e.mu.Unlock()
		e.metrics.IncConnect(telemetry.OutcomeError)
		e.logger.Error("engine connect failed",
			slog.String("url", redact(u)),
			slog.Any("error", err))
		e.emit(ev, changed)
		return a.err
	}
	e.handle = h
	if n, ok := h.(Notifier); ok {
		e.reader.Add(1)
		go e.forward(n.Notifications())
	}
	ev, changed = e.setStatusLocked(Connected, nil)
	close(a.done)
	e.mu.Unlock()
	e.metrics.IncConnect(telemetry.OutcomeOK)
	e.emit(ev, changed)
	return nil
}

// forward delivers live notifications until the handle closes the channel.
func (e *Embedded) forward(ch <-chan Notification) {
	defer e.reader.Done()
	for n := range ch {
		e.emitter.EmitLive(n)
	}
}

// Disconnect waits for any in-flight connect, clears the session and
// releases the handle. It is safe to call repeatedly.
func (e *Embedded) Disconnect(ctx context.Context) error {
	for {
		e.mu.Lock()
		a := e.attempt
		if a == nil || a.resolved() {
			break
		}
		e.mu.Unlock()
		if err := a.wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}
	h := e.handle
	e.handle = nil
	e.attempt = nil
	e.state = ConnectionState{}
	e.mu.Unlock()

	if h != nil {
		h.Release()
	}
	e.reader.Wait()

	e.mu.Lock()
	ev, changed := e.setStatusLocked(Disconnected, nil)
	e.mu.Unlock()
	e.emit(ev, changed)
	return nil
}

// RPC sends req to the handle. Failures reported by the native layer come
// back as a response with code -1, not as an error.
func (e *Embedded) RPC(ctx context.Context, req rpc.Request) (*rpc.Response, error) {
	e.mu.Lock()
	a := e.attempt
	e.mu.Unlock()
	if a != nil {
		if err := a.wait(ctx); err != nil && ctx.Err() != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h == nil {
		return nil, ErrConnectionUnavailable
	}

	req.ID = e.ids.Next()
	payload, err := rpc.EncodeRequest(e.codec, req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Method, err)
	}

	start := time.Now()
	raw, err := h.Execute(ctx, payload)
	if err != nil {
		e.metrics.ObserveRPC(req.Method, telemetry.OutcomeTransport, time.Since(start))
		return &rpc.Response{
			ID:    req.ID,
			Error: &rpc.Error{Code: rpc.CodeTransport, Message: err.Error()},
		}, nil
	}

	res, err := rpc.DecodeResponse(e.codec, raw)
	if err != nil {
		e.metrics.ObserveRPC(req.Method, telemetry.OutcomeInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedServerResponse, err)
	}
	if res.ID != "" && res.ID != req.ID {
		e.metrics.ObserveRPC(req.Method, telemetry.OutcomeInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: response id %q does not match request id %q",
			ErrUnexpectedServerResponse, res.ID, req.ID)
	}
	if res.Failed() {
		e.metrics.ObserveRPC(req.Method, telemetry.OutcomeError, time.Since(start))
		return res, nil
	}
	e.metrics.ObserveRPC(req.Method, telemetry.OutcomeOK, time.Since(start))

	if effect, ok := sideEffects[req.Method]; ok {
		patch := effect(req.Params, res.Result)
		e.mu.Lock()
		// A disconnect during the call already reset the session.
		if e.handle == h {
			patch.apply(&e.state)
		}
		e.mu.Unlock()
	}
	return res, nil
}

// Connected reports whether a handle is held.
func (e *Embedded) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

// Version returns the native engine version. No connection is needed.
func (e *Embedded) Version(context.Context) (string, error) {
	return e.native.Version(), nil
}

// Status returns the current status.
func (e *Embedded) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Connection returns a copy of the mirrored session.
func (e *Embedded) Connection() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Emitter returns the adapter's event emitter.
func (e *Embedded) Emitter() *Emitter {
	return e.emitter
}

// Export dumps the connected database when the handle supports it.
func (e *Embedded) Export(ctx context.Context, opts opt.ExportOptions) (string, error) {
	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h == nil {
		return "", ErrConnectionUnavailable
	}
	x, ok := h.(Exporter)
	if !ok {
		return "", ErrExportUnsupported
	}
	payload, err := e.codec.Marshal(opts.Map())
	if err != nil {
		return "", fmt.Errorf("encode export options: %w", err)
	}
	out, err := x.Export(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrHandleReleased) {
			return "", ErrConnectionUnavailable
		}
		return "", err
	}
	return out, nil
}

// setStatusLocked records s and reports whether it changed. The caller emits
// the event after releasing e.mu.
func (e *Embedded) setStatusLocked(s Status, err error) (Event, bool) {
	if e.status == s && s != Error {
		return Event{}, false
	}
	e.status = s
	return Event{Status: s, Err: err}, true
}

func (e *Embedded) emit(ev Event, changed bool) {
	if !changed {
		return
	}
	e.metrics.SetStatus(ev.Status.String())
	e.logger.Debug("engine status changed", slog.String("status", ev.Status.String()))
	e.emitter.Emit(ev)
}

// redact drops credentials from u for logging.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
