package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/forgo/surrealembed/pkg/codec"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// ============================================================================
// Mock Native
// ============================================================================

type mockNative struct {
	mu          sync.Mutex
	connects    int
	endpoints   []string
	handles     []*mockHandle
	connectFunc func(ctx context.Context, endpoint string) error
	handler     func(req rpc.Request) rpc.Response
	notify      bool
}

func (n *mockNative) Connect(ctx context.Context, endpoint string, _ opt.Options) (Handle, error) {
	n.mu.Lock()
	n.connects++
	n.endpoints = append(n.endpoints, endpoint)
	fn := n.connectFunc
	n.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, endpoint); err != nil {
			return nil, err
		}
	}
	h := &mockHandle{handler: n.handler}
	if n.notify {
		h.notes = make(chan Notification, 8)
	}
	n.mu.Lock()
	n.handles = append(n.handles, h)
	n.mu.Unlock()
	if h.notes != nil {
		return &notifyingHandle{h}, nil
	}
	return h, nil
}

func (n *mockNative) Version() string {
	return "surrealdb-mock-1.0.0"
}

func (n *mockNative) connectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connects
}

func (n *mockNative) handle(i int) *mockHandle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handles[i]
}

// echoResult answers every request with result.
func echoResult(result any) func(rpc.Request) rpc.Response {
	return func(req rpc.Request) rpc.Response {
		return rpc.Response{ID: req.ID, Result: result}
	}
}

// ============================================================================
// Mock Handle
// ============================================================================

type mockHandle struct {
	mu       sync.Mutex
	released int
	requests []rpc.Request
	handler  func(req rpc.Request) rpc.Response
	raw      func(payload []byte) ([]byte, error)
	notes    chan Notification
}

func (h *mockHandle) Execute(_ context.Context, payload []byte) ([]byte, error) {
	h.mu.Lock()
	if h.released > 0 {
		h.mu.Unlock()
		return nil, ErrHandleReleased
	}
	raw := h.raw
	h.mu.Unlock()
	if raw != nil {
		return raw(payload)
	}

	c := codec.Default()
	req, err := rpc.DecodeRequest(c, payload)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	if h.handler == nil {
		return nil, errors.New("no handler")
	}
	return rpc.EncodeResponse(c, h.handler(req))
}

func (h *mockHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
	if h.released == 1 && h.notes != nil {
		close(h.notes)
	}
}

func (h *mockHandle) releaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *mockHandle) lastRequest() rpc.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[len(h.requests)-1]
}

type notifyingHandle struct {
	*mockHandle
}

func (h *notifyingHandle) Notifications() <-chan Notification {
	return h.notes
}

// ============================================================================
// Mock Exporting Handle
// ============================================================================

type exportingNative struct {
	mockNative
	dump string
	got  opt.ExportOptions
}

func (n *exportingNative) Connect(ctx context.Context, endpoint string, o opt.Options) (Handle, error) {
	h, err := n.mockNative.Connect(ctx, endpoint, o)
	if err != nil {
		return nil, err
	}
	return &exportingHandle{Handle: h, native: n}, nil
}

type exportingHandle struct {
	Handle
	native *exportingNative
}

func (h *exportingHandle) Export(_ context.Context, options []byte) (string, error) {
	var m map[string]any
	if err := codec.Default().Unmarshal(options, &m); err != nil {
		return "", err
	}
	got, err := opt.ExportOptionsFromMap(m)
	if err != nil {
		return "", err
	}
	h.native.got = got
	return h.native.dump, nil
}
