// Package rpc defines the request/response protocol spoken between a driver
// and an engine, whether the engine is across a socket or in-process.
//
// A request is {id, method, params}. A response is either {result} or
// {error: {code, message}}, never both, optionally echoing the request id.
// Both travel as CBOR (see package codec).
package rpc

import (
	"errors"
	"fmt"
	"math"

	"github.com/forgo/surrealembed/pkg/codec"
)

// Method names understood by engines.
const (
	MethodUse          = "use"
	MethodInfo         = "info"
	MethodVersion      = "version"
	MethodPing         = "ping"
	MethodSignup       = "signup"
	MethodSignin       = "signin"
	MethodAuthenticate = "authenticate"
	MethodInvalidate   = "invalidate"
	MethodReset        = "reset"
	MethodLet          = "let"
	MethodSet          = "set"
	MethodUnset        = "unset"
	MethodQuery        = "query"
	MethodSelect       = "select"
	MethodCreate       = "create"
	MethodInsert       = "insert"
	MethodUpdate       = "update"
	MethodUpsert       = "upsert"
	MethodMerge        = "merge"
	MethodDelete       = "delete"
	MethodLive         = "live"
	MethodKill         = "kill"
)

// Error codes carried in Error.Code.
const (
	// CodeTransport marks a failure raised by the transport or native layer
	// rather than reported by the engine.
	CodeTransport      = -1
	CodeThrown         = -32000
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrMalformed is returned when a payload does not have the request or
// response shape.
var ErrMalformed = errors.New("malformed rpc payload")

// Request is one call to an engine.
type Request struct {
	ID     string
	Method string
	Params []any
}

// Error is an application-level failure reported by the engine.
type Error struct {
	Code    int64
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Response is the engine's answer to one Request. Exactly one of Result
// (which may legitimately be nil) or Error is meaningful: Error != nil means
// the call failed.
type Response struct {
	ID     string
	Result any
	Error  *Error
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// Param returns the i-th positional parameter or nil.
func (r Request) Param(i int) any {
	if i < 0 || i >= len(r.Params) {
		return nil
	}
	return r.Params[i]
}

// EncodeRequest serializes req as {id, method, params}.
func EncodeRequest(c *codec.Codec, req Request) ([]byte, error) {
	params := req.Params
	if params == nil {
		params = []any{}
	}
	return c.Marshal(map[string]any{
		"id":     req.ID,
		"method": req.Method,
		"params": params,
	})
}

// DecodeRequest parses a payload produced by EncodeRequest. The id may be a
// string or an integer; it is returned in string form.
func DecodeRequest(c *codec.Codec, data []byte) (Request, error) {
	v, err := c.Decode(data)
	if err != nil {
		return Request{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Request{}, fmt.Errorf("%w: expected map, got %T", ErrMalformed, v)
	}
	method, ok := m["method"].(string)
	if !ok || method == "" {
		return Request{}, fmt.Errorf("%w: missing method", ErrMalformed)
	}
	req := Request{ID: idString(m["id"]), Method: method}
	switch p := m["params"].(type) {
	case nil:
	case []any:
		req.Params = p
	default:
		return Request{}, fmt.Errorf("%w: params must be an array, got %T", ErrMalformed, p)
	}
	return req, nil
}

// EncodeResponse serializes res. A nil result is written as an explicit
// null so the receiver can tell {result: null} from a missing result.
func EncodeResponse(c *codec.Codec, res Response) ([]byte, error) {
	m := map[string]any{}
	if res.ID != "" {
		m["id"] = res.ID
	}
	if res.Error != nil {
		m["error"] = map[string]any{"code": res.Error.Code, "message": res.Error.Message}
	} else {
		m["result"] = res.Result
	}
	return c.Marshal(m)
}

// DecodeResponse parses a response payload, enforcing that exactly one of
// result or error is present.
func DecodeResponse(c *codec.Codec, data []byte) (*Response, error) {
	v, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrMalformed, v)
	}
	result, hasResult := m["result"]
	rawErr, hasError := m["error"]
	if hasResult == hasError {
		return nil, fmt.Errorf("%w: need exactly one of result or error", ErrMalformed)
	}
	res := &Response{ID: idString(m["id"])}
	if hasResult {
		res.Result = result
		return res, nil
	}
	em, ok := rawErr.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: error must be a map, got %T", ErrMalformed, rawErr)
	}
	msg, _ := em["message"].(string)
	res.Error = &Error{Message: msg}
	switch code := em["code"].(type) {
	case int64:
		res.Error.Code = code
	case uint64:
		if code > math.MaxInt64 {
			return nil, fmt.Errorf("%w: error code %d out of range", ErrMalformed, code)
		}
		res.Error.Code = int64(code)
	default:
		return nil, fmt.Errorf("%w: error code must be an integer, got %T", ErrMalformed, code)
	}
	return res, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}
