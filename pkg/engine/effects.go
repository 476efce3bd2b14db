package engine

import "github.com/forgo/surrealembed/pkg/rpc"

// field is one optional assignment in a statePatch.
type field struct {
	set   bool
	value string
}

func assign(v string) field { return field{set: true, value: v} }

// statePatch describes how a successful call changes ConnectionState.
type statePatch struct {
	namespace field
	database  field
	token     field
}

func (p statePatch) apply(s *ConnectionState) {
	if p.namespace.set {
		s.Namespace = p.namespace.value
	}
	if p.database.set {
		s.Database = p.database.value
	}
	if p.token.set {
		s.Token = p.token.value
	}
}

// sideEffect derives a patch from a successful call.
type sideEffect func(params []any, result any) statePatch

var sideEffects = map[string]sideEffect{
	rpc.MethodUse:          useEffect,
	rpc.MethodSignin:       tokenFromResult,
	rpc.MethodSignup:       tokenFromResult,
	rpc.MethodAuthenticate: tokenFromParams,
	rpc.MethodInvalidate:   clearToken,
}

// useEffect selects namespace and database. A missing or non-string
// parameter leaves that field absent in the mirror, even where the native
// session keeps its previous value for a nil argument.
func useEffect(params []any, _ any) statePatch {
	return statePatch{
		namespace: assign(stringAt(params, 0)),
		database:  assign(stringAt(params, 1)),
	}
}

func tokenFromParams(params []any, _ any) statePatch {
	return statePatch{token: assign(stringAt(params, 0))}
}

func clearToken([]any, any) statePatch {
	return statePatch{token: assign("")}
}

// tokenFromResult accepts a bare token or an object carrying one.
func tokenFromResult(_ []any, result any) statePatch {
	switch r := result.(type) {
	case string:
		return statePatch{token: assign(r)}
	case map[string]any:
		if tok, ok := r["token"].(string); ok {
			return statePatch{token: assign(tok)}
		}
	}
	return statePatch{}
}

func stringAt(params []any, i int) string {
	if i >= len(params) {
		return ""
	}
	s, _ := params[i].(string)
	return s
}
