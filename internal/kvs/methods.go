package kvs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/models"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// protectedParams cannot be set with let or unset.
var protectedParams = map[string]bool{
	"access":  true,
	"auth":    true,
	"scope":   true,
	"session": true,
	"token":   true,
}

// dispatch runs one rpc method against the session. The caller holds h.mu.
func (h *Handle) dispatch(ctx context.Context, req rpc.Request) (any, error) {
	switch req.Method {
	case rpc.MethodPing:
		return nil, nil
	case rpc.MethodVersion:
		return Version, nil
	case rpc.MethodUse:
		return h.use(req)
	case rpc.MethodInfo:
		return h.info(ctx)
	case rpc.MethodSignup:
		return h.signup(ctx, req)
	case rpc.MethodSignin:
		return h.signin(ctx, req)
	case rpc.MethodAuthenticate:
		return h.authenticate(ctx, req)
	case rpc.MethodInvalidate:
		h.session.invalidate()
		return nil, nil
	case rpc.MethodReset:
		h.session.reset()
		clear(h.lives)
		return nil, nil
	case rpc.MethodLet, rpc.MethodSet:
		return h.let(req)
	case rpc.MethodUnset:
		return h.unset(req)
	case rpc.MethodQuery:
		return h.queryMethod(ctx, req)
	case rpc.MethodSelect, rpc.MethodCreate, rpc.MethodInsert, rpc.MethodUpdate,
		rpc.MethodUpsert, rpc.MethodMerge, rpc.MethodDelete:
		return h.dataMethod(ctx, req)
	case rpc.MethodLive:
		return h.live(req)
	case rpc.MethodKill:
		return h.kill(req)
	}
	return nil, methodNotFound(req.Method)
}

// use selects a namespace and database. A nil parameter leaves that part of
// the selection unchanged.
func (h *Handle) use(req rpc.Request) (any, error) {
	if len(req.Params) > 2 {
		return nil, invalidParams("use takes at most two parameters")
	}
	for i, target := range []*string{&h.session.NS, &h.session.DB} {
		switch v := req.Param(i).(type) {
		case nil:
		case string:
			*target = v
		default:
			return nil, invalidParams("use expects strings, got %T", v)
		}
	}
	return nil, nil
}

func (h *Handle) info(ctx context.Context) (any, error) {
	if err := h.checkExpiry(); err != nil {
		return nil, err
	}
	a := h.session.Auth
	if a == nil || a.Record == nil {
		return nil, nil
	}
	var out any
	err := h.withTx(ctx, false, func(x *exec) error {
		doc, ok, err := x.tx.Get(a.NS, a.DB, a.Record.Table, a.Record.ID)
		if err != nil || !ok {
			return err
		}
		out = doc
		return nil
	})
	return out, err
}

func (h *Handle) let(req rpc.Request) (any, error) {
	name, err := paramName(req)
	if err != nil {
		return nil, err
	}
	if len(req.Params) > 2 {
		return nil, invalidParams("%s takes a name and a value", req.Method)
	}
	h.session.Vars[name] = req.Param(1)
	return nil, nil
}

func (h *Handle) unset(req rpc.Request) (any, error) {
	name, err := paramName(req)
	if err != nil {
		return nil, err
	}
	delete(h.session.Vars, name)
	return nil, nil
}

func paramName(req rpc.Request) (string, error) {
	name, ok := req.Param(0).(string)
	if !ok || name == "" {
		return "", invalidParams("%s expects a parameter name", req.Method)
	}
	name = strings.TrimPrefix(name, "$")
	if protectedParams[name] {
		return "", fmt.Errorf("'%s' is a protected variable and cannot be set", name)
	}
	return name, nil
}

func (h *Handle) queryMethod(ctx context.Context, req rpc.Request) (any, error) {
	src, ok := req.Param(0).(string)
	if !ok {
		return nil, invalidParams("query expects a string")
	}
	var params map[string]any
	switch v := req.Param(1).(type) {
	case nil:
	case map[string]any:
		params = v
	default:
		return nil, invalidParams("query variables must be an object, got %T", v)
	}
	return h.query(ctx, src, params)
}

// dataMethod runs select, create, insert, update, upsert, merge and delete
// as the equivalent statement. Results are always arrays.
func (h *Handle) dataMethod(ctx context.Context, req rpc.Request) (any, error) {
	if len(req.Params) == 0 {
		return nil, invalidParams("%s expects a target", req.Method)
	}
	data := surql.NewExpr("$data")
	params := map[string]any{"data": req.Param(1)}

	var stmt surql.Statement
	if req.Method == rpc.MethodInsert {
		tb, err := tableParam(req.Param(0))
		if err != nil {
			return nil, err
		}
		stmt = surql.InsertStatement{Table: tb, Value: data}
	} else {
		target, err := targetParam(req.Param(0))
		if err != nil {
			return nil, err
		}
		switch req.Method {
		case rpc.MethodSelect:
			stmt = surql.SelectStatement{Fields: []surql.Field{{All: true}}, From: []surql.Target{target}}
		case rpc.MethodCreate:
			s := surql.CreateStatement{Target: target}
			if req.Param(1) != nil {
				s.Data = surql.Data{Kind: surql.DataContent, Value: data}
			}
			stmt = s
		case rpc.MethodUpdate, rpc.MethodUpsert:
			s := surql.UpdateStatement{Upsert: req.Method == rpc.MethodUpsert, Target: target}
			if req.Param(1) != nil {
				s.Data = surql.Data{Kind: surql.DataContent, Value: data}
			}
			stmt = s
		case rpc.MethodMerge:
			stmt = surql.UpdateStatement{Target: target, Data: surql.Data{Kind: surql.DataMerge, Value: data}}
		case rpc.MethodDelete:
			stmt = surql.DeleteStatement{Target: target, Return: surql.ReturnBefore}
		}
	}

	out, err := h.single(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	return arrayResponse(out), nil
}

// arrayResponse wraps a non-array result in a one-element array.
func arrayResponse(v any) any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return []any{}
	}
	return []any{v}
}

// targetParam reads a table name, a models.Table or a models.RecordID.
func targetParam(v any) (surql.Target, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return surql.Target{}, invalidParams("empty table name")
		}
		return surql.Target{Table: t}, nil
	case models.Table:
		return surql.Target{Table: string(t)}, nil
	case models.RecordID:
		return surql.Target{Table: t.Table, ID: t.ID, HasID: true}, nil
	}
	return surql.Target{}, invalidParams("expected a table or record id, got %T", v)
}

func tableParam(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, nil
		}
	case models.Table:
		return string(t), nil
	}
	return "", invalidParams("expected a table, got %T", v)
}

func (h *Handle) live(req rpc.Request) (any, error) {
	if !h.ds.liveAllowed() {
		return nil, ErrLiveDisabled
	}
	tb, err := tableParam(req.Param(0))
	if err != nil {
		return nil, err
	}
	if err := h.checkData(h.session.NS, h.session.DB, false); err != nil {
		return nil, err
	}
	id := uuid.New()
	h.lives[id] = liveQuery{ns: h.session.NS, db: h.session.DB, tb: tb}
	return models.UUID{UUID: id}, nil
}

func (h *Handle) kill(req rpc.Request) (any, error) {
	var id uuid.UUID
	switch v := req.Param(0).(type) {
	case models.UUID:
		id = v.UUID
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, invalidParams("invalid live query id %q", v)
		}
		id = parsed
	default:
		return nil, invalidParams("kill expects a uuid, got %T", v)
	}
	if _, ok := h.lives[id]; !ok {
		return nil, fmt.Errorf("%w '%s'", ErrLiveNotFound, id)
	}
	delete(h.lives, id)
	return nil, nil
}
