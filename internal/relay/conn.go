package relay

import (
	"context"

	"github.com/surrealdb/surrealdb.go"
)

// Conn is the remote session a Handle drives.
type Conn interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Use(ctx context.Context, ns, db string) error
	SignIn(ctx context.Context, auth *surrealdb.Auth) (string, error)
	Authenticate(ctx context.Context, token string) error
	Invalidate(ctx context.Context) error
	Let(ctx context.Context, name string, value any) error
	Unset(ctx context.Context, name string) error
	// Query returns one {status, result} entry per statement.
	Query(ctx context.Context, src string, vars map[string]any) ([]any, error)
	Close(ctx context.Context) error
}

// Dial connects to a SurrealDB server with surrealdb.go.
func Dial(ctx context.Context, endpoint string) (Conn, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &remote{db: db}, nil
}

type remote struct {
	db *surrealdb.DB
}

func (r *remote) Ping(ctx context.Context) error {
	_, err := r.db.Version(ctx)
	return err
}

func (r *remote) Version(ctx context.Context) (string, error) {
	v, err := r.db.Version(ctx)
	if err != nil {
		return "", err
	}
	return v.Version, nil
}

func (r *remote) Use(ctx context.Context, ns, db string) error {
	return r.db.Use(ctx, ns, db)
}

func (r *remote) SignIn(ctx context.Context, auth *surrealdb.Auth) (string, error) {
	return r.db.SignIn(ctx, auth)
}

func (r *remote) Authenticate(ctx context.Context, token string) error {
	return r.db.Authenticate(ctx, token)
}

func (r *remote) Invalidate(ctx context.Context) error {
	return r.db.Invalidate(ctx)
}

func (r *remote) Let(ctx context.Context, name string, value any) error {
	return r.db.Let(ctx, name, value)
}

func (r *remote) Unset(ctx context.Context, name string) error {
	return r.db.Unset(ctx, name)
}

func (r *remote) Query(ctx context.Context, src string, vars map[string]any) ([]any, error) {
	results, err := surrealdb.Query[any](ctx, r.db, src, vars)
	if err != nil {
		return nil, err
	}
	if results == nil {
		return []any{}, nil
	}
	out := make([]any, 0, len(*results))
	for _, res := range *results {
		entry := map[string]any{"status": res.Status, "result": res.Result}
		if res.Error != nil {
			entry["result"] = res.Error.Message
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *remote) Close(ctx context.Context) error {
	return r.db.Close(ctx)
}
