package kvs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/forgo/surrealembed/internal/storage"
	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/jwt"
	"github.com/forgo/surrealembed/pkg/models"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// credentials are the parameters of signin and signup.
type credentials struct {
	NS     string
	DB     string
	Access string
	User   string
	Pass   string
	// Vars holds the remaining fields, visible to access statements.
	Vars map[string]any
}

func parseCredentials(req rpc.Request) (credentials, error) {
	m, ok := req.Param(0).(map[string]any)
	if !ok {
		return credentials{}, invalidParams("%s expects an object", req.Method)
	}
	c := credentials{Vars: map[string]any{}}
	for k, v := range m {
		s, _ := v.(string)
		switch strings.ToLower(k) {
		case "ns", "namespace":
			c.NS = s
		case "db", "database":
			c.DB = s
		case "ac", "access", "sc", "scope":
			c.Access = s
		case "user", "username":
			c.User = s
			c.Vars[k] = v
		case "pass", "password":
			c.Pass = s
			c.Vars[k] = v
		default:
			c.Vars[k] = v
		}
	}
	return c, nil
}

func (h *Handle) signin(ctx context.Context, req rpc.Request) (any, error) {
	c, err := parseCredentials(req)
	if err != nil {
		return nil, err
	}
	if c.Access != "" {
		return h.recordAccess(ctx, c, false)
	}
	if c.User == "" || c.Pass == "" {
		return nil, invalidParams("signin expects a user and pass, or an access method")
	}
	return h.systemSignin(ctx, c)
}

func (h *Handle) signup(ctx context.Context, req rpc.Request) (any, error) {
	c, err := parseCredentials(req)
	if err != nil {
		return nil, err
	}
	if c.Access == "" {
		return nil, invalidParams("signup expects an access method")
	}
	return h.recordAccess(ctx, c, true)
}

// systemSignin signs in a user defined on the root, a namespace or a
// database, depending on which of ns and db are given.
func (h *Handle) systemSignin(ctx context.Context, c credentials) (any, error) {
	base := surql.LevelRoot
	switch {
	case c.DB != "":
		if c.NS == "" {
			return nil, ErrNoNamespace
		}
		base = surql.LevelDatabase
	case c.NS != "":
		base = surql.LevelNamespace
	}

	var (
		user  userDef
		found bool
	)
	err := h.withTx(ctx, false, func(x *exec) error {
		var err error
		user, found, err = getDef[userDef](x.tx, userKey(base, c.NS, c.DB, c.User))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(c.Pass)) != nil {
		h.ds.logger.Debug("signin rejected", slog.String("user", c.User), slog.String("level", string(base)))
		return nil, ErrInvalidAuth
	}

	auth := &Auth{
		Level: levelName(base),
		NS:    c.NS,
		DB:    c.DB,
		User:  user.Name,
		Roles: user.Roles,
	}
	claims := jwt.Claims{
		Subject:   user.Name,
		Namespace: c.NS,
		Database:  c.DB,
		Roles:     user.Roles,
	}
	return h.grant(auth, claims, user.Token, user.Session)
}

// recordAccess signs a record user in or up through a DEFINE ACCESS ... TYPE
// RECORD method. The access statement runs with database owner rights and
// must yield the record to sign in as.
func (h *Handle) recordAccess(ctx context.Context, c credentials, signup bool) (any, error) {
	failed, verb := ErrInvalidAuth, "signin"
	if signup {
		failed, verb = ErrInvalidSignup, "signup"
	}
	if c.NS == "" {
		c.NS = h.session.NS
	}
	if c.DB == "" {
		c.DB = h.session.DB
	}
	if c.NS == "" {
		return nil, ErrNoNamespace
	}
	if c.DB == "" {
		return nil, ErrNoDatabase
	}

	var (
		def   accessDef
		found bool
	)
	err := h.withTx(ctx, false, func(x *exec) error {
		var err error
		def, found, err = getDef[accessDef](x.tx, accessKey(c.NS, c.DB, c.Access))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %v", failed, notFound("access method", c.Access))
	}
	access, err := parseAccess(def)
	if err != nil {
		return nil, err
	}
	stmt := access.Signin
	if signup {
		stmt = access.Signup
	}
	if stmt == nil {
		return nil, fmt.Errorf("%w: access method %s does not allow %s", failed, c.Access, verb)
	}

	out, err := h.elevated(ctx, c.NS, c.DB, stmt, c.Vars)
	if err != nil {
		h.ds.logger.Debug("record access failed", slog.String("access", c.Access), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", failed, err)
	}
	rid, ok := recordOf(out)
	if !ok {
		return nil, failed
	}

	auth := &Auth{
		Level:  jwt.LevelRecord,
		NS:     c.NS,
		DB:     c.DB,
		Access: c.Access,
		Record: &rid,
	}
	claims := jwt.Claims{
		Namespace: c.NS,
		Database:  c.DB,
		Access:    c.Access,
		Record:    rid.String(),
	}
	return h.grant(auth, claims, access.Token, access.Session)
}

func parseAccess(def accessDef) (surql.DefineAccessStatement, error) {
	stmts, err := surql.Parse(def.Source)
	if err != nil {
		return surql.DefineAccessStatement{}, err
	}
	if len(stmts) == 1 {
		if s, ok := stmts[0].(surql.DefineAccessStatement); ok {
			return s, nil
		}
	}
	return surql.DefineAccessStatement{}, fmt.Errorf("access method %s is corrupt", def.Name)
}

// elevated runs stmt as the owner of ns and db, then restores the session.
func (h *Handle) elevated(ctx context.Context, ns, db string, stmt surql.Statement, vars map[string]any) (any, error) {
	saved := *h.session
	defer func() { *h.session = saved }()
	h.session.NS, h.session.DB = ns, db
	h.session.Auth = &Auth{Level: jwt.LevelDatabase, NS: ns, DB: db, Roles: []string{roleOwner}}
	h.session.Expires = time.Time{}

	var out any
	err := h.withVars(ctx, surql.Writes(stmt), h.session.queryVars(vars), func(x *exec) error {
		var err error
		out, err = x.run(stmt)
		return err
	})
	return out, err
}

// recordOf finds the record id in what an access statement returned.
func recordOf(v any) (models.RecordID, bool) {
	switch t := v.(type) {
	case models.RecordID:
		return t, true
	case map[string]any:
		rid, ok := t["id"].(models.RecordID)
		return rid, ok
	case []any:
		if len(t) > 0 {
			return recordOf(t[0])
		}
	}
	return models.RecordID{}, false
}

// grant signs a token for auth and installs it on the session.
func (h *Handle) grant(auth *Auth, claims jwt.Claims, tokenTTL, sessionTTL time.Duration) (any, error) {
	now := h.ds.now()
	if tokenTTL > 0 {
		claims.ExpiresAt = now.Add(tokenTTL).Unix()
	}
	token, err := h.ds.tokens.Sign(claims)
	if err != nil {
		return nil, err
	}
	claims.IssuedAt, claims.NotBefore = now.Unix(), now.Unix()
	auth.Claims = &claims

	s := h.session
	s.Auth, s.Token = auth, token
	s.Expires = time.Time{}
	if sessionTTL > 0 {
		s.Expires = now.Add(sessionTTL)
	}
	if auth.NS != "" {
		s.NS = auth.NS
	}
	if auth.DB != "" {
		s.DB = auth.DB
	}
	return token, nil
}

// authenticate installs the identity carried by a token.
func (h *Handle) authenticate(ctx context.Context, req rpc.Request) (any, error) {
	token, ok := req.Param(0).(string)
	if !ok || token == "" {
		return nil, invalidParams("authenticate expects a token")
	}
	claims, err := h.ds.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}

	auth := &Auth{
		Level:  claims.Level(),
		NS:     claims.Namespace,
		DB:     claims.Database,
		Access: claims.Access,
		User:   claims.Subject,
		Roles:  claims.Roles,
		Claims: claims,
	}
	if claims.Record != "" {
		rid, err := models.ParseRecordID(claims.Record)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		auth.Record = &rid
	}
	if err := h.checkIdentity(ctx, auth); err != nil {
		return nil, err
	}

	s := h.session
	s.Auth, s.Token, s.Expires = auth, token, time.Time{}
	if auth.NS != "" {
		s.NS = auth.NS
	}
	if auth.DB != "" {
		s.DB = auth.DB
	}
	return nil, nil
}

// checkIdentity makes sure the user or access method behind a token still
// exists.
func (h *Handle) checkIdentity(ctx context.Context, a *Auth) error {
	var key storage.DefKey
	switch a.Level {
	case jwt.LevelRecord:
		key = accessKey(a.NS, a.DB, a.Access)
	case jwt.LevelRoot:
		key = userKey(surql.LevelRoot, "", "", a.User)
	case jwt.LevelNamespace:
		key = userKey(surql.LevelNamespace, a.NS, "", a.User)
	default:
		key = userKey(surql.LevelDatabase, a.NS, a.DB, a.User)
	}
	var found bool
	err := h.withTx(ctx, false, func(x *exec) error {
		var err error
		_, found, err = x.tx.GetDef(key)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrInvalidAuth
	}
	return nil
}

func levelName(base surql.Level) string {
	switch base {
	case surql.LevelRoot:
		return jwt.LevelRoot
	case surql.LevelNamespace:
		return jwt.LevelNamespace
	}
	return jwt.LevelDatabase
}
