package kvs

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/forgo/surrealembed/pkg/jwt"
	"github.com/forgo/surrealembed/pkg/models"
)

// Session is the per-handle state a connection carries between calls.
type Session struct {
	NS    string
	DB    string
	Auth  *Auth
	Token string
	Vars  map[string]any
	// Expires ends the authenticated session. Zero never expires.
	Expires time.Time
}

// Auth describes who the session is signed in as.
type Auth struct {
	Level  string
	NS     string
	DB     string
	Access string
	User   string
	Record *models.RecordID
	Roles  []string
	Claims *jwt.Claims
}

func newSession() *Session {
	return &Session{Vars: map[string]any{}}
}

// reset drops authentication, selection and variables.
func (s *Session) reset() {
	*s = Session{Vars: map[string]any{}}
}

func (s *Session) invalidate() {
	s.Auth, s.Token, s.Expires = nil, "", time.Time{}
}

// hasRole reports whether a system user holds role. Owner implies every
// role and Editor implies Viewer.
func (a *Auth) hasRole(role string) bool {
	for _, r := range a.Roles {
		switch {
		case strings.EqualFold(r, "owner"):
			return true
		case strings.EqualFold(r, role):
			return true
		case strings.EqualFold(r, "editor") && strings.EqualFold(role, "viewer"):
			return true
		}
	}
	return false
}

// covers reports whether a system user's level includes ns and db.
func (a *Auth) covers(ns, db string) bool {
	switch a.Level {
	case jwt.LevelRoot:
		return true
	case jwt.LevelNamespace:
		return ns == "" || ns == a.NS
	default:
		return (ns == "" || ns == a.NS) && (db == "" || db == a.DB)
	}
}

// value is the $session parameter.
func (s *Session) value() map[string]any {
	out := map[string]any{
		"ns": orNil(s.NS),
		"db": orNil(s.DB),
		"ac": nil,
		"rd": nil,
		"tk": nil,
	}
	if s.Auth != nil {
		out["ac"] = orNil(s.Auth.Access)
		if s.Auth.Record != nil {
			out["rd"] = *s.Auth.Record
		}
		if s.Auth.Claims != nil {
			out["tk"] = claimsValue(s.Auth.Claims)
		}
	}
	if !s.Expires.IsZero() {
		out["exp"] = models.Datetime{Time: s.Expires.UTC()}
	}
	return out
}

func claimsValue(c *jwt.Claims) map[string]any {
	out := map[string]any{
		"iss": c.Issuer,
		"iat": c.IssuedAt,
		"nbf": c.NotBefore,
		"exp": c.ExpiresAt,
	}
	for k, v := range map[string]string{"NS": c.Namespace, "DB": c.Database, "AC": c.Access, "ID": c.Record, "sub": c.Subject} {
		if v != "" {
			out[k] = v
		}
	}
	if len(c.Roles) > 0 {
		roles := make([]any, len(c.Roles))
		for i, r := range c.Roles {
			roles[i] = r
		}
		out["RL"] = roles
	}
	return out
}

// queryVars merges session variables, call parameters and the built-in
// $session, $auth and $token parameters.
func (s *Session) queryVars(params map[string]any) map[string]any {
	vars := maps.Clone(s.Vars)
	if vars == nil {
		vars = map[string]any{}
	}
	maps.Copy(vars, params)
	vars["session"] = s.value()
	vars["auth"] = nil
	vars["token"] = nil
	if s.Auth != nil {
		if s.Auth.Record != nil {
			vars["auth"] = map[string]any{"id": *s.Auth.Record}
		} else {
			vars["auth"] = map[string]any{"id": s.Auth.User, "roles": slices.Clone(s.Auth.Roles)}
		}
		if s.Auth.Claims != nil {
			vars["token"] = claimsValue(s.Auth.Claims)
		}
	}
	return vars
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
