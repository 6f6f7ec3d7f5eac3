package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

var (
	ErrMissingToken = errors.New("missing auth token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoTokens     = errors.New("no auth tokens configured")
)

// Role is ordered: a higher role satisfies every lower minimum.
type Role int

const (
	RoleNone Role = iota
	RoleReviewer
	RoleAdmin
)

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reviewer":
		return RoleReviewer, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleReviewer:
		return "reviewer"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

func (r Role) Satisfies(min Role) bool {
	return r >= min
}

// Principal is an authenticated caller.
type Principal struct {
	Actor string
	Role  Role
}

// TokenEntry is one configured credential. Actor defaults to the token.
type TokenEntry struct {
	Token string `yaml:"token" json:"token"`
	Actor string `yaml:"actor" json:"actor"`
	Role  string `yaml:"role" json:"role"`
}

// DemoTokens are used when auth is not strict and nothing is configured.
var DemoTokens = []TokenEntry{
	{Token: "reviewer@demo", Role: "reviewer"},
	{Token: "admin@demo", Role: "admin"},
}

type Authenticator interface {
	Authenticate(token string) (Principal, error)
}

type TokenAuthenticator struct {
	tokens map[string]Principal
}

func NewTokenAuthenticator(entries []TokenEntry) (*TokenAuthenticator, error) {
	if len(entries) == 0 {
		return nil, ErrNoTokens
	}
	tokens := make(map[string]Principal, len(entries))
	for i, e := range entries {
		token := strings.TrimSpace(e.Token)
		if token == "" {
			return nil, fmt.Errorf("token %d: empty token", i)
		}
		role, err := ParseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("token %d: duplicate token", i)
		}
		actor := strings.TrimSpace(e.Actor)
		if actor == "" {
			actor = token
		}
		// The actor is written to the ledger and its CSV export.
		if strings.IndexFunc(actor, unicode.IsControl) >= 0 {
			return nil, fmt.Errorf("token %d: actor contains control characters", i)
		}
		tokens[token] = Principal{Actor: actor, Role: role}
	}
	return &TokenAuthenticator{tokens: tokens}, nil
}

// Setup builds the authenticator for a deployment. With strict=false and no
// entries it falls back to DemoTokens and reports demo=true.
func Setup(entries []TokenEntry, strict bool) (auth *TokenAuthenticator, demo bool, err error) {
	if len(entries) == 0 {
		if strict {
			return nil, false, fmt.Errorf("strict auth: %w", ErrNoTokens)
		}
		auth, err = NewTokenAuthenticator(DemoTokens)
		return auth, true, err
	}
	auth, err = NewTokenAuthenticator(entries)
	return auth, false, err
}

func (a *TokenAuthenticator) Authenticate(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

// TokenFromRequest reads X-Auth-Token, falling back to a bearer token.
func TokenFromRequest(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.Header.Get("X-Auth-Token")); token != "" {
		return token, nil
	}
	return extractBearer(r)
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
