package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Scopes carried in the "scope" claim of access tokens.
const (
	ScopeMandatesWrite = "mandates:write"
	ScopeIntentsWrite  = "intents:write"
	ScopeRead          = "read"
)

// AllScopes lists every scope the router understands.
func AllScopes() []string {
	return []string{ScopeMandatesWrite, ScopeIntentsWrite, ScopeRead}
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config configures the authentication service.
type Config struct {
	Mode     Mode
	Secret   string
	Issuer   string
	Audience []string
	TokenTTL time.Duration
}

// Subject captures the caller identity extracted from a bearer token and
// passed to request handlers via context.
type Subject struct {
	ID        string
	Scopes    []string
	ExpiresAt int64

	scopeSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.scopeSet != nil {
		return
	}
	s.scopeSet = make(map[string]struct{}, len(s.Scopes))
	for _, scope := range s.Scopes {
		s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
	}
}

// HasScope reports whether the subject was granted the scope.
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Is reports whether the subject identifies the given principal, typically an
// address, compared case-insensitively.
func (s *Subject) Is(principal string) bool {
	if s == nil {
		return false
	}
	id := strings.TrimSpace(s.ID)
	return id != "" && strings.EqualFold(id, strings.TrimSpace(principal))
}

// Authorize ensures the subject holds all required scopes.
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}

// Clone creates a copy of the subject.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		ID:        s.ID,
		Scopes:    append([]string(nil), s.Scopes...),
		ExpiresAt: s.ExpiresAt,
	}
	clone.normalise()
	return clone
}

// IssuedToken is returned by Service.IssueToken.
type IssuedToken struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	ExpiresAt   int64    `json:"expires_at"`
	Subject     string   `json:"subject"`
	Scopes      []string `json:"scope"`
}

func normaliseScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, raw := range scopes {
		for _, scope := range strings.Fields(strings.ReplaceAll(raw, ",", " ")) {
			scope = strings.ToLower(scope)
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			out = append(out, scope)
		}
	}
	return out
}
