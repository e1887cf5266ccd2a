package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode:     ModeJWT,
		Secret:   "test-secret",
		Issuer:   "intentlayer",
		Audience: []string{"router"},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidatesMode(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatal("jwt mode without secret should fail")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatal("unknown mode should fail")
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty mode should disable auth: %v %v", svc.Mode(), err)
	}
	if _, err := svc.IssueToken("agent", AllScopes(), 0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled service must not issue tokens, got %v", err)
	}
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newJWTService(t)
	issued, err := svc.IssueToken("desk-7", []string{"read", "intents:write read"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.TokenType != "Bearer" || issued.ExpiresIn != 3600 || len(issued.Scopes) != 2 {
		t.Fatalf("unexpected token %+v", issued)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+issued.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.ID != "desk-7" || !subject.HasScope(ScopeIntentsWrite) || subject.HasScope(ScopeMandatesWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}
	if err := subject.Authorize(ScopeMandatesWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newJWTService(t)
	issued, err := svc.IssueToken("desk-7", AllScopes(), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.AuthenticateRequest(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Basic abc"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token for basic auth, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+issued.AccessToken+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token should be invalid, got %v", err)
	}

	other, _ := NewService(Config{Mode: ModeJWT, Secret: "other-secret", Issuer: "intentlayer", Audience: []string{"router"}})
	if _, err := other.AuthenticateRequest(context.Background(), "Bearer "+issued.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret should be invalid, got %v", err)
	}

	wrongAudience, _ := NewService(Config{Mode: ModeJWT, Secret: "test-secret", Issuer: "intentlayer", Audience: []string{"billing"}})
	if _, err := wrongAudience.AuthenticateRequest(context.Background(), "Bearer "+issued.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("audience mismatch should be invalid, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+issued.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token should be invalid, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newJWTService(t)
	reader, _ := svc.IssueToken("reader", []string{ScopeRead}, time.Hour)

	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{RequiredScopes: map[string][]string{
		http.MethodGet:  {ScopeRead},
		http.MethodPost: {ScopeIntentsWrite},
	}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		token  string
		status int
		code   string
	}{
		{"anonymous", http.MethodGet, "", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"reader get", http.MethodGet, reader.AccessToken, http.StatusNoContent, ""},
		{"reader post", http.MethodPost, reader.AccessToken, http.StatusForbidden, "PERMISSION_DENIED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(tc.method, "/api/v1/intents", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.code == "" {
				if seen == nil || seen.ID != "reader" {
					t.Fatalf("subject should reach handler, got %+v", seen)
				}
				return
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code || seen != nil {
				t.Fatalf("unexpected denial %s (handler reached: %v)", body.Error.Code, seen != nil)
			}
		})
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeDisabled})
	handler := svc.Middleware(MiddlewareConfig{RequiredScopes: map[string][]string{"*": {ScopeRead}}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth should pass through, got %d", rec.Code)
	}
}

func TestSubjectIs(t *testing.T) {
	subject := &Subject{ID: "0xAbC0000000000000000000000000000000000001"}
	if !subject.Is(" 0xabc0000000000000000000000000000000000001 ") {
		t.Fatal("addresses should match case-insensitively")
	}
	if subject.Is("0xabc0000000000000000000000000000000000002") {
		t.Fatal("different address must not match")
	}
	var anonymous *Subject
	if anonymous.Is("") || (&Subject{}).Is("") {
		t.Fatal("empty subjects never match")
	}
}
