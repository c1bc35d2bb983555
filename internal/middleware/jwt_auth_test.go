package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubValidator struct {
	id    uuid.UUID
	err   error
	calls int
}

func (s *stubValidator) ValidateToken(_ context.Context, _ string) (uuid.UUID, error) {
	s.calls++
	return s.id, s.err
}

// okHandler writes the account id from context, or "anonymous".
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id, ok := AccountIDFromCtx(r.Context()); ok {
		_, _ = w.Write([]byte(id.String()))
		return
	}
	_, _ = w.Write([]byte("anonymous"))
})

// ---------------------------------------------------------------------------
// RequireAuth
// ---------------------------------------------------------------------------

func TestRequireAuth_ValidToken(t *testing.T) {
	id := uuid.New()
	mw := RequireAuth(&stubValidator{id: id})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != id.String() {
		t.Errorf("expected account id %s in context, got %s", id, rec.Body.String())
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	v := &stubValidator{}
	mw := RequireAuth(v)(okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
	if v.calls != 0 {
		t.Errorf("expected validator not to be called, got %d calls", v.calls)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	mw := RequireAuth(&stubValidator{err: errors.New("token is expired")})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// OptionalAuth
// ---------------------------------------------------------------------------

func TestOptionalAuth_Anonymous(t *testing.T) {
	mw := OptionalAuth(&stubValidator{})(okHandler)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "anonymous" {
		t.Errorf("expected anonymous request, got %s", rec.Body.String())
	}
}

func TestOptionalAuth_InvalidTokenRejected(t *testing.T) {
	mw := OptionalAuth(&stubValidator{err: errors.New("bad signature")})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestOptionalAuth_ValidToken(t *testing.T) {
	id := uuid.New()
	mw := OptionalAuth(&stubValidator{id: id})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Body.String() != id.String() {
		t.Errorf("expected account id %s, got %s", id, rec.Body.String())
	}
}
