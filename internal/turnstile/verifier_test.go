package turnstile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func siteverify(t *testing.T, success bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "ts-secret" || r.PostForm.Get("response") == "" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if success {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
}

func TestVerify_Disabled(t *testing.T) {
	v := NewVerifier("", "")
	if v.Enabled() {
		t.Fatal("expected disabled verifier")
	}
	if err := v.Verify(context.Background(), "", ""); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	ok := siteverify(t, true)
	defer ok.Close()
	bad := siteverify(t, false)
	defer bad.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cases := []struct {
		name  string
		url   string
		token string
		want  error
	}{
		{"accepted", ok.URL, "tok", nil},
		{"missing token", ok.URL, " ", ErrMissingToken},
		{"rejected", bad.URL, "tok", ErrRejected},
		{"unavailable", down.URL, "tok", ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier("ts-secret", tc.url)
			err := v.Verify(context.Background(), tc.token, "203.0.113.7")
			if tc.want == nil && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
