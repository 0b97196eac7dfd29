package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name      string
		forwarded string
		wantHSTS  bool
	}{
		{name: "plain http", wantHSTS: false},
		{name: "forwarded https", forwarded: "https", wantHSTS: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tc.forwarded)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			for _, kv := range apiSecurityHeaders {
				if got := rec.Header().Get(kv[0]); got != kv[1] {
					t.Fatalf("%s = %q, want %q", kv[0], got, kv[1])
				}
			}
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.wantHSTS {
				t.Fatalf("hsts present = %v, want %v", got, tc.wantHSTS)
			}
		})
	}
}
