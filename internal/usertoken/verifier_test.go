package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"libraryhub/pkg/domain"
)

type jwksFixture struct {
	server  *httptest.Server
	keys    map[string]*rsa.PrivateKey
	active  atomic.Value
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T, kids ...string) *jwksFixture {
	t.Helper()
	f := &jwksFixture{keys: make(map[string]*rsa.PrivateKey)}
	for _, kid := range kids {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate %s: %v", kid, err)
		}
		f.keys[kid] = key
	}
	f.active.Store(kids[0])
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		kid := f.active.Load().(string)
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(kid, f.keys[kid].PublicKey)}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.keys[kid])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims(subject, role string) Claims {
	now := time.Now()
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "issuer-a",
			Audience:  jwt.ClaimStrings{"aud-a"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func newTestVerifier(t *testing.T, f *jwksFixture) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), Config{JWKSURL: f.server.URL, Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing jwks url to fail")
	}
}

func TestVerifyCallerReadsSubjectAndRole(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	v := newTestVerifier(t, f)

	tests := []struct {
		role string
		want domain.Role
	}{
		{role: "librarian", want: domain.RoleLibrarian},
		{role: "admin", want: domain.RoleAdmin},
		{role: "", want: domain.RoleMember},
		{role: "superuser", want: domain.RoleMember},
	}
	for _, tc := range tests {
		caller, err := v.VerifyCaller(context.Background(), f.sign(t, "kid-1", validClaims("user-a", tc.role)))
		if err != nil {
			t.Fatalf("role %q: verify: %v", tc.role, err)
		}
		if caller.ID != "user-a" || caller.Role != tc.want {
			t.Fatalf("role %q: got %+v", tc.role, caller)
		}
	}
}

func TestVerifyCallerRefreshesOnUnknownKid(t *testing.T) {
	f := newJWKSFixture(t, "kid-1", "kid-2")
	v := newTestVerifier(t, f)
	clock := time.Now()
	v.keys.now = func() time.Time { return clock }

	if _, err := v.VerifyCaller(context.Background(), f.sign(t, "kid-1", validClaims("user-a", "member"))); err != nil {
		t.Fatalf("verify kid-1: %v", err)
	}

	f.active.Store("kid-2")
	clock = clock.Add(10 * time.Second)
	caller, err := v.VerifyCaller(context.Background(), f.sign(t, "kid-2", validClaims("user-b", "member")))
	if err != nil {
		t.Fatalf("verify kid-2 after rotation: %v", err)
	}
	if caller.ID != "user-b" {
		t.Fatalf("unexpected caller %+v", caller)
	}
	if got := f.fetches.Load(); got != 2 {
		t.Fatalf("expected exactly one refresh, fetches=%d", got)
	}
}

func TestVerifyCallerThrottlesRefreshForUnknownKids(t *testing.T) {
	f := newJWKSFixture(t, "kid-1", "kid-2")
	v := newTestVerifier(t, f)

	for range 3 {
		if _, err := v.VerifyCaller(context.Background(), f.sign(t, "kid-2", validClaims("user-a", "member"))); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	}
	if got := f.fetches.Load(); got != 1 {
		t.Fatalf("refresh should be throttled, fetches=%d", got)
	}
}

func TestVerifyCallerRejectsBadTokens(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	v := newTestVerifier(t, f)

	futureIat := validClaims("user-a", "member")
	futureIat.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
	wrongAud := validClaims("user-a", "member")
	wrongAud.Audience = jwt.ClaimStrings{"other"}
	noExp := validClaims("user-a", "member")
	noExp.ExpiresAt = nil
	noSubject := validClaims("", "member")

	tests := map[string]string{
		"future iat":     f.sign(t, "kid-1", futureIat),
		"wrong audience": f.sign(t, "kid-1", wrongAud),
		"missing exp":    f.sign(t, "kid-1", noExp),
		"missing sub":    f.sign(t, "kid-1", noSubject),
		"garbage":        "not.a.jwt",
	}
	for name, token := range tests {
		if _, err := v.VerifyCaller(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=60": time.Minute,
		"no-store":           0,
		"max-age=abc":        0,
		"":                   0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %v, want %v", header, got, want)
		}
	}
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
