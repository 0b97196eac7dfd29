package servicetoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrIssuerNotAllowed = errors.New("issuer not allowed")
	errUnknownKey       = errors.New("unknown token key")
)

// Verifier accepts service tokens for one audience from an issuer allowlist.
type Verifier struct {
	issuers map[string]struct{}
	keys    map[string]*rsa.PublicKey
	parser  *jwt.Parser
}

// VerifierOptions configures a Verifier. PublicKeys and PublicKeyPaths are
// merged by kid; PublicKeyPath is registered under DefaultKeyID.
type VerifierOptions struct {
	PublicKeyPath  string
	PublicKeyPaths map[string]string
	PublicKeys     map[string]*rsa.PublicKey
	DefaultKeyID   string
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range opts.AllowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}

	keys := make(map[string]*rsa.PublicKey)
	for kid, pub := range opts.PublicKeys {
		if kid = strings.TrimSpace(kid); kid != "" && pub != nil {
			keys[kid] = pub
		}
	}
	paths := make(map[string]string, len(opts.PublicKeyPaths)+1)
	if path := strings.TrimSpace(opts.PublicKeyPath); path != "" {
		kid := strings.TrimSpace(opts.DefaultKeyID)
		if kid == "" {
			kid = DefaultKeyID
		}
		paths[kid] = path
	}
	for kid, path := range opts.PublicKeyPaths {
		paths[strings.TrimSpace(kid)] = strings.TrimSpace(path)
	}
	for kid, path := range paths {
		if kid == "" || path == "" {
			continue
		}
		pub, err := LoadPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load internal verify key %q: %w", kid, err)
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("internal service verifier requires rsa public key")
	}

	return &Verifier{
		issuers: issuers,
		keys:    keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify checks signature, expiry, audience, issuer and the presence of jti
// and sub. It returns the calling service's issuer.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := v.keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return pub, nil
	})
	if err != nil {
		return "", err
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return "", ErrIssuerNotAllowed
	}
	if claims.ID == "" {
		return "", errors.New("jti required")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("subject required")
	}
	return claims.Issuer, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
