package usertoken

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"libraryhub/pkg/domain"
)

const (
	defaultIssuer   = "libraryhub-identity"
	defaultAudience = "libraryhub-api"
	defaultLeeway   = 30 * time.Second
)

var (
	errUnknownKey = errors.New("unknown token key")
	// ErrInvalidToken covers every rejected token; the cause is wrapped for logs only.
	ErrInvalidToken = errors.New("invalid access token")
)

// Config configures access-token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Claims are the access-token claims circulation reads. Role is one of
// admin, librarian or member.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates RS256 access tokens issued by the identity provider.
type Verifier struct {
	keys   *keySet
	parser *jwt.Parser
}

// NewVerifier fetches the JWKS once up front so misconfiguration fails at startup.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	v := &Verifier{
		keys: &keySet{url: jwksURL, client: client, now: time.Now},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
	if err := v.keys.refresh(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifyCaller validates token and returns the caller it identifies.
// A missing or unrecognised role claim yields a member.
func (v *Verifier) VerifyCaller(ctx context.Context, token string) (domain.Caller, error) {
	claims, err := v.verify(ctx, token)
	if err != nil {
		return domain.Caller{}, errors.Join(ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Caller{}, errors.Join(ErrInvalidToken, errors.New("token subject missing"))
	}
	return domain.Caller{ID: subject, Role: domain.ParseRole(claims.Role)}, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := v.parse(token)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, errUnknownKey) && !v.keys.stale() {
		return nil, err
	}
	if refreshErr := v.keys.refresh(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	return v.parse(token)
}

func (v *Verifier) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys.lookup(strings.TrimSpace(kid))
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
