package servicetoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTokenTTL = 60 * time.Second
	DefaultLeeway   = 15 * time.Second
	DefaultKeyID    = "internal-active"
	// CirculationAudience is the audience circulation accepts on its internal routes.
	CirculationAudience = "circulation"
)

// Signer issues short lived RS256 tokens for service to service calls.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    *rsa.PrivateKey
	kid    string
	now    func() time.Time
}

// SignerOptions configures a Signer. PrivateKey wins over PrivateKeyPath.
type SignerOptions struct {
	PrivateKey     *rsa.PrivateKey
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	key := opts.PrivateKey
	if key == nil {
		path := strings.TrimSpace(opts.PrivateKeyPath)
		if path == "" {
			return nil, errors.New("service token private key is required")
		}
		loaded, err := LoadPrivateKey(path)
		if err != nil {
			return nil, fmt.Errorf("load internal jwt private key: %w", err)
		}
		key = loaded
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = DefaultKeyID
	}
	return &Signer{issuer: issuer, ttl: ttl, key: key, kid: kid, now: time.Now}, nil
}

// Sign issues a token for audience with a fresh jti.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := s.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}
