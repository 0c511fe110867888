// Package identity verifies third-party identity tokens (OpenID Connect style
// JWTs) and extracts the external subject they vouch for.
package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongIssuer  = errors.New("wrong issuer")
	ErrNoSubject    = errors.New("token has no subject")
	ErrNoKey        = errors.New("no verification key configured")
)

// DefaultIssuers are the issuer values used by Google sign-in tokens
var DefaultIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Identity is the verified external identity carried by a token
type Identity struct {
	Subject string
	Issuer  string
	Email   string
}

// Claims are the token claims read by the verifier
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Config configures a Verifier. Exactly one of HMACSecret or PublicKey is used;
// PublicKey wins when both are set.
type Config struct {
	Audience   string
	Issuers    []string
	HMACSecret []byte
	PublicKey  *rsa.PublicKey
}

// Verifier checks token signatures, expiry, audience and issuer
type Verifier struct {
	audience string
	issuers  []string
	key      any
	methods  []string
}

// NewVerifier creates a verifier from cfg
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{
		audience: cfg.Audience,
		issuers:  cfg.Issuers,
	}
	if len(v.issuers) == 0 {
		v.issuers = DefaultIssuers
	}

	switch {
	case cfg.PublicKey != nil:
		v.key = cfg.PublicKey
		v.methods = []string{jwt.SigningMethodRS256.Alg()}
	case len(cfg.HMACSecret) > 0:
		v.key = cfg.HMACSecret
		v.methods = []string{jwt.SigningMethodHS256.Alg()}
	default:
		return nil, ErrNoKey
	}
	return v, nil
}

// LoadPublicKey reads a PEM encoded RSA public key
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// Verify validates the token and returns the identity it carries
func (v *Verifier) Verify(_ context.Context, token string) (*Identity, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: %q", ErrWrongIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}

	return &Identity{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Email:   claims.Email,
	}, nil
}
