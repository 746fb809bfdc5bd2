// Package identity authenticates inbound requests by verifying HMAC-signed
// bearer tokens and exposing the decoded claims to downstream handlers.
//
// Tokens are issued elsewhere. This package only verifies them against a
// process-wide secret that is fixed at construction time.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned by NewVerifier when no signing secret is configured.
	ErrMissingSecret = errors.New("identity: signing secret is not configured")

	// ErrTokenInvalid matches every verification failure.
	ErrTokenInvalid = errors.New("identity: invalid token")

	ErrTokenEmpty     = fmt.Errorf("%w: token not found", ErrTokenInvalid)
	ErrTokenExpired   = fmt.Errorf("%w: token has expired", ErrTokenInvalid)
	ErrTokenMalformed = fmt.Errorf("%w: token is malformed", ErrTokenInvalid)
	ErrTokenSignature = fmt.Errorf("%w: signature is invalid", ErrTokenInvalid)
)

// TokenVerifier turns a raw token string into claims.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Verifier validates HS256/HS384/HS512 tokens against a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

type verifierOptions struct {
	issuer        string
	leeway        time.Duration
	requireExpiry bool
}

// VerifierOption customizes NewVerifier.
type VerifierOption func(*verifierOptions)

// WithIssuer requires the "iss" claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(o *verifierOptions) { o.issuer = issuer }
}

// WithExpirationRequired rejects tokens that carry no "exp" claim. Without it
// such tokens never expire, and an "exp" that is present is still enforced.
func WithExpirationRequired() VerifierOption {
	return func(o *verifierOptions) { o.requireExpiry = true }
}

// WithLeeway tolerates clock skew when checking exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(o *verifierOptions) { o.leeway = d }
}

// NewVerifier builds a Verifier. An empty secret is a configuration error
// and must stop the process at startup.
func NewVerifier(secret []byte, opts ...VerifierOption) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	var o verifierOptions
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		// HMAC only; prevents algorithm confusion with "none" or RSA public keys.
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
	}
	if o.requireExpiry {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}
	if o.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.issuer))
	}
	if o.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(o.leeway))
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &Verifier{secret: key, parser: jwt.NewParser(parserOpts...)}, nil
}

// Verify checks signature and time-based claims and returns the full
// payload. Whether the payload names a usable user is left to the caller.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrTokenEmpty
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, convertError(err)
	}
	return claims, nil
}

// convertError maps jwt library errors onto this package's sentinels.
func convertError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
