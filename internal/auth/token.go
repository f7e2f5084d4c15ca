// Package auth binds a reporter identity to its requests.
//
// Remote ID location messages do not always carry the asset identifier, so
// a reporter logs in with its identifier and receives a short-lived signed
// token. The token is stateless: the gateway keeps only the signing secret.
// This is a stopgap until reporters present certificates; handlers depend
// on the Authenticator interface so the proof mechanism can be swapped.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Arrow-air/svc-telemetry/pkg/utils"
)

var (
	ErrConfig       = errors.New("auth: signing secret not configured")
	ErrClock        = errors.New("auth: current time out of token range")
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// DefaultLifetime is the fixed token window
const DefaultLifetime = 360 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Claim is the identity carried by a token
type Claim struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (c *Claim) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(utils.UnixToTime(c.ExpiresAt)), nil
}

func (c *Claim) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(utils.UnixToTime(c.IssuedAt)), nil
}

func (c *Claim) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claim) GetIssuer() (string, error)              { return "", nil }
func (c *Claim) GetSubject() (string, error)             { return c.Subject, nil }
func (c *Claim) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// TokenService issues and verifies HS256 tokens
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	now      utils.Clock
	parser   *jwt.Parser
}

// Option customizes a TokenService
type Option func(*TokenService)

// WithClock replaces the time source used for iat/exp and expiry checks
func WithClock(clock utils.Clock) Option {
	return func(s *TokenService) { s.now = clock }
}

// WithLifetime overrides DefaultLifetime
func WithLifetime(lifetime time.Duration) Option {
	return func(s *TokenService) { s.lifetime = lifetime }
}

// NewTokenService fails fast with ErrConfig when the secret is empty
func NewTokenService(secret string, opts ...Option) (*TokenService, error) {
	if secret == "" {
		return nil, ErrConfig
	}

	s := &TokenService{
		secret:   []byte(secret),
		lifetime: DefaultLifetime,
		now:      utils.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lifetime <= 0 {
		return nil, fmt.Errorf("%w: non-positive token lifetime", ErrConfig)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)

	return s, nil
}

// Lifetime is the window between iat and exp
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

// Issue signs a token for subject with exp = iat + lifetime
func (s *TokenService) Issue(subject string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrConfig
	}

	iat := s.now().Unix()
	if iat < 0 {
		return "", fmt.Errorf("%w: iat %d", ErrClock, iat)
	}
	window := int64(s.lifetime / time.Second)
	if iat > jwtMaxSeconds-window {
		return "", fmt.Errorf("%w: exp overflows for iat %d", ErrClock, iat)
	}

	claim := &Claim{
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: iat + window,
	}

	token, err := jwt.NewWithClaims(signingMethod, claim).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return token, nil
}

// jwtMaxSeconds keeps exp representable as an IEEE-754 double without loss
const jwtMaxSeconds = 1 << 53

// Verify checks signature, algorithm and expiry. Every failure is
// ErrUnauthorized.
func (s *TokenService) Verify(token string) (*Claim, error) {
	claim := &Claim{}
	_, err := s.parser.ParseWithClaims(token, claim, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claim, nil
}
