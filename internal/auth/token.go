package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const issuer = "helpdesk-service"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevoked      = errors.New("token subject revoked")
)

// Identity is a verified staff member.
type Identity struct {
	Subject string
	Role    model.Role
}

type roleClaims struct {
	Role model.Role `json:"role"`
}

// Tokens issues and verifies signed staff tokens (HS256). Revocation is by
// subject, from a configured list.
type Tokens struct {
	key     []byte
	ttl     time.Duration
	revoked []string
	now     func() time.Time
}

// NewTokens derives a fixed-size HMAC key from secret.
func NewTokens(secret string, ttl time.Duration, revoked []string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	key := sha256.Sum256([]byte(secret))
	return &Tokens{key: key[:], ttl: ttl, revoked: revoked, now: time.Now}, nil
}

// Issue signs a token for subject with the given role.
func (t *Tokens) Issue(subject string, role model.Role) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if !role.IsStaff() {
		return "", time.Time{}, fmt.Errorf("auth: role %q cannot hold a token", role)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: t.key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signer: %w", err)
	}
	now := t.now()
	exp := now.Add(t.ttl)
	raw, err := jwt.Signed(signer).
		Claims(jwt.Claims{
			Issuer:   issuer,
			Subject:  subject,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(exp),
		}).
		Claims(roleClaims{Role: role}).
		Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign: %w", err)
	}
	return raw, exp, nil
}

// Verify checks signature, issuer, expiry, role and revocation.
func (t *Tokens) Verify(raw string) (Identity, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var std jwt.Claims
	var rc roleClaims
	if err := tok.Claims(t.key, &std, &rc); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: t.now()}, time.Minute); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" || !rc.Role.IsStaff() {
		return Identity{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	if slices.Contains(t.revoked, std.Subject) {
		return Identity{}, ErrRevoked
	}
	return Identity{Subject: std.Subject, Role: rc.Role}, nil
}
