package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")
	ErrMissingToken = errors.New("access token not provided")
	ErrWeakSecret   = errors.New("token secret must be at least 16 bytes")
)

// hkdfInfo binds derived signing keys to this token format.
const hkdfInfo = "rankvote access token v1"

// Identity is what an access token proves: a user with a display name
// belonging to one poll.
type Identity struct {
	PollID string
	UserID string
	Name   string
}

// Claims is the JWT payload. The subject carries the user ID.
type Claims struct {
	PollID string `json:"pollID"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Authority issues and verifies access tokens. Verification needs no store
// lookup; callers check that the poll still exists.
type Authority struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewAuthority creates an authority whose tokens expire after ttl.
func NewAuthority(secret string, ttl time.Duration) (*Authority, error) {
	return NewAuthorityWithClock(secret, ttl, nil)
}

// NewAuthorityWithClock creates an authority using now as its time source.
func NewAuthorityWithClock(secret string, ttl time.Duration, now func() time.Time) (*Authority, error) {
	if len(secret) < 16 {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if now == nil {
		now = time.Now
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Authority{key: key, ttl: ttl, now: now}, nil
}

// TTL returns the lifetime of issued tokens.
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Issue signs a token for id.
func (a *Authority) Issue(id Identity) (string, error) {
	now := a.now()
	claims := Claims{
		PollID: id.PollID,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// Verify checks signature and expiry and returns the embedded identity.
func (a *Authority) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.PollID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject or poll", ErrInvalidToken)
	}

	return Identity{PollID: claims.PollID, UserID: claims.Subject, Name: claims.Name}, nil
}
