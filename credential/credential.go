// Package credential issues the short-lived bearer credential a recipient
// uses after opening their completion link.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role scopes what the bearer may do.
type Role string

const (
	RoleRecipient Role = "recipient"
	RoleViewer    Role = "viewer"
)

// DefaultTTL is how long a credential stays valid.
const DefaultTTL = time.Hour

// ErrInvalid signals a credential that failed verification.
var ErrInvalid = errors.New("credential: invalid credential")

// Claims are the verified contents of a credential.
type Claims struct {
	Subject   string
	External  bool
	Role      Role
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a credential for a recipient identity. External recipients
// only get the viewer role.
func (i *Issuer) Issue(identity string, external bool) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, fmt.Errorf("credential: identity required")
	}
	role := RoleRecipient
	if external {
		role = RoleViewer
	}

	now := i.now()
	expires := now.Add(i.ttl)
	claims := jwt.MapClaims{
		"sub":      identity,
		"external": external,
		"role":     string(role),
		"exp":      expires.Unix(),
		"iat":      now.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("credential: sign: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates a credential.
func (i *Issuer) Verify(raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Claims{}, ErrInvalid
	}
	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	external, _ := claims["external"].(bool)
	if subject == "" || (Role(role) != RoleRecipient && Role(role) != RoleViewer) {
		return Claims{}, ErrInvalid
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, ErrInvalid
	}
	return Claims{Subject: subject, External: external, Role: Role(role), ExpiresAt: exp.Time}, nil
}
