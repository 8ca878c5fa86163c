// Package token mints and resolves per-recipient capability tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"signflow/errs"
)

// Size is the number of random bytes behind a token.
const Size = 32

var (
	// ErrMalformed signals a token that could never have been issued.
	ErrMalformed = errs.New(errs.KindInvalidToken, "token: malformed")
	// ErrUnknown signals a well formed token with no record behind it.
	ErrUnknown = errs.New(errs.KindInvalidToken, "token: not recognised")
)

var encoding = base64.RawURLEncoding

// Binding is what a token authorizes: one recipient on one document.
type Binding struct {
	DocumentID        string
	RecipientIdentity string
	External          bool
}

// Lookup resolves a token to its binding. It returns an error of kind
// NOT_FOUND or INVALID_TOKEN when nothing is bound to the token.
type Lookup interface {
	LookupToken(ctx context.Context, token string) (Binding, error)
}

// Issuer mints tokens from a random source.
type Issuer struct {
	random io.Reader
}

// NewIssuer returns an issuer reading from crypto/rand.
func NewIssuer() *Issuer {
	return &Issuer{random: rand.Reader}
}

// WithRandom overrides the random source.
func (i *Issuer) WithRandom(r io.Reader) *Issuer {
	i.random = r
	return i
}

// Issue returns a fresh url-safe token carrying Size random bytes.
func (i *Issuer) Issue() (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return encoding.EncodeToString(buf), nil
}

// Parse trims raw and checks that it decodes to Size bytes.
func Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMalformed
	}
	decoded, err := encoding.DecodeString(raw)
	if err != nil || len(decoded) != Size {
		return "", ErrMalformed
	}
	return raw, nil
}

// Resolve parses raw and resolves it through lookup.
func Resolve(ctx context.Context, lookup Lookup, raw string) (Binding, error) {
	tok, err := Parse(raw)
	if err != nil {
		return Binding{}, err
	}
	binding, err := lookup.LookupToken(ctx, tok)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidToken) {
			return Binding{}, ErrUnknown
		}
		return Binding{}, fmt.Errorf("token: resolve: %w", err)
	}
	return binding, nil
}
