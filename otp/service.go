// Package otp issues and verifies password-reset one-time codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"signflow/notify"
)

const (
	// DefaultTTL is how long a code can be redeemed.
	DefaultTTL = 5 * time.Minute
	digits     = 6
)

// ErrEmailRequired signals a missing email.
var ErrEmailRequired = errors.New("otp: email required")

// Service issues and verifies codes.
type Service struct {
	repo   Repository
	sender notify.CodeSender
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	log    zerolog.Logger
}

func NewService(repo Repository, sender notify.CodeSender) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		ttl:    DefaultTTL,
		now:    time.Now,
		random: rand.Reader,
		log:    zerolog.Nop(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log zerolog.Logger) *Service {
	s.log = log.With().Str("component", "otp").Logger()
	return s
}

// Issue generates a code for email, stores its hash and mails it.
func (s *Service) Issue(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrEmailRequired
	}

	code, err := s.generate()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("otp: hash code: %w", err)
	}

	now := s.now()
	if err := s.repo.Create(ctx, Code{
		ID:        uuid.NewString(),
		Email:     email,
		Hash:      string(hash),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := s.sender.SendOneTimeCode(ctx, email, code); err != nil {
		s.log.Warn().Err(err).Str("email", email).Msg("one-time code delivery failed")
		return err
	}
	return nil
}

// Verify consumes the latest unused code for email if code matches it and
// it has not expired.
func (s *Service) Verify(ctx context.Context, email, code string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	stored, err := s.repo.LatestUnused(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if stored.ExpiresAt.Before(s.now()) {
		return false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(strings.TrimSpace(code))) != nil {
		return false, nil
	}
	return s.repo.MarkUsed(ctx, stored.ID)
}

func (s *Service) generate() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(s.random, limit)
	if err != nil {
		return "", fmt.Errorf("otp: generate: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
