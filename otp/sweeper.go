package otp

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often stale codes are deleted.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically deletes used and expired codes until its context
// is cancelled.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewSweeper(repo Repository, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		repo:     repo,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "otp_sweeper").Logger(),
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.repo.DeleteStale(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return 0
	}
	if n > 0 {
		s.log.Debug().Int64("deleted", n).Msg("stale codes removed")
	}
	return n
}
