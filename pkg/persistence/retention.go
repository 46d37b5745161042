package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepPageSize = 100

// Sweeper deletes conversations that have been idle longer than a TTL,
// on a cron schedule.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron
}

// SweeperConfig configures a retention sweeper.
type SweeperConfig struct {
	Store Store
	// TTL is how long a conversation may sit unmodified before it is
	// deleted.
	TTL time.Duration
	// Schedule is a cron expression; defaults to hourly.
	Schedule string
	Logger   zerolog.Logger
}

// NewSweeper creates a sweeper. Call Start to begin sweeping.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}

	return &Sweeper{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		schedule: schedule,
		logger:   cfg.Logger,
	}, nil
}

// Start schedules the sweep job.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info().Str("schedule", s.schedule).Dur("ttl", s.ttl).Msg("Retention sweeper started")
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// Sweep deletes all conversations idle past the TTL and returns how many
// were removed. It pages through the store so large backends are not
// loaded at once.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl)
	deleted := 0
	offset := 0

	for {
		metas, err := s.store.List(ctx, sweepPageSize, offset)
		if err != nil {
			return deleted, err
		}
		if len(metas) == 0 {
			return deleted, nil
		}

		// Deletions shrink the listing underneath us, so the offset only
		// advances past entries that were kept.
		kept := 0
		for _, meta := range metas {
			if meta.UpdatedAt.After(cutoff) {
				kept++
				continue
			}
			if err := s.store.Delete(ctx, meta.ID); err != nil {
				return deleted, err
			}
			deleted++
			s.logger.Debug().Str("id", meta.ID).Time("updated_at", meta.UpdatedAt).Msg("Expired conversation deleted")
		}

		if len(metas) < sweepPageSize {
			return deleted, nil
		}
		offset += kept
	}
}
