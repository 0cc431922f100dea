// internal/usecase/sweeper.go
package usecase

import (
	"context"
	"errors"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

const sweepBatch = 100

// Sweeper expires elapsed terms and escalates stale disputes on a ticker.
type Sweeper struct {
	store    repository.Store
	entities *EntityUsecase
	cfg      config.WorkersConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store repository.Store, entities *EntityUsecase, cfg config.WorkersConfig, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DisputeEscalationAfter <= 0 {
		cfg.DisputeEscalationAfter = 14 * 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		entities: entities,
		cfg:      cfg,
		logger:   logger.Named("sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Duration("dispute_escalation_after", s.cfg.DisputeEscalationAfter),
	)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one batch of each kind of work.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, escalated int, err error) {
	now := s.now()

	due, err := s.store.ListDueForExpiry(ctx, now, sweepBatch)
	if err != nil {
		return 0, 0, err
	}
	for _, ref := range due {
		_, err := s.entities.Act(ctx, ref, ActInput{Event: domain.EventExpire, Actor: actorSweeper})
		switch {
		case err == nil:
			expired++
			metrics.SweeperActions.WithLabelValues("expire").Inc()
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentUpdate):
			// renewed or cancelled since it was listed
		default:
			return expired, escalated, err
		}
	}

	stale, err := s.store.ListStaleDisputes(ctx, now.Add(-s.cfg.DisputeEscalationAfter), sweepBatch)
	if err != nil {
		return expired, escalated, err
	}
	for _, ref := range stale {
		ok, err := s.entities.EscalateDispute(ctx, ref)
		if err != nil {
			return expired, escalated, err
		}
		if ok {
			escalated++
			metrics.SweeperActions.WithLabelValues("escalate").Inc()
		}
	}

	if expired > 0 || escalated > 0 {
		s.logger.Info("sweep finished", zap.Int("expired", expired), zap.Int("escalated", escalated))
	}
	return expired, escalated, nil
}
