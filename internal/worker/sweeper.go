package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/models"
)

// SessionCompleter closes an active session.
type SessionCompleter interface {
	Complete(ctx context.Context, id uuid.UUID) (*models.Microclimate, error)
}

// ElapsedLister finds active sessions whose scheduled window has passed.
type ElapsedLister interface {
	ListElapsedActive(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// CompletionSweeper periodically completes active sessions past their
// scheduled end time, so sessions close even when no admin is connected.
type CompletionSweeper struct {
	store    ElapsedLister
	sessions SessionCompleter
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewCompletionSweeper creates a sweeper that ticks at the given interval.
func NewCompletionSweeper(store ElapsedLister, sessions SessionCompleter, interval time.Duration, logger *zap.Logger) *CompletionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CompletionSweeper{
		store:    store,
		sessions: sessions,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps until ctx is done.
func (s *CompletionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("completion sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep completes every elapsed active session. One failing session does
// not block the rest.
func (s *CompletionSweeper) Sweep(ctx context.Context) {
	ids, err := s.store.ListElapsedActive(ctx, s.now())
	if err != nil {
		s.logger.Warn("list elapsed sessions failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if _, err := s.sessions.Complete(ctx, id); err != nil {
			s.logger.Error("auto-complete session failed",
				zap.String("microclimate_id", id.String()), zap.Error(err))
			continue
		}
		s.logger.Info("session auto-completed", zap.String("microclimate_id", id.String()))
	}
}
