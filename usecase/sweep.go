package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kintsugi-app/server/domain/repositories"
)

// ExpirySweeper cancels sessions that went inactive past the retention
// window, in the background
type ExpirySweeper struct {
	sessionRepo repositories.SessionRepository
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(sessionRepo repositories.SessionRepository, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		sessionRepo: sessionRepo,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background sweep process
func (s *ExpirySweeper) Start() {
	go s.sweepLoop()
	s.logger.Info("Session expiry sweeper started")
}

// Stop gracefully stops the sweeper
func (s *ExpirySweeper) Stop() {
	close(s.stopChan)
	s.logger.Info("Session expiry sweeper stopped")
}

func (s *ExpirySweeper) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial sweep shortly after startup
	initialTimer := time.NewTimer(1 * time.Minute)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.runSweep()
		case <-ticker.C:
			s.runSweep()
		}
	}
}

func (s *ExpirySweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s.logger.Info("Starting session expiry sweep")

	if err := s.sessionRepo.ExpireStale(ctx); err != nil {
		s.logger.Error("Failed to expire stale sessions", zap.Error(err))
		return
	}

	s.logger.Info("Session expiry sweep completed")
}
