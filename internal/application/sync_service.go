package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned when a manual sync is requested within the
// cooldown of the previous one.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultSyncCooldown is the minimum gap between two manual syncs.
const DefaultSyncCooldown = 30 * time.Second

// SyncServiceConfig holds the catalog sync schedule.
type SyncServiceConfig struct {
	Interval time.Duration // Between scheduled syncs
	Cooldown time.Duration // Between manual syncs; DefaultSyncCooldown when zero
}

// SyncResult reports the catalog changes of one sync.
type SyncResult struct {
	FilesAdded      int       `json:"files_added"`
	FilesRemoved    int       `json:"files_removed"`
	FilesTotal      int       `json:"files_total"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService keeps the layer catalog in step with remote storage, on a
// schedule and on request.
type SyncService struct {
	catalog *LayerCatalog
	config  SyncServiceConfig
	logger  *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	// running serializes catalog syncs.
	running sync.Mutex

	mu         sync.Mutex
	lastManual time.Time
	nextSync   time.Time
}

// NewSyncService creates a new sync service.
func NewSyncService(catalog *LayerCatalog, config SyncServiceConfig, logger *slog.Logger) *SyncService {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultSyncCooldown
	}
	return &SyncService{
		catalog: catalog,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs scheduled syncs until ctx ends or Stop is called.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.config.Interval, "cooldown", s.config.Cooldown)

	s.wg.Add(1)
	go s.schedule(ctx)
}

func (s *SyncService) schedule(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	s.setNextSync(time.Now().Add(s.config.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			if _, err := s.sync(ctx); err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
			s.setNextSync(time.Now().Add(s.config.Interval))
		}
	}
}

// Stop ends the scheduler and waits for a running sync to finish.
func (s *SyncService) Stop() {
	s.logger.Info("stopping sync service")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync runs a sync on demand. Calls within the cooldown of the last
// accepted call return ErrRateLimited.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if !s.lastManual.IsZero() && time.Since(s.lastManual) < s.config.Cooldown {
		s.mu.Unlock()
		return SyncResult{}, ErrRateLimited
	}
	s.lastManual = time.Now()
	s.mu.Unlock()

	return s.sync(ctx)
}

// RetryAfter returns how long a manual sync stays rate limited; zero when a
// sync would be accepted now.
func (s *SyncService) RetryAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastManual.IsZero() {
		return 0
	}
	return max(s.config.Cooldown-time.Since(s.lastManual), 0)
}

func (s *SyncService) sync(ctx context.Context) (SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	stats, err := s.catalog.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	s.mu.Lock()
	next := s.nextSync
	s.mu.Unlock()

	return SyncResult{
		FilesAdded:      stats.Added,
		FilesRemoved:    stats.Removed,
		FilesTotal:      s.catalog.FileCount(),
		SyncedAt:        time.Now(),
		NextScheduledAt: next,
	}, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSync = t
}

// Interval returns the time between scheduled syncs.
func (s *SyncService) Interval() time.Duration {
	return s.config.Interval
}

// Cooldown returns the minimum gap between manual syncs.
func (s *SyncService) Cooldown() time.Duration {
	return s.config.Cooldown
}
