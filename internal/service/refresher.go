package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const defaultRefresherInterval = 1 * time.Minute

// AuthorityRefresher keeps cached authority tables warm in the background
// so chat turns rarely pay fetch latency. Each tick walks the graph's
// authority entries and resolves them; the resolver only refetches targets
// whose cache has outlived the entry's refresh interval.
type AuthorityRefresher struct {
	trustStore domain.TrustStore
	resolver   *AuthorityResolver
	logger     *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewAuthorityRefresher(ts domain.TrustStore, resolver *AuthorityResolver, logger *zap.Logger) *AuthorityRefresher {
	return &AuthorityRefresher{
		trustStore: ts,
		resolver:   resolver,
		logger:     logger,
		interval:   defaultRefresherInterval,
		stopCh:     make(chan struct{}),
	}
}

func (s *AuthorityRefresher) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the refresher on a periodic schedule in a background goroutine.
func (s *AuthorityRefresher) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("authority refresher started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("authority refresher stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the refresher.
func (s *AuthorityRefresher) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *AuthorityRefresher) run(ctx context.Context) {
	entries, err := s.trustStore.List(ctx)
	if err != nil {
		s.logger.Error("failed to list entries for authority refresh", zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.Kind != domain.KindAuthority || e.Authority == nil || e.Authority.Target == "" {
			continue
		}
		if _, err := s.resolver.Resolve(ctx, &e); err != nil {
			s.logger.Warn("authority refresh failed",
				zap.String("authority", e.ID),
				zap.String("target", e.Authority.Target),
				zap.Error(err))
		}
	}
}
