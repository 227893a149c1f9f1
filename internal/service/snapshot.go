package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/store"
)

const defaultSnapshotInterval = 30 * time.Second

// SnapshotService persists the in-memory stores to the NDJSON state file on
// a periodic schedule and once more at shutdown. Writes are skipped while
// the store versions match the last saved ones, so an idle server never
// touches disk.
type SnapshotService struct {
	trustStore        *store.TrustStore
	conversationStore *store.ConversationStore
	path              string
	logger            *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu         sync.Mutex
	savedTrust uint64
	savedConv  uint64
}

func NewSnapshotService(ts *store.TrustStore, cs *store.ConversationStore, path string, logger *zap.Logger) *SnapshotService {
	return &SnapshotService{
		trustStore:        ts,
		conversationStore: cs,
		path:              path,
		logger:            logger,
		interval:          defaultSnapshotInterval,
		stopCh:            make(chan struct{}),
	}
}

func (s *SnapshotService) SetInterval(d time.Duration) {
	s.interval = d
}

// MarkSaved primes dirty tracking after boot restores state, so the first
// tick does not rewrite what was just loaded.
func (s *SnapshotService) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedTrust = s.trustStore.Version()
	s.savedConv = s.conversationStore.Version()
}

// Start runs the snapshot worker in a background goroutine.
func (s *SnapshotService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("snapshot worker started",
			zap.String("path", s.path),
			zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.Save(ctx); err != nil {
					s.logger.Error("periodic snapshot failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				// Final flush so shutdown never loses acknowledged writes.
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.Save(ctx); err != nil {
					s.logger.Error("shutdown snapshot failed", zap.Error(err))
				}
				cancel()
				s.logger.Info("snapshot worker stopped")
				return
			}
		}
	}()
}

// Stop flushes once more and joins the worker.
func (s *SnapshotService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Save writes the state file when either store moved past the last saved
// version. Concurrent saves are serialized.
func (s *SnapshotService) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tv := s.trustStore.Version()
	cv := s.conversationStore.Version()
	if tv == s.savedTrust && cv == s.savedConv {
		return nil
	}

	trust, err := s.trustStore.List(ctx)
	if err != nil {
		return err
	}
	conversations, err := s.conversationStore.List(ctx)
	if err != nil {
		return err
	}
	if err := store.SaveState(s.path, trust, conversations); err != nil {
		return err
	}

	s.savedTrust = tv
	s.savedConv = cv
	s.logger.Debug("state snapshot written",
		zap.Int("trust_entries", len(trust)),
		zap.Int("conversations", len(conversations)))
	return nil
}
