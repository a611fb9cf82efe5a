package storage

import (
	"context"
	"sync"
	"time"

	"github.com/prappser/memories_server/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PathIndex reports whether a persisted record still references a storage key.
type PathIndex interface {
	StoragePathExists(ctx context.Context, path string) (bool, error)
}

// Sweeper removes blobs that no record references, e.g. blobs left behind by a cancelled
// ingestion batch or a commit that failed partway. Keys younger than the grace period are left
// alone because their batch may still be annotating.
type Sweeper struct {
	backend     Backend
	index       PathIndex
	prefix      string
	interval    time.Duration
	gracePeriod time.Duration
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(backend Backend, index PathIndex, prefix string, config SweepConfig) *Sweeper {
	interval := config.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	gracePeriod := config.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = 24 * time.Hour
	}

	return &Sweeper{
		backend:     backend,
		index:       index,
		prefix:      prefix,
		interval:    interval,
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	log.Info().
		Str("interval", s.interval.String()).
		Str("gracePeriod", s.gracePeriod.String()).
		Msg("Orphan sweep started")

	go s.loop(ctx, s.done)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Orphan sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	log.Info().Msg("Stopping orphan sweep")
	cancel()
	<-done
}

// RunNow performs one pass and returns the number of deleted blobs.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	metrics.SweepRunsTotal.Inc()

	keys, err := s.backend.List(ctx, s.prefix)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.gracePeriod)
	deleted := 0
	for _, key := range keys {
		uploadedAt, ok := keyTime(key)
		if !ok || uploadedAt.After(cutoff) {
			continue
		}

		referenced, err := s.index.StoragePathExists(ctx, key)
		if err != nil {
			return deleted, err
		}
		if referenced {
			continue
		}

		if err := s.backend.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to delete orphaned blob")
			continue
		}
		deleted++
		metrics.SweepDeletedTotal.Inc()
		log.Info().Str("key", key).Time("uploadedAt", uploadedAt).Msg("Deleted orphaned blob")
	}

	log.Info().
		Int("scanned", len(keys)).
		Int("deleted", deleted).
		Msg("Orphan sweep completed")
	return deleted, nil
}
