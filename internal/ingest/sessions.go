package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prappser/memories_server/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxSessions = 1024
	defaultSessionTTL  = time.Hour
)

var ErrSessionNotFound = errors.New("ingest session not found")

// session serializes updates with mu. Readers only take viewMu, so they see the last published
// batch while a long update such as a transfer is running.
type session struct {
	mu     sync.Mutex
	batch  Batch
	viewMu sync.RWMutex
	view   Batch
}

func (s *session) publish(b Batch) {
	s.viewMu.Lock()
	s.view = b
	s.viewMu.Unlock()
}

func (s *session) snapshot() Batch {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Sessions keeps in-progress batches for the HTTP surface. Sessions are bounded in number and
// expire after SessionTTL without activity; an evicted session is the same as a reset one.
type Sessions struct {
	cache *expirable.LRU[string, *session]
}

func NewSessions(config Config) *Sessions {
	maxSessions := config.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	ttl := config.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	onEvict := func(id string, _ *session) {
		metrics.ActiveSessions.Dec()
		log.Debug().Str("batchId", id).Msg("Ingest session removed")
	}
	return &Sessions{
		cache: expirable.NewLRU[string, *session](maxSessions, onEvict, ttl),
	}
}

func (s *Sessions) Create() Batch {
	batch := NewBatch(uuid.NewString())
	s.cache.Add(batch.ID, &session{batch: batch, view: batch})
	metrics.ActiveSessions.Inc()
	return batch
}

// Get returns the last published batch without waiting for an update in progress.
func (s *Sessions) Get(id string) (Batch, error) {
	sess, ok := s.cache.Get(id)
	if !ok {
		return Batch{}, ErrSessionNotFound
	}
	return sess.snapshot(), nil
}

// Publish makes b visible to Get while the session's update is still running.
func (s *Sessions) Publish(id string, b Batch) {
	if sess, ok := s.cache.Peek(id); ok {
		sess.publish(b)
	}
}

// Update runs fn on the session's batch while holding the session lock and stores the batch fn
// returns, even when fn also returns an error. Committed batches are dropped.
func (s *Sessions) Update(id string, fn func(Batch) (Batch, error)) (Batch, error) {
	sess, ok := s.cache.Get(id)
	if !ok {
		return Batch{}, ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	next, err := fn(sess.batch)
	sess.batch = next
	sess.publish(next)

	switch {
	case next.State == StateCommitted:
		s.cache.Remove(id)
	case s.cache.Contains(id):
		// re-adding refreshes the expiry
		s.cache.Add(id, sess)
	}
	return next, err
}

func (s *Sessions) Delete(id string) bool {
	return s.cache.Remove(id)
}

func (s *Sessions) Len() int {
	return s.cache.Len()
}
