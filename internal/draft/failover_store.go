package draft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tutorslots/internal/domain"
)

const defaultRecoveryInterval = time.Minute

// FailoverStore reads and writes the primary store and falls back to a
// secondary one while the primary is failing. Writes always reach the
// fallback too, so drafts saved during an outage are still found after the
// primary recovers. Keys written during an outage are replayed to the
// primary on their next read.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown           atomic.Bool
	mu               sync.Mutex
	lastCheck        time.Time
	recoveryInterval time.Duration

	pending sync.Map // keys changed while the primary was down
}

// NewFailoverStore wires primary and fallback.
func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: defaultRecoveryInterval,
	}
}

// usePrimary reports whether the primary should be tried now.
func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastCheck) >= s.recoveryInterval
}

func (s *FailoverStore) markDown(op string, err error) {
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("draft store primary failed, using fallback")
	}
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("draft store primary recovered")
	}
}

func (s *FailoverStore) Get(ctx context.Context, key string) ([]domain.Slot, bool, error) {
	if s.usePrimary() {
		if _, stale := s.pending.Load(key); stale {
			return s.replay(ctx, key)
		}
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			s.markUp()
			if ok {
				return v, true, nil
			}
			return s.fallback.Get(ctx, key)
		}
		s.markDown("get", err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key string, selection []domain.Slot) error {
	fbErr := s.fallback.Set(ctx, key, selection)
	if s.usePrimary() {
		err := s.primary.Set(ctx, key, selection)
		if err == nil {
			s.markUp()
			s.pending.Delete(key)
			return nil
		}
		s.markDown("set", err)
	}
	s.pending.Store(key, struct{}{})
	return fbErr
}

// Remove deletes key from both stores. A failed fallback delete is reported
// even when the primary succeeded, since a primary miss reads through to the
// fallback and would bring the entry back.
func (s *FailoverStore) Remove(ctx context.Context, key string) error {
	fbErr := s.fallback.Remove(ctx, key)
	if s.usePrimary() {
		err := s.primary.Remove(ctx, key)
		if err == nil {
			s.markUp()
			s.pending.Delete(key)
			return fbErr
		}
		s.markDown("remove", err)
	}
	s.pending.Store(key, struct{}{})
	return fbErr
}

// replay copies the fallback's view of key into the primary.
func (s *FailoverStore) replay(ctx context.Context, key string) ([]domain.Slot, bool, error) {
	v, ok, err := s.fallback.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		err = s.primary.Set(ctx, key, v)
	} else {
		err = s.primary.Remove(ctx, key)
	}
	if err != nil {
		s.markDown("replay", err)
		return v, ok, nil
	}
	s.markUp()
	s.pending.Delete(key)
	return v, ok, nil
}
