package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
)

// MemoryStore is a thread-safe in-memory SessionRepository with TTL-based
// expiry. Finished sessions older than the TTL are purged by a background
// janitor goroutine.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.InvestigationSession

	ttl    time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates an in-memory store. When ttl > 0 a janitor
// goroutine sweeps expired sessions every sweepInterval.
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*models.InvestigationSession),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		if sweepInterval <= 0 {
			sweepInterval = time.Hour
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.janitor(ctx, sweepInterval)
	} else {
		close(s.done)
	}
	return s
}

// CreateSession stores a new session. Fails with ErrConflict on duplicate IDs.
func (s *MemoryStore) CreateSession(_ context.Context, session *models.InvestigationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return &ErrConflict{Key: session.SessionID}
	}
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

// GetSession retrieves a copy of a session by ID.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.InvestigationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Key: id}
	}
	return cloneSession(session), nil
}

// UpdateSession replaces the session state atomically.
func (s *MemoryStore) UpdateSession(_ context.Context, session *models.InvestigationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; !exists {
		return &ErrNotFound{Key: session.SessionID}
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

// DeleteSession removes a session.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return &ErrNotFound{Key: id}
	}
	delete(s.sessions, id)
	return nil
}

// ListSessions returns up to limit sessions, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, limit int) ([]models.InvestigationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	result := make([]models.InvestigationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, *cloneSession(sess))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close stops the janitor and releases the store.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// janitor purges finished sessions whose UpdatedAt is older than the TTL.
// In-progress sessions are never purged; the orchestrator owns them.
func (s *MemoryStore) janitor(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged := s.Sweep(time.Now().UTC())
			if purged > 0 {
				log.Info().Int("purged", purged).Msg("Session janitor purged expired sessions")
			}
		}
	}
}

// Sweep purges finished sessions older than the TTL as of now. Exposed
// so operators (and tests) can force a sweep outside the ticker.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if sess.Status == models.StatusInProgress {
			continue
		}
		if now.Sub(sess.UpdatedAt) > s.ttl {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged
}

// cloneSession deep-copies the mutable collections so callers can never
// alias store-internal state.
func cloneSession(in *models.InvestigationSession) *models.InvestigationSession {
	out := *in
	out.PhaseTransitions = append([]models.PhaseTransition(nil), in.PhaseTransitions...)
	out.Blockers = append([]string(nil), in.Blockers...)
	out.Warnings = append([]string(nil), in.Warnings...)
	out.Recommendations = append([]string(nil), in.Recommendations...)
	out.RetryCounts = make(map[models.Phase]int, len(in.RetryCounts))
	for k, v := range in.RetryCounts {
		out.RetryCounts[k] = v
	}
	out.ConfidenceScores = make(map[models.Role]float64, len(in.ConfidenceScores))
	for k, v := range in.ConfidenceScores {
		out.ConfidenceScores[k] = v
	}
	out.Evidence = make(map[models.Role]models.StructuredOutput, len(in.Evidence))
	for k, v := range in.Evidence {
		out.Evidence[k] = cloneOutput(v)
	}
	return &out
}

// cloneOutput copies one output of the closed variant set so evidence
// can never be mutated through an aliased pointer.
func cloneOutput(in models.StructuredOutput) models.StructuredOutput {
	switch v := in.(type) {
	case *models.SREOutput:
		cp := *v
		cp.Evidence.MetricAnomalies = append([]string(nil), v.Evidence.MetricAnomalies...)
		cp.Blockers = append([]string(nil), v.Blockers...)
		cp.Recommendations = append([]string(nil), v.Recommendations...)
		return &cp
	case *models.InvestigatorOutput:
		cp := *v
		cp.DependencyChain = append([]string(nil), v.DependencyChain...)
		cp.Blockers = append([]string(nil), v.Blockers...)
		cp.Recommendations = append([]string(nil), v.Recommendations...)
		return &cp
	case *models.ArchitectOutput:
		cp := *v
		cp.Limitations = append([]string(nil), v.Limitations...)
		cp.Blockers = append([]string(nil), v.Blockers...)
		cp.Recommendations = append([]string(nil), v.Recommendations...)
		return &cp
	}
	return in
}
