// Package analytics emits one event per phase transition, delegation
// attempt, and gate decision. Events are recorded synchronously with the
// session-state update (metrics + log); delivery to the external webhook
// sink is best-effort — a failed POST is logged and dropped, never
// propagated into the investigation.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
)

// EventType describes what happened.
type EventType string

const (
	EventPhaseTransition EventType = "phase_transition"
	EventAttempt         EventType = "delegation_attempt"
	EventGateDecision    EventType = "gate_decision"
	EventSessionFinished EventType = "session_finished"
)

// Event is the analytics payload shipped to the sink.
type Event struct {
	ID        string               `json:"id"`
	Type      EventType            `json:"type"`
	SessionID string               `json:"session_id"`
	Phase     models.Phase         `json:"phase,omitempty"`
	Role      models.Role          `json:"role,omitempty"`
	Attempt   int                  `json:"attempt,omitempty"`
	Outcome   string               `json:"outcome,omitempty"`
	Verdict   models.Verdict       `json:"verdict,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Status    models.SessionStatus `json:"status,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Sink records engine events. A nil *Sink is a valid no-op receiver so
// callers never need nil checks.
type Sink struct {
	url     string
	client  *http.Client
	metrics *Metrics
}

// NewSink creates a sink. An empty webhook URL disables external
// delivery; metrics and logs are still recorded.
func NewSink(webhookURL string) *Sink {
	return &Sink{
		url:     webhookURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		metrics: NewMetrics(),
	}
}

// PhaseEntered records a phase transition.
func (s *Sink) PhaseEntered(ctx context.Context, sessionID string, phase models.Phase) {
	if s == nil {
		return
	}
	s.metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
	s.deliver(ctx, Event{
		Type:      EventPhaseTransition,
		SessionID: sessionID,
		Phase:     phase,
	})
}

// PhaseFinished records the duration of a completed phase.
func (s *Sink) PhaseFinished(phase models.Phase, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
}

// Attempt records one delegation attempt and its outcome class.
func (s *Sink) Attempt(ctx context.Context, sessionID string, role models.Role, attempt int, outcome string) {
	if s == nil {
		return
	}
	s.metrics.AttemptsTotal.WithLabelValues(string(role), outcome).Inc()
	s.deliver(ctx, Event{
		Type:      EventAttempt,
		SessionID: sessionID,
		Role:      role,
		Attempt:   attempt,
		Outcome:   outcome,
	})
}

// GateDecided records a quality-gate decision.
func (s *Sink) GateDecided(ctx context.Context, sessionID string, phase models.Phase, decision models.GateDecision) {
	if s == nil {
		return
	}
	s.metrics.GateDecisionsTotal.WithLabelValues(string(phase), string(decision.Verdict)).Inc()
	s.deliver(ctx, Event{
		Type:      EventGateDecision,
		SessionID: sessionID,
		Phase:     phase,
		Verdict:   decision.Verdict,
		Reason:    decision.Reason,
	})
}

// SessionFinished records the terminal status of an investigation.
func (s *Sink) SessionFinished(ctx context.Context, sessionID string, status models.SessionStatus) {
	if s == nil {
		return
	}
	s.metrics.SessionsTotal.WithLabelValues(string(status)).Inc()
	s.deliver(ctx, Event{
		Type:      EventSessionFinished,
		SessionID: sessionID,
		Status:    status,
	})
}

// deliver ships the event to the webhook sink, best-effort.
func (s *Sink) deliver(ctx context.Context, evt Event) {
	evt.ID = uuid.New().String()
	evt.Timestamp = time.Now().UTC()

	log.Debug().
		Str("event", string(evt.Type)).
		Str("session_id", evt.SessionID).
		Str("phase", string(evt.Phase)).
		Msg("Analytics event")

	if s.url == "" {
		return
	}

	body, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal analytics event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build analytics request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("event", string(evt.Type)).Msg("Analytics delivery failed")
		return
	}
	resp.Body.Close()
}
