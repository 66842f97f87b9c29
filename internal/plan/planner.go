// Package plan asks the external planning capability for an ordered list
// of investigation steps. The planner is opaque and asked exactly once
// per session; an empty or failed plan falls back to the default
// three-step plan covering the fixed specialist roles.
package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds the single planner call.
const DefaultTimeout = 30 * time.Second

// Planner fetches investigation plans from the planning capability.
type Planner struct {
	url     string
	timeout time.Duration
}

// New creates a Planner for the given endpoint. An empty URL means no
// planner is configured and the default plan is always used.
func New(url string, timeout time.Duration) *Planner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Planner{url: url, timeout: timeout}
}

// Plan asks the planning capability once for an ordered step list. Any
// failure — transport, decode, or an empty plan — falls back to
// DefaultPlan; the investigation never stalls on the planner.
func (p *Planner) Plan(ctx context.Context, userRequest, projectID, repoURL string) *models.Plan {
	if p.url == "" {
		return DefaultPlan()
	}

	got, err := p.fetch(ctx, userRequest, projectID, repoURL)
	if err != nil {
		log.Warn().Err(err).Msg("Planner unavailable, using default plan")
		return DefaultPlan()
	}
	if len(got.Steps) == 0 {
		log.Warn().Msg("Planner returned empty plan, using default plan")
		return DefaultPlan()
	}
	return got
}

func (p *Planner) fetch(ctx context.Context, userRequest, projectID, repoURL string) (*models.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"user_request": userRequest,
		"project_id":   projectID,
		"repo_url":     repoURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create plan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: p.timeout}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("planner returned %d", resp.StatusCode)
	}

	var plan models.Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan response: %w", err)
	}
	return &plan, nil
}

// DefaultPlan is the fixed three-step fallback mapping the delegated
// phases 1:1 onto the specialist roles.
func DefaultPlan() *models.Plan {
	return &models.Plan{
		Steps: []models.PlanStep{
			{TargetRole: models.RoleSRE, Task: "Triage the incident: collect logs, error signatures, stack traces, and metric anomalies."},
			{TargetRole: models.RoleInvestigator, Task: "Analyze the code: locate the defect, build the dependency chain, and state a hypothesis."},
			{TargetRole: models.RoleArchitect, Task: "Synthesize the root-cause-analysis document with executive summary, root cause, and recommended fix."},
		},
	}
}
