// Package orchestrator drives an investigation session through the
// workflow state machine:
//
//	INTAKE → PLANNING → TRIAGE → CODE_ANALYSIS → SYNTHESIS → PUBLISH → COMPLETED
//
// FAILED is reachable from every phase. Each delegated phase shares one
// attempt budget across transport errors, parse errors, and quality-gate
// RETRY decisions; hard blockers halt the run without consuming retries.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opsleuth/opsleuth/internal/analytics"
	"github.com/opsleuth/opsleuth/internal/artifact"
	"github.com/opsleuth/opsleuth/internal/config"
	"github.com/opsleuth/opsleuth/internal/confidence"
	"github.com/opsleuth/opsleuth/internal/delegate"
	"github.com/opsleuth/opsleuth/internal/gates"
	"github.com/opsleuth/opsleuth/internal/plan"
	"github.com/opsleuth/opsleuth/internal/store"
	"github.com/opsleuth/opsleuth/internal/taxonomy"
	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("opsleuth-orchestrator")

// WidenedLogWindowHours is the log search window sent on the one-time
// re-triage after a "no logs found" error.
const WidenedLogWindowHours = 72

// delegatedPhases are the phases handled by a remote specialist, in order.
var delegatedPhases = []models.Phase{
	models.PhaseTriage,
	models.PhaseCodeAnalysis,
	models.PhaseSynthesis,
}

// GateRejection carries a non-PASS gate decision through the delegation
// loop. RETRY decisions are retryable within the shared attempt budget;
// FAIL decisions abort the phase immediately.
type GateRejection struct {
	Phase    models.Phase
	Decision models.GateDecision
}

func (e *GateRejection) Error() string {
	return fmt.Sprintf("%s gate: %s", e.Phase, e.Decision.Reason)
}

// Retryable reports whether the gate asked for another attempt.
func (e *GateRejection) Retryable() bool {
	return e.Decision.Verdict == models.VerdictRetry
}

// recoveryRetry re-delegates after an inline mitigation mutated the
// request context. Always retryable; it spends one attempt.
type recoveryRetry struct {
	reason string
}

func (e *recoveryRetry) Error() string {
	return "re-delegating after recovery: " + e.reason
}

func (e *recoveryRetry) Retryable() bool { return true }

// Engine runs investigations. It owns no per-session state: everything
// lives in the InvestigationSession persisted through the repository.
type Engine struct {
	sessions  store.SessionRepository
	planner   *plan.Planner
	artifacts *artifact.Store
	sink      *analytics.Sink
	budgets   config.BudgetConfig

	specialistURL string

	// sleep overrides delegation backoff, for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires the engine to its collaborators.
func NewEngine(sessions store.SessionRepository, planner *plan.Planner, artifacts *artifact.Store, sink *analytics.Sink, cfg *config.Config) *Engine {
	return &Engine{
		sessions:      sessions,
		planner:       planner,
		artifacts:     artifacts,
		sink:          sink,
		budgets:       cfg.Budgets,
		specialistURL: cfg.Endpoints.SpecialistBaseURL,
	}
}

// WithSleep overrides the delegation backoff sleep, for tests.
func (e *Engine) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Engine {
	e.sleep = fn
	return e
}

// Run drives the session through the state machine to COMPLETED or
// FAILED. The whole run is bounded by the investigation wall-clock
// budget. The returned session reflects the terminal state; the error is
// non-nil only when the session could not be loaded at all.
func (e *Engine) Run(ctx context.Context, sessionID string) (sess *models.InvestigationSession, err error) {
	sess, err = e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.budgets.InvestigationBudget)
	defer cancel()

	ctx, span := tracer.Start(ctx, "investigation.run",
		oteltrace.WithAttributes(attribute.String("opsleuth.session_id", sessionID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("session_id", sessionID).Interface("panic", r).Msg("Investigation panicked")
			e.fail(ctx, sess, fmt.Sprintf("internal error: %v", r))
		}
	}()

	log.Info().
		Str("session_id", sessionID).
		Str("project_id", sess.ProjectID).
		Msg("Investigation started")

	// PLANNING: the planner is asked exactly once; it can degrade to the
	// default plan but an empty plan fails the run outright.
	e.enterPhase(ctx, sess, models.PhasePlanning)
	investigationPlan := e.planner.Plan(ctx, sess.UserRequest, sess.ProjectID, sess.RepoURL)
	planDecision := gates.Planning(investigationPlan)
	e.sink.GateDecided(ctx, sessionID, models.PhasePlanning, planDecision)
	if planDecision.Verdict != models.VerdictPass {
		e.fail(ctx, sess, planDecision.Reason)
		return sess, nil
	}

	delegator := e.newDelegator()
	delegationCtx := map[string]interface{}{
		"user_request": sess.UserRequest,
		"project_id":   sess.ProjectID,
		"repo_url":     sess.RepoURL,
	}

	for _, phase := range delegatedPhases {
		if ctx.Err() != nil {
			e.fail(ctx, sess, "investigation budget exceeded")
			return sess, nil
		}
		e.enterPhase(ctx, sess, phase)
		started := time.Now()
		phaseErr := e.runPhase(ctx, sess, delegator, phase, taskFor(investigationPlan, models.RoleForPhase[phase]), delegationCtx)
		e.sink.PhaseFinished(phase, time.Since(started))
		if phaseErr != nil {
			e.fail(ctx, sess, phaseErr.Error())
			return sess, nil
		}
		e.persist(ctx, sess)
	}

	e.publish(ctx, sess)
	return sess, nil
}

// runPhase delegates one phase to its specialist and commits the gated
// output. The gate runs inside the delegation loop so that RETRY
// decisions and transport/parse errors draw from the same attempt budget.
func (e *Engine) runPhase(ctx context.Context, sess *models.InvestigationSession, delegator *delegate.Delegator, phase models.Phase, task string, delegationCtx map[string]interface{}) error {
	role := models.RoleForPhase[phase]
	req := models.DelegationRequest{
		Role:    role,
		Task:    task,
		Context: delegationCtx,
		Timeout: e.budgets.AttemptTimeout,
	}

	delegator.WithObserver(func(attempt int, outcome string) {
		e.sink.Attempt(ctx, sess.SessionID, role, attempt, outcome)
	})

	var lastDecision models.GateDecision
	widened := false
	check := func(out models.StructuredOutput, retriesRemain bool) error {
		// E001: widen the log search window once and spend one attempt
		// on a re-triage before the gate sees the output. A hard blocker
		// alongside it still halts first; recovery never buys an attempt
		// for an output the gate would reject outright.
		_, hardBlocked := taxonomy.HasHardBlocker(out.ReportedBlockers())
		if phase == models.PhaseTriage && !widened && retriesRemain && !hardBlocked {
			for _, b := range out.ReportedBlockers() {
				if rec := taxonomy.ClassifyBlocker(b); rec.Code == models.ErrNoLogsFound {
					widened = true
					req.Context["log_window_hours"] = WidenedLogWindowHours
					sess.Warnings = append(sess.Warnings,
						fmt.Sprintf("widened log search window to %dh after: %s", WidenedLogWindowHours, b))
					return &recoveryRetry{reason: rec.RecoveryAction}
				}
			}
		}
		lastDecision = evaluateGate(phase, out, retriesRemain)
		if lastDecision.Verdict != models.VerdictPass {
			return &GateRejection{Phase: phase, Decision: lastDecision}
		}
		return nil
	}

	result, attempts, err := delegator.Delegate(ctx, req, check)
	sess.RetryCounts[phase] = attempts
	if lastDecision.Verdict != "" {
		e.sink.GateDecided(ctx, sess.SessionID, phase, lastDecision)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("investigation budget exceeded during %s", phase)
		}
		return fmt.Errorf("%s failed: %s", phase, err.Error())
	}

	e.commitOutput(sess, role, result, delegationCtx)
	return nil
}

// commitOutput applies the remaining soft recoveries and records the
// output's evidence, confidence, and recommendations on the session. The
// committed output also joins the context sent to later phases, keyed by
// role, so each specialist sees everything gathered before it.
func (e *Engine) commitOutput(sess *models.InvestigationSession, role models.Role, result *models.DelegationResult, delegationCtx map[string]interface{}) {
	out := result.Output
	score := out.ReportedConfidence()

	for _, b := range out.ReportedBlockers() {
		rec := taxonomy.ClassifyBlocker(b)
		switch rec.Code {
		case models.ErrUnknownStackTrace:
			if sre, ok := out.(*models.SREOutput); ok && sre.Evidence.StackTrace == "" {
				if trace := salvageStackTrace(result.RawText); trace != "" {
					sre.Evidence.StackTrace = trace
					sess.Warnings = append(sess.Warnings, "stack trace recovered by pattern fallback")
					continue
				}
			}
			sess.Warnings = append(sess.Warnings, b)
		case models.ErrVersionUnresolved:
			score = confidence.ApplyPenalty(score, e.budgets.VersionPenalty)
			sess.Warnings = append(sess.Warnings, "deployed version unresolved, confidence reduced: "+b)
		case models.ErrLowConfidence:
			sess.Warnings = append(sess.Warnings, "human review recommended: "+b)
		case models.ErrNoLogsFound:
			sess.Warnings = append(sess.Warnings, b)
		}
	}

	sess.Evidence[role] = out
	sess.ConfidenceScores[role] = score
	sess.Recommendations = append(sess.Recommendations, recommendationsOf(out)...)
	delegationCtx[string(role)] = out

	log.Info().
		Str("session_id", sess.SessionID).
		Str("role", string(role)).
		Float64("confidence", score).
		Msg("Phase output committed")
}

// publish uploads the RCA for non-failed outcomes, settles the terminal
// status, and closes the session.
func (e *Engine) publish(ctx context.Context, sess *models.InvestigationSession) {
	e.enterPhase(ctx, sess, models.PhasePublish)

	aggregate := confidence.Aggregate(sess.ConfidenceScores)
	status := confidence.TerminalStatus(aggregate, false, len(sess.Blockers))

	if status != models.StatusFailure {
		if arch, ok := sess.Evidence[models.RoleArchitect].(*models.ArchitectOutput); ok {
			key := "rca/" + sess.SessionID + ".md"
			url, err := e.artifacts.Upload(ctx, arch.RCAContent, key)
			if err != nil {
				// Publication is best-effort: the investigation result
				// stands even when the store is down.
				log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("RCA upload failed")
				sess.Warnings = append(sess.Warnings, "artifact upload failed: "+err.Error())
			} else {
				sess.ArtifactURL = url
			}
		}
	}

	sess.Status = status
	e.enterPhase(ctx, sess, models.PhaseCompleted)
	e.persist(ctx, sess)
	e.sink.SessionFinished(ctx, sess.SessionID, status)

	log.Info().
		Str("session_id", sess.SessionID).
		Str("status", string(status)).
		Float64("aggregate_confidence", aggregate).
		Str("artifact_url", sess.ArtifactURL).
		Msg("Investigation finished")
}

// fail moves the session to FAILED from whatever phase it is in.
func (e *Engine) fail(ctx context.Context, sess *models.InvestigationSession, reason string) {
	if reason != "" {
		sess.Blockers = append(sess.Blockers, reason)
	}
	sess.Status = models.StatusFailure
	e.enterPhase(ctx, sess, models.PhaseFailed)
	e.persist(ctx, sess)
	e.sink.SessionFinished(ctx, sess.SessionID, models.StatusFailure)

	log.Warn().
		Str("session_id", sess.SessionID).
		Str("reason", reason).
		Msg("Investigation failed")
}

func (e *Engine) enterPhase(ctx context.Context, sess *models.InvestigationSession, phase models.Phase) {
	sess.EnterPhase(phase)
	e.sink.PhaseEntered(ctx, sess.SessionID, phase)
	log.Info().
		Str("session_id", sess.SessionID).
		Str("phase", string(phase)).
		Msg("Phase entered")
}

// persist writes the session back; a storage error is logged but never
// interrupts the run, the in-memory session stays authoritative.
func (e *Engine) persist(ctx context.Context, sess *models.InvestigationSession) {
	if err := e.sessions.UpdateSession(ctx, sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.SessionID).Msg("Failed to persist session")
	}
}

// newDelegator builds the delegator scoped to one investigation run, so
// its connection resources are released when the run ends.
func (e *Engine) newDelegator() *delegate.Delegator {
	d := delegate.New(e.specialistURL, e.budgets.AttemptTimeout, e.budgets.MaxAttempts)
	if e.sleep != nil {
		d.WithSleep(e.sleep)
	}
	return d
}

// evaluateGate dispatches the phase's quality gate over the closed
// variant set of outputs.
func evaluateGate(phase models.Phase, out models.StructuredOutput, retriesRemain bool) models.GateDecision {
	switch v := out.(type) {
	case *models.SREOutput:
		return gates.Triage(v, retriesRemain)
	case *models.InvestigatorOutput:
		return gates.Analysis(v, retriesRemain)
	case *models.ArchitectOutput:
		return gates.Synthesis(v, retriesRemain)
	default:
		return models.GateDecision{
			Verdict: models.VerdictFail,
			Reason:  fmt.Sprintf("unexpected output type for %s", phase),
		}
	}
}

// taskFor returns the plan's task for a role, or the default plan's task
// when the planner omitted the role.
func taskFor(p *models.Plan, role models.Role) string {
	for _, step := range p.Steps {
		if step.TargetRole == role {
			return step.Task
		}
	}
	for _, step := range plan.DefaultPlan().Steps {
		if step.TargetRole == role {
			return step.Task
		}
	}
	return ""
}

func recommendationsOf(out models.StructuredOutput) []string {
	switch v := out.(type) {
	case *models.SREOutput:
		return v.Recommendations
	case *models.InvestigatorOutput:
		return v.Recommendations
	case *models.ArchitectOutput:
		return v.Recommendations
	}
	return nil
}

// stackFrameRe matches common stack-frame shapes: JVM-style "at ..."
// frames, CPython 'File "...", line N' frames, and exception headers.
var stackFrameRe = regexp.MustCompile(`(?m)^[ \t]*(at [^\n]+|File "[^"]+", line \d+[^\n]*|[\w.$]+(?:Exception|Error)[:\s][^\n]*)$`)

// salvageStackTrace extracts stack-trace-looking lines from free text.
// Used as the fallback when the specialist could not recognize the trace
// pattern itself but the raw response still contains frames.
func salvageStackTrace(raw string) string {
	frames := stackFrameRe.FindAllString(raw, -1)
	if len(frames) == 0 {
		return ""
	}
	trimmed := make([]string, 0, len(frames))
	for _, f := range frames {
		trimmed = append(trimmed, strings.TrimSpace(f))
	}
	return strings.Join(trimmed, "\n")
}
