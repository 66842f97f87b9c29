// Package models defines the shared data model for the OpsLeuth
// investigation engine: sessions, workflow phases, specialist outputs,
// gate decisions, and the domain error taxonomy.
package models

import (
	"time"
)

// ── Workflow Phases ──────────────────────────────────────────

// Phase is a discrete stage of the investigation state machine.
type Phase string

const (
	PhaseIntake       Phase = "INTAKE"
	PhasePlanning     Phase = "PLANNING"
	PhaseTriage       Phase = "TRIAGE"
	PhaseCodeAnalysis Phase = "CODE_ANALYSIS"
	PhaseSynthesis    Phase = "SYNTHESIS"
	PhasePublish      Phase = "PUBLISH"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseFailed       Phase = "FAILED"
)

// PhaseOrder is the strict forward order of the state machine.
// FAILED is reachable from any phase and is not part of the forward path.
var PhaseOrder = []Phase{
	PhaseIntake,
	PhasePlanning,
	PhaseTriage,
	PhaseCodeAnalysis,
	PhaseSynthesis,
	PhasePublish,
	PhaseCompleted,
}

// NextPhase returns the phase that follows p on the forward path,
// or FAILED if p has no successor.
func NextPhase(p Phase) Phase {
	for i, cur := range PhaseOrder {
		if cur == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1]
		}
	}
	return PhaseFailed
}

// RoleForPhase maps a delegated phase to the specialist that handles it.
var RoleForPhase = map[Phase]Role{
	PhaseTriage:       RoleSRE,
	PhaseCodeAnalysis: RoleInvestigator,
	PhaseSynthesis:    RoleArchitect,
}

// ── Specialist Roles ─────────────────────────────────────────

// Role identifies one of the three fixed specialist capabilities.
type Role string

const (
	RoleSRE          Role = "sre"
	RoleInvestigator Role = "investigator"
	RoleArchitect    Role = "architect"
)

// ── Session ──────────────────────────────────────────────────

// SessionStatus is the terminal (or in-flight) status of an investigation.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusSuccess    SessionStatus = "SUCCESS"
	StatusPartial    SessionStatus = "PARTIAL"
	StatusFailure    SessionStatus = "FAILURE"
)

// PhaseTransition records one entry in the ordered phase log.
type PhaseTransition struct {
	Phase     Phase      `json:"phase"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// InvestigationSession is the per-investigation state. It is created on
// intake, mutated exclusively by the orchestration loop, and read-only
// everywhere else. Destroyed by TTL expiry or explicit delete.
type InvestigationSession struct {
	SessionID        string                    `json:"session_id"`
	Phase            Phase                     `json:"phase"`
	PhaseTransitions []PhaseTransition         `json:"phase_transitions"`
	RetryCounts      map[Phase]int             `json:"retry_counts"`
	Blockers         []string                  `json:"blockers"`
	ConfidenceScores map[Role]float64          `json:"confidence_scores"`
	Evidence         map[Role]StructuredOutput `json:"evidence"`
	Status           SessionStatus             `json:"status"`

	// Request fields captured at intake.
	UserRequest string `json:"user_request"`
	ProjectID   string `json:"project_id"`
	RepoURL     string `json:"repo_url"`
	UserEmail   string `json:"user_email,omitempty"`

	// Outcome fields set at PUBLISH.
	ArtifactURL     string   `json:"artifact_url,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh session in INTAKE with initialized maps.
func NewSession(id, userRequest, projectID, repoURL, userEmail string) *InvestigationSession {
	now := time.Now().UTC()
	s := &InvestigationSession{
		SessionID:        id,
		RetryCounts:      make(map[Phase]int),
		ConfidenceScores: make(map[Role]float64),
		Evidence:         make(map[Role]StructuredOutput),
		Status:           StatusInProgress,
		UserRequest:      userRequest,
		ProjectID:        projectID,
		RepoURL:          repoURL,
		UserEmail:        userEmail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.EnterPhase(PhaseIntake)
	return s
}

// EnterPhase closes the current transition record, appends a new one,
// and moves the session to p.
func (s *InvestigationSession) EnterPhase(p Phase) {
	now := time.Now().UTC()
	if n := len(s.PhaseTransitions); n > 0 && s.PhaseTransitions[n-1].ExitedAt == nil {
		s.PhaseTransitions[n-1].ExitedAt = &now
	}
	s.PhaseTransitions = append(s.PhaseTransitions, PhaseTransition{
		Phase:     p,
		EnteredAt: now,
	})
	s.Phase = p
	s.UpdatedAt = now
}

// ── Delegation ───────────────────────────────────────────────

// DelegationRequest describes one remote call to a specialist role.
type DelegationRequest struct {
	Role    Role                   `json:"role"`
	Task    string                 `json:"task"`
	Context map[string]interface{} `json:"context"`
	Timeout time.Duration          `json:"-"`
}

// DelegationResult is the transport-level outcome of a specialist call.
type DelegationResult struct {
	RawText    string           `json:"raw_text"`
	Output     StructuredOutput `json:"output,omitempty"`
	StatusCode int              `json:"status_code"`
	Latency    time.Duration    `json:"latency"`
}

// ── Structured Outputs (closed variant set) ──────────────────

// OutputStatus is the self-reported status literal in a specialist output.
type OutputStatus string

const (
	OutputSuccess OutputStatus = "success"
	OutputPartial OutputStatus = "partial"
	OutputFailed  OutputStatus = "failed"
)

// StructuredOutput is the closed variant set of validated specialist
// outputs. The only implementations are SREOutput, InvestigatorOutput,
// and ArchitectOutput; quality gates switch exhaustively over these.
type StructuredOutput interface {
	// OutputRole returns the role this output belongs to.
	OutputRole() Role
	// ReportedConfidence returns the self-reported confidence in [0,1].
	ReportedConfidence() float64
	// ReportedStatus returns the self-reported status literal.
	ReportedStatus() OutputStatus
	// ReportedBlockers returns the blockers the specialist surfaced.
	ReportedBlockers() []string
}

// SREEvidence is the evidence block in a triage output.
type SREEvidence struct {
	Timestamp       string   `json:"timestamp"`
	ErrorSignature  string   `json:"error_signature"`
	StackTrace      string   `json:"stack_trace"`
	VersionSHA      string   `json:"version_sha"`
	MetricAnomalies []string `json:"metric_anomalies"`
}

// SREOutput is the validated result of the TRIAGE phase.
type SREOutput struct {
	Status          OutputStatus `json:"status"`
	Confidence      float64      `json:"confidence"`
	Evidence        SREEvidence  `json:"evidence"`
	Blockers        []string     `json:"blockers"`
	Recommendations []string     `json:"recommendations"`
}

func (o *SREOutput) OutputRole() Role             { return RoleSRE }
func (o *SREOutput) ReportedConfidence() float64  { return o.Confidence }
func (o *SREOutput) ReportedStatus() OutputStatus { return o.Status }
func (o *SREOutput) ReportedBlockers() []string   { return o.Blockers }

// RootCause pinpoints the defect located during code analysis.
type RootCause struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Function   string `json:"function"`
	DefectType string `json:"defect_type"`
	Evidence   string `json:"evidence"`
}

// InvestigatorOutput is the validated result of the CODE_ANALYSIS phase.
type InvestigatorOutput struct {
	Status          OutputStatus `json:"status"`
	Confidence      float64      `json:"confidence"`
	RootCause       RootCause    `json:"root_cause"`
	DependencyChain []string     `json:"dependency_chain"`
	Hypothesis      string       `json:"hypothesis"`
	Blockers        []string     `json:"blockers"`
	Recommendations []string     `json:"recommendations"`
}

func (o *InvestigatorOutput) OutputRole() Role             { return RoleInvestigator }
func (o *InvestigatorOutput) ReportedConfidence() float64  { return o.Confidence }
func (o *InvestigatorOutput) ReportedStatus() OutputStatus { return o.Status }
func (o *InvestigatorOutput) ReportedBlockers() []string   { return o.Blockers }

// ArchitectOutput is the validated result of the SYNTHESIS phase.
type ArchitectOutput struct {
	Status          OutputStatus `json:"status"`
	Confidence      float64      `json:"confidence"`
	RCAContent      string       `json:"rca_content"`
	Limitations     []string     `json:"limitations"`
	Blockers        []string     `json:"blockers"`
	Recommendations []string     `json:"recommendations"`
}

func (o *ArchitectOutput) OutputRole() Role             { return RoleArchitect }
func (o *ArchitectOutput) ReportedConfidence() float64  { return o.Confidence }
func (o *ArchitectOutput) ReportedStatus() OutputStatus { return o.Status }
func (o *ArchitectOutput) ReportedBlockers() []string   { return o.Blockers }

// ── Gate Decisions ───────────────────────────────────────────

// Verdict is the outcome of a quality gate.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictRetry Verdict = "RETRY"
	VerdictFail  Verdict = "FAIL"
)

// GateDecision is a quality-gate outcome with a human-readable reason.
type GateDecision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// ── Planning ─────────────────────────────────────────────────

// PlanStep is one ordered step of an investigation plan.
type PlanStep struct {
	TargetRole Role   `json:"target_role"`
	Task       string `json:"task"`
}

// Plan is the ordered list of steps returned by the planning capability.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// ── Error Taxonomy ───────────────────────────────────────────

// ErrorCode is one of the fixed domain error codes E001–E006.
type ErrorCode string

const (
	ErrNoLogsFound       ErrorCode = "E001"
	ErrPermissionDenied  ErrorCode = "E002"
	ErrRepoAccessDenied  ErrorCode = "E003"
	ErrUnknownStackTrace ErrorCode = "E004"
	ErrVersionUnresolved ErrorCode = "E005"
	ErrLowConfidence     ErrorCode = "E006"
)

// ErrorRecord is a classified domain error with its recovery policy.
type ErrorRecord struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	IsBlocker      bool      `json:"is_blocker"`
	RecoveryAction string    `json:"recovery_action"`
}
