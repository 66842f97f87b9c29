// Package gates implements the quality gates evaluated at each phase
// boundary. Every gate is a pure function from session + output to a
// PASS/RETRY/FAIL decision with a human-readable reason.
package gates

import (
	"fmt"
	"strings"

	"github.com/opsleuth/opsleuth/internal/taxonomy"
	"github.com/opsleuth/opsleuth/pkg/models"
)

// MinConfidence is the per-phase confidence threshold for PASS.
const MinConfidence = 0.3

// MinRCALength is the minimum length of an acceptable RCA document.
const MinRCALength = 200

// requiredSections are the mandatory markers in a synthesized RCA.
var requiredSections = []string{"Executive Summary", "Root Cause", "Recommended Fix"}

// Planning decides PLANNING → TRIAGE: PASS iff the plan has at least one
// step. An empty plan is an immediate FAIL, never a retry.
func Planning(plan *models.Plan) models.GateDecision {
	if plan == nil || len(plan.Steps) == 0 {
		return models.GateDecision{
			Verdict: models.VerdictFail,
			Reason:  "no investigation plan",
		}
	}
	return models.GateDecision{
		Verdict: models.VerdictPass,
		Reason:  fmt.Sprintf("plan has %d step(s)", len(plan.Steps)),
	}
}

// Triage decides TRIAGE → CODE_ANALYSIS over the SRE output.
func Triage(out *models.SREOutput, retriesRemain bool) models.GateDecision {
	if d, halted := blockerCheck(out); halted {
		return d
	}
	hasEvidence := out.Evidence.ErrorSignature != "" || out.Evidence.StackTrace != ""
	if out.Confidence >= MinConfidence && hasEvidence {
		return models.GateDecision{
			Verdict: models.VerdictPass,
			Reason:  fmt.Sprintf("triage confidence %.2f with evidence", out.Confidence),
		}
	}
	reason := fmt.Sprintf("triage confidence %.2f below %.2f", out.Confidence, MinConfidence)
	if !hasEvidence {
		reason = "triage produced neither error signature nor stack trace"
	}
	return retryOrFail(retriesRemain, reason)
}

// Analysis decides CODE_ANALYSIS → SYNTHESIS over the investigator output.
func Analysis(out *models.InvestigatorOutput, retriesRemain bool) models.GateDecision {
	if d, halted := blockerCheck(out); halted {
		return d
	}
	if out.Confidence >= MinConfidence {
		return models.GateDecision{
			Verdict: models.VerdictPass,
			Reason:  fmt.Sprintf("analysis confidence %.2f", out.Confidence),
		}
	}
	return retryOrFail(retriesRemain,
		fmt.Sprintf("analysis confidence %.2f below %.2f", out.Confidence, MinConfidence))
}

// Synthesis decides SYNTHESIS → PUBLISH over the architect output: the
// RCA must exceed the minimum length and contain every mandatory section.
func Synthesis(out *models.ArchitectOutput, retriesRemain bool) models.GateDecision {
	if d, halted := blockerCheck(out); halted {
		return d
	}
	if len(out.RCAContent) < MinRCALength {
		return retryOrFail(retriesRemain,
			fmt.Sprintf("rca_content length %d below minimum %d", len(out.RCAContent), MinRCALength))
	}
	for _, section := range requiredSections {
		if !strings.Contains(out.RCAContent, section) {
			return retryOrFail(retriesRemain,
				fmt.Sprintf("rca_content missing mandatory section %q", section))
		}
	}
	return models.GateDecision{
		Verdict: models.VerdictPass,
		Reason:  "rca_content complete with all mandatory sections",
	}
}

// blockerCheck handles the two conditions that halt a phase regardless of
// remaining retries: a self-reported failed status, or a blocker that
// maps to a hard-blocker code.
func blockerCheck(out models.StructuredOutput) (models.GateDecision, bool) {
	if out.ReportedStatus() == models.OutputFailed {
		return models.GateDecision{
			Verdict: models.VerdictFail,
			Reason:  fmt.Sprintf("%s reported failed status", out.OutputRole()),
		}, true
	}
	if rec, ok := taxonomy.HasHardBlocker(out.ReportedBlockers()); ok {
		return models.GateDecision{
			Verdict: models.VerdictFail,
			Reason:  fmt.Sprintf("hard blocker %s: %s", rec.Code, rec.Message),
		}, true
	}
	return models.GateDecision{}, false
}

func retryOrFail(retriesRemain bool, reason string) models.GateDecision {
	if retriesRemain {
		return models.GateDecision{Verdict: models.VerdictRetry, Reason: reason}
	}
	return models.GateDecision{Verdict: models.VerdictFail, Reason: reason + "; retries exhausted"}
}
