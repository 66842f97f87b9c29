// Package confidence combines per-phase confidences into an overall
// score and maps it to a terminal investigation status.
package confidence

import (
	"github.com/opsleuth/opsleuth/pkg/models"
)

// SuccessThreshold is the minimum aggregate confidence for SUCCESS.
const SuccessThreshold = 0.7

// PartialThreshold is the minimum aggregate confidence for PARTIAL.
const PartialThreshold = 0.3

// Aggregate returns the mean of the confidences actually recorded.
// Order-independent over the set of roles that produced evidence.
// Returns 0 when no evidence was gathered.
func Aggregate(scores map[models.Role]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

// ApplyPenalty subtracts a fixed penalty from a score, floored at 0.
// Used for E005 (version unresolved).
func ApplyPenalty(score, penalty float64) float64 {
	out := score - penalty
	if out < 0 {
		return 0
	}
	return out
}

// TerminalStatus maps the aggregate confidence and blocker state to the
// investigation's terminal status: SUCCESS needs aggregate ≥ 0.7 and no
// unresolved blockers; [0.3, 0.7) is PARTIAL; anything below — or any
// hard blocker — is FAILURE.
func TerminalStatus(aggregate float64, hardBlocker bool, unresolvedBlockers int) models.SessionStatus {
	if hardBlocker {
		return models.StatusFailure
	}
	switch {
	case aggregate >= SuccessThreshold && unresolvedBlockers == 0:
		return models.StatusSuccess
	case aggregate >= PartialThreshold:
		return models.StatusPartial
	default:
		return models.StatusFailure
	}
}
