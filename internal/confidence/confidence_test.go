package confidence_test

import (
	"math"
	"testing"

	"github.com/opsleuth/opsleuth/internal/confidence"
	"github.com/opsleuth/opsleuth/pkg/models"
)

func TestAggregateMean(t *testing.T) {
	scores := map[models.Role]float64{
		models.RoleSRE:          0.9,
		models.RoleInvestigator: 0.85,
	}
	got := confidence.Aggregate(scores)
	if math.Abs(got-0.875) > 1e-9 {
		t.Errorf("Aggregate() = %v, want 0.875", got)
	}
}

func TestAggregateFoldsArchitect(t *testing.T) {
	scores := map[models.Role]float64{
		models.RoleSRE:          0.9,
		models.RoleInvestigator: 0.85,
		models.RoleArchitect:    0.8,
	}
	got := confidence.Aggregate(scores)
	if math.Abs(got-0.85) > 1e-9 {
		t.Errorf("Aggregate() = %v, want 0.85", got)
	}
}

func TestAggregateEmptyIsZero(t *testing.T) {
	if got := confidence.Aggregate(nil); got != 0 {
		t.Errorf("Aggregate(nil) = %v, want 0", got)
	}
	if got := confidence.Aggregate(map[models.Role]float64{}); got != 0 {
		t.Errorf("Aggregate(empty) = %v, want 0", got)
	}
}

// Aggregation over a map is inherently order-independent; assert the same
// value arises from sets built in different insertion orders.
func TestAggregateOrderIndependent(t *testing.T) {
	a := map[models.Role]float64{}
	a[models.RoleSRE] = 0.6
	a[models.RoleInvestigator] = 0.4
	a[models.RoleArchitect] = 0.5

	b := map[models.Role]float64{}
	b[models.RoleArchitect] = 0.5
	b[models.RoleInvestigator] = 0.4
	b[models.RoleSRE] = 0.6

	if confidence.Aggregate(a) != confidence.Aggregate(b) {
		t.Errorf("Aggregate() is order-dependent: %v vs %v",
			confidence.Aggregate(a), confidence.Aggregate(b))
	}
}

func TestApplyPenalty(t *testing.T) {
	if got := confidence.ApplyPenalty(0.5, 0.1); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("ApplyPenalty(0.5, 0.1) = %v, want 0.4", got)
	}
	if got := confidence.ApplyPenalty(0.05, 0.1); got != 0 {
		t.Errorf("ApplyPenalty(0.05, 0.1) = %v, want 0 (floored)", got)
	}
}

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		name        string
		aggregate   float64
		hardBlocker bool
		blockers    int
		want        models.SessionStatus
	}{
		{"high confidence clean", 0.87, false, 0, models.StatusSuccess},
		{"exactly at success threshold", 0.7, false, 0, models.StatusSuccess},
		{"high confidence but blockers", 0.9, false, 1, models.StatusPartial},
		{"mid confidence", 0.5, false, 0, models.StatusPartial},
		{"exactly at partial threshold", 0.3, false, 0, models.StatusPartial},
		{"low confidence", 0.2, false, 0, models.StatusFailure},
		{"zero evidence", 0, false, 0, models.StatusFailure},
		{"hard blocker trumps confidence", 0.95, true, 0, models.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidence.TerminalStatus(tt.aggregate, tt.hardBlocker, tt.blockers)
			if got != tt.want {
				t.Errorf("TerminalStatus(%v, %v, %d) = %s, want %s",
					tt.aggregate, tt.hardBlocker, tt.blockers, got, tt.want)
			}
		})
	}
}
