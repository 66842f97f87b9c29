package schema_test

import (
	"strings"
	"testing"

	"github.com/opsleuth/opsleuth/internal/schema"
	"github.com/opsleuth/opsleuth/pkg/models"
)

func TestValidateSRE(t *testing.T) {
	raw := `{"status":"success","confidence":0.9,
		"evidence":{"timestamp":"2026-08-30T12:00:00Z","error_signature":"NilPointerException","stack_trace":"at checkout.Process"},
		"blockers":[],"recommendations":["roll back v1.4.2"]}`

	out, err := schema.Validate(models.RoleSRE, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	sre, ok := out.(*models.SREOutput)
	if !ok {
		t.Fatalf("Validate() returned %T, want *SREOutput", out)
	}
	if sre.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", sre.Confidence)
	}
	if sre.Evidence.ErrorSignature != "NilPointerException" {
		t.Errorf("ErrorSignature = %q", sre.Evidence.ErrorSignature)
	}
	if sre.OutputRole() != models.RoleSRE {
		t.Errorf("OutputRole() = %s", sre.OutputRole())
	}
}

func TestValidateInvestigator(t *testing.T) {
	raw := `{"status":"success","confidence":0.85,
		"root_cause":{"file":"cart/checkout.go","line":42,"function":"Process","defect_type":"nil-deref","evidence":"guard removed in abc123"},
		"dependency_chain":["cart","payments"],"hypothesis":"regression in abc123"}`

	out, err := schema.Validate(models.RoleInvestigator, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	inv := out.(*models.InvestigatorOutput)
	if inv.RootCause.Line != 42 {
		t.Errorf("RootCause.Line = %d, want 42", inv.RootCause.Line)
	}
	if inv.RootCause.File != "cart/checkout.go" {
		t.Errorf("RootCause.File = %q", inv.RootCause.File)
	}
}

func TestValidateRejectsBadCommonFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing status", `{"confidence":0.5}`},
		{"bad status literal", `{"status":"maybe","confidence":0.5}`},
		{"missing confidence", `{"status":"success"}`},
		{"confidence not a number", `{"status":"success","confidence":"high"}`},
		{"confidence above 1", `{"status":"success","confidence":1.5}`},
		{"confidence below 0", `{"status":"success","confidence":-0.1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := schema.Validate(models.RoleSRE, tt.raw); err == nil {
				t.Errorf("Validate() should reject %s", tt.name)
			}
		})
	}
}

func TestValidateArchitect(t *testing.T) {
	raw := `{"status":"success","confidence":0.8,
		"rca_content":"# Executive Summary\n...\n# Root Cause\n...\n# Recommended Fix\n...",
		"limitations":[]}`

	out, err := schema.Validate(models.RoleArchitect, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	arch := out.(*models.ArchitectOutput)
	if !strings.Contains(arch.RCAContent, "Root Cause") {
		t.Errorf("RCAContent = %q", arch.RCAContent)
	}
	if arch.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", arch.Confidence)
	}
}

func TestValidateArchitectDegradedFallback(t *testing.T) {
	raw := "# Executive Summary\nThe checkout service crashed.\n\n# Root Cause\nNil deref.\n\n# Recommended Fix\nRestore the guard."

	out, err := schema.Validate(models.RoleArchitect, raw)
	if err != nil {
		t.Fatalf("Validate() degraded fallback error = %v", err)
	}
	arch := out.(*models.ArchitectOutput)
	if arch.RCAContent != raw {
		t.Errorf("degraded RCAContent should be the raw text")
	}
	if arch.Confidence > schema.MaxDegradedConfidence {
		t.Errorf("degraded Confidence = %v, want ≤ %v", arch.Confidence, schema.MaxDegradedConfidence)
	}
	if len(arch.Limitations) == 0 {
		t.Error("degraded output should carry a limitation note")
	}
}

func TestValidateArchitectShortGarbageStillFails(t *testing.T) {
	if _, err := schema.Validate(models.RoleArchitect, "nope"); err == nil {
		t.Error("short non-markdown text should not be accepted as RCA content")
	}
}
