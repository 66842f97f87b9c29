package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsleuth/opsleuth/pkg/models"
)

// MaxDegradedConfidence caps the confidence of an architect output that
// was accepted via the raw-markdown fallback.
const MaxDegradedConfidence = 0.5

var allowedStatuses = map[models.OutputStatus]bool{
	models.OutputSuccess: true,
	models.OutputPartial: true,
	models.OutputFailed:  true,
}

// Validate extracts the embedded JSON object from raw and checks it
// against the schema for the given role, returning one of the closed
// variant set (SREOutput, InvestigatorOutput, ArchitectOutput).
//
// Architect responses have a degraded fallback: when extraction fails (or
// rca_content is absent) but the raw text looks like markdown prose, the
// raw text is accepted as rca_content with confidence capped at
// MaxDegradedConfidence and a limitation note appended.
func Validate(role models.Role, raw string) (models.StructuredOutput, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		if role == models.RoleArchitect {
			if out, ok := degradedArchitect(raw); ok {
				return out, nil
			}
		}
		return nil, err
	}

	switch role {
	case models.RoleSRE:
		return validateSRE(obj)
	case models.RoleInvestigator:
		return validateInvestigator(obj)
	case models.RoleArchitect:
		return validateArchitect(obj, raw)
	default:
		return nil, &ParseError{Stage: "validate", Detail: fmt.Sprintf("unknown role %q", role), Fatal: true}
	}
}

func validateSRE(obj map[string]interface{}) (*models.SREOutput, error) {
	if err := checkCommon(obj); err != nil {
		return nil, err
	}
	var out models.SREOutput
	if err := remarshal(obj, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func validateInvestigator(obj map[string]interface{}) (*models.InvestigatorOutput, error) {
	if err := checkCommon(obj); err != nil {
		return nil, err
	}
	var out models.InvestigatorOutput
	if err := remarshal(obj, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func validateArchitect(obj map[string]interface{}, raw string) (*models.ArchitectOutput, error) {
	if err := checkCommon(obj); err != nil {
		return nil, err
	}
	var out models.ArchitectOutput
	if err := remarshal(obj, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.RCAContent) == "" {
		// rca_content missing from the object; fall back to the raw text.
		if degraded, ok := degradedArchitect(raw); ok {
			degraded.Status = out.Status
			if out.Confidence < degraded.Confidence {
				degraded.Confidence = out.Confidence
			}
			degraded.Blockers = out.Blockers
			degraded.Recommendations = out.Recommendations
			degraded.Limitations = append(out.Limitations, degraded.Limitations...)
			return degraded, nil
		}
		return nil, &ParseError{Stage: "validate", Detail: "architect output missing rca_content"}
	}
	return &out, nil
}

// degradedArchitect accepts non-empty markdown-like raw text as the RCA
// body when no structured object was usable.
func degradedArchitect(raw string) (*models.ArchitectOutput, bool) {
	trimmed := strings.TrimSpace(raw)
	if !looksLikeMarkdown(trimmed) {
		return nil, false
	}
	return &models.ArchitectOutput{
		Status:     models.OutputPartial,
		Confidence: MaxDegradedConfidence,
		RCAContent: trimmed,
		Limitations: []string{
			"rca_content recovered from unstructured response; confidence capped",
		},
	}, true
}

func looksLikeMarkdown(s string) bool {
	if len(s) < 40 {
		return false
	}
	return strings.Contains(s, "#") || strings.Contains(s, "\n")
}

// checkCommon validates the fields shared by every role schema:
// status is a known literal and confidence is a float in [0,1].
func checkCommon(obj map[string]interface{}) error {
	rawStatus, ok := obj["status"]
	if !ok {
		return &ParseError{Stage: "validate", Detail: "missing required field: status"}
	}
	status, ok := rawStatus.(string)
	if !ok || !allowedStatuses[models.OutputStatus(status)] {
		return &ParseError{Stage: "validate", Detail: fmt.Sprintf("invalid status literal: %v", rawStatus)}
	}

	rawConf, ok := obj["confidence"]
	if !ok {
		return &ParseError{Stage: "validate", Detail: "missing required field: confidence"}
	}
	conf, ok := rawConf.(float64)
	if !ok {
		return &ParseError{Stage: "validate", Detail: fmt.Sprintf("confidence is not a number: %v", rawConf)}
	}
	if conf < 0 || conf > 1 {
		return &ParseError{Stage: "validate", Detail: fmt.Sprintf("confidence %v outside [0,1]", conf)}
	}
	return nil
}

// remarshal round-trips the generic object into the typed output struct.
func remarshal(obj map[string]interface{}, dst interface{}) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return &ParseError{Stage: "validate", Detail: err.Error()}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return &ParseError{Stage: "validate", Detail: err.Error()}
	}
	return nil
}
