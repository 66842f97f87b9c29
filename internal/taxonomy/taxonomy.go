// Package taxonomy classifies investigation failures against the fixed
// error-code table (E001–E006) and decides the recovery policy for each.
//
// Two classes exist:
//   - hard blockers (E002, E003): the investigation halts immediately,
//     consumes no retries, and requires an external fix
//   - soft errors (E001, E004, E005, E006): recovered inline with a
//     code-specific mitigation and surfaced as a warning
package taxonomy

import (
	"strings"

	"github.com/opsleuth/opsleuth/pkg/models"
)

// Recovery names the inline mitigation applied to a soft error.
type Recovery string

const (
	// RecoveryWidenWindow widens the log search window and retries once.
	RecoveryWidenWindow Recovery = "widen_search_window"
	// RecoveryRegexFallback falls back to regex-based stack-trace extraction.
	RecoveryRegexFallback Recovery = "regex_stack_trace_fallback"
	// RecoveryConfidencePenalty marks the version unknown and applies a
	// fixed confidence penalty.
	RecoveryConfidencePenalty Recovery = "confidence_penalty"
	// RecoveryFlagHumanReview appends "human review recommended" and proceeds.
	RecoveryFlagHumanReview Recovery = "flag_human_review"
	// RecoveryHalt requires an external fix; nothing can be done inline.
	RecoveryHalt Recovery = "halt"
)

// catalog is the fixed error-code table.
var catalog = map[models.ErrorCode]models.ErrorRecord{
	models.ErrNoLogsFound: {
		Code:           models.ErrNoLogsFound,
		Message:        "no logs found in the requested window",
		IsBlocker:      false,
		RecoveryAction: string(RecoveryWidenWindow),
	},
	models.ErrPermissionDenied: {
		Code:           models.ErrPermissionDenied,
		Message:        "permission denied accessing logs",
		IsBlocker:      true,
		RecoveryAction: string(RecoveryHalt),
	},
	models.ErrRepoAccessDenied: {
		Code:           models.ErrRepoAccessDenied,
		Message:        "repository access denied",
		IsBlocker:      true,
		RecoveryAction: string(RecoveryHalt),
	},
	models.ErrUnknownStackTrace: {
		Code:           models.ErrUnknownStackTrace,
		Message:        "unrecognized stack trace pattern",
		IsBlocker:      false,
		RecoveryAction: string(RecoveryRegexFallback),
	},
	models.ErrVersionUnresolved: {
		Code:           models.ErrVersionUnresolved,
		Message:        "deployed version could not be resolved",
		IsBlocker:      false,
		RecoveryAction: string(RecoveryConfidencePenalty),
	},
	models.ErrLowConfidence: {
		Code:           models.ErrLowConfidence,
		Message:        "result confidence below threshold",
		IsBlocker:      false,
		RecoveryAction: string(RecoveryFlagHumanReview),
	},
}

// Lookup returns the ErrorRecord for a code, with ok=false for unknown codes.
func Lookup(code models.ErrorCode) (models.ErrorRecord, bool) {
	rec, ok := catalog[code]
	return rec, ok
}

// IsHardBlocker reports whether the code halts the investigation immediately.
func IsHardBlocker(code models.ErrorCode) bool {
	rec, ok := catalog[code]
	return ok && rec.IsBlocker
}

// blockerPatterns maps substrings seen in specialist blocker messages to
// error codes. Specialists report blockers as free text; this is the only
// place that text is interpreted.
var blockerPatterns = []struct {
	substr string
	code   models.ErrorCode
}{
	{"permission denied", models.ErrPermissionDenied},
	{"access denied to log", models.ErrPermissionDenied},
	{"logging.viewer", models.ErrPermissionDenied},
	{"repo access denied", models.ErrRepoAccessDenied},
	{"repository access denied", models.ErrRepoAccessDenied},
	{"could not clone", models.ErrRepoAccessDenied},
	{"no logs found", models.ErrNoLogsFound},
	{"unrecognized stack trace", models.ErrUnknownStackTrace},
	{"version unresolved", models.ErrVersionUnresolved},
	{"could not resolve version", models.ErrVersionUnresolved},
	{"low confidence", models.ErrLowConfidence},
}

// ClassifyBlocker maps a free-text blocker message to an error code.
// Unmatched messages classify as E006 (low confidence, soft) so that an
// unknown blocker never silently hard-halts an investigation.
func ClassifyBlocker(message string) models.ErrorRecord {
	lower := strings.ToLower(message)
	for _, p := range blockerPatterns {
		if strings.Contains(lower, p.substr) {
			rec := catalog[p.code]
			rec.Message = message
			return rec
		}
	}
	rec := catalog[models.ErrLowConfidence]
	rec.Message = message
	return rec
}

// HasHardBlocker scans a list of specialist blocker messages and returns
// the first hard-blocker record found.
func HasHardBlocker(blockers []string) (models.ErrorRecord, bool) {
	for _, b := range blockers {
		if rec := ClassifyBlocker(b); rec.IsBlocker {
			return rec, true
		}
	}
	return models.ErrorRecord{}, false
}
