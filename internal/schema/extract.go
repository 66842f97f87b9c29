// Package schema extracts and validates structured specialist output from
// free-text responses. Specialists answer in prose with exactly one JSON
// object embedded somewhere; this package digs it out and checks it
// against the role's schema.
package schema

import (
	"encoding/json"
	"strings"
)

// ParseError reports that no valid JSON object could be extracted or that
// the extracted object violated the role schema. It is retryable unless
// Fatal is set.
type ParseError struct {
	Stage  string // "extract" or "validate"
	Detail string
	Fatal  bool
}

func (e *ParseError) Error() string {
	return "malformed specialist output (" + e.Stage + "): " + e.Detail
}

// Retryable reports whether a later attempt could plausibly succeed.
func (e *ParseError) Retryable() bool { return !e.Fatal }

// ExtractJSON locates the single JSON object embedded in a free-text
// response. Extraction order:
//  1. parse the entire response as JSON
//  2. parse the contents of the first fenced code block
//  3. bracket-match from the first '{' to its balanced '}'
//
// All three failing yields a *ParseError.
func ExtractJSON(raw string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Stage: "extract", Detail: "empty response"}
	}

	// Stage 1: the whole response is JSON.
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj, nil
	}

	// Stage 2: fenced code block.
	if fenced, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(fenced), &obj); err == nil {
			return obj, nil
		}
	}

	// Stage 3: bracket matching.
	if candidate, ok := bracketMatch(trimmed); ok {
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, &ParseError{Stage: "extract", Detail: "no parseable JSON object in response"}
}

// fencedBlock returns the contents of the first ``` fence, tolerating an
// optional language tag on the opening line.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	rest := s[open+3:]
	// Drop the language tag line ("json", "JSON", ...) if present.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if first != "" && !strings.HasPrefix(first, "{") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// bracketMatch scans from the first '{' to its balanced closing '}',
// respecting strings and escapes.
func bracketMatch(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
