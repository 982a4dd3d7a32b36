// Package names normalizes user-supplied identifiers into DNS-label form,
// the way the teacher truncates and lowercases generated object names
// before handing them to the Kubernetes API.
package names

import (
	"regexp"
	"strings"
)

const maxLabelLength = 63

var invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
var edgeDashes = regexp.MustCompile(`^-+|-+$`)

// Normalize lowercases s, replaces any run of characters outside
// [a-z0-9-] with a single '-', strips leading/trailing '-', and truncates
// to 63 characters. It is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = invalidChars.ReplaceAllString(s, "-")
	s = edgeDashes.ReplaceAllString(s, "")
	if len(s) > maxLabelLength {
		s = s[:maxLabelLength]
		s = edgeDashes.ReplaceAllString(s, "")
	}
	return s
}

// Valid reports whether s already matches the DNS-label grammar of
// CORE SPEC §3: `[a-z0-9]([-a-z0-9]*[a-z0-9])?`, length <= 63.
func Valid(s string) bool {
	if s == "" || len(s) > maxLabelLength {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	return invalidChars.FindStringIndex(s) == nil
}

// JoinTruncated joins parts with '-' and truncates the result to 63
// characters, suffixing it with a short hash of the untruncated join so
// that two long names that collide after truncation remain distinct.
// Mirrors the teacher's workflow-name truncation in argo_workflow.go,
// generalized with a collision-safe suffix.
func JoinTruncated(hash func(string) string, parts ...string) string {
	full := strings.Join(parts, "-")
	full = strings.ToLower(full)
	full = invalidChars.ReplaceAllString(full, "-")
	full = edgeDashes.ReplaceAllString(full, "")
	if len(full) <= maxLabelLength {
		return full
	}
	suffix := hash(full)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	keep := maxLabelLength - len(suffix) - 1
	if keep < 0 {
		keep = 0
	}
	trimmed := full[:keep]
	trimmed = edgeDashes.ReplaceAllString(trimmed, "")
	return trimmed + "-" + suffix
}
