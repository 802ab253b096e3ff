package orchestrator

import "strings"

// looksMalformed scans final-synthesis text for leaked internal role/channel
// markers. It is intentionally a substring scan, not a parser: the
// signatures are specific enough that false positives on legitimate prose are
// not a practical concern.
func looksMalformed(content string) bool {
	for _, sig := range malformedSignatures {
		if strings.Contains(content, sig) {
			return true
		}
	}
	return false
}
