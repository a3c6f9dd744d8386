// Package textutil provides byte- and rune-level text utilities: binary
// detection, whitespace normalization, and marked truncation.
package textutil

import (
	"bytes"
	"strings"
)

// BinarySniffLength is the maximum number of bytes scanned for null-byte
// detection. Matches the heuristic used by Git and most editors.
const BinarySniffLength = 8000

// TruncationMarker is appended to any text shortened by Truncate so a reader
// of the stored content can tell it is incomplete.
const TruncationMarker = "...(truncated)"

// IsBinary returns true if data contains a null byte within the first
// BinarySniffLength bytes. Empty data is not binary.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sniff := data
	if len(sniff) > BinarySniffLength {
		sniff = sniff[:BinarySniffLength]
	}

	return bytes.IndexByte(sniff, 0) >= 0
}

// CollapseSpace folds every run of whitespace in s into a single space and
// trims the ends. Extracted page text passes through here so stored content
// is compact and single-line.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns s unchanged when it holds at most max runes; otherwise it
// cuts s to max runes and appends TruncationMarker. The marker sits outside
// the budget, matching how stored page content is capped.
func Truncate(s string, max int) string {
	if max <= 0 {
		return TruncationMarker
	}

	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max]) + TruncationMarker
}
