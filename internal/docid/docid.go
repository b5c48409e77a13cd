// Package docid derives stable document identifiers from user-supplied
// filenames.
//
// A document identifier names the on-disk index directory, so it must match
// ^[a-z0-9_]{1,64}$. Identical filenames sanitize to identical identifiers,
// so re-ingesting the same filename overwrites the existing index.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	// MaxLength is the maximum identifier length.
	MaxLength = 64

	// hashSuffixLength is the length of the hash suffix added to truncated
	// identifiers. Format: _<8-char-hash> = 9 characters total.
	hashSuffixLength = 9

	// DefaultID is used when sanitization produces an empty result.
	DefaultID = "default"
)

// FromFilename derives a document identifier from a filename.
//
// The base name is taken (path components and traversal sequences are
// discarded), the extension is stripped, and the stem is sanitized.
//
// Examples:
//
//	"reports/Q3 Report.pdf" -> "q3_report"
//	"../../etc/passwd"      -> "passwd"
//	"notes.tar.gz"          -> "notes_tar"
func FromFilename(name string) string {
	// Normalize both separator styles before taking the base name, so
	// Windows-style uploads cannot smuggle path components through.
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return Sanitize(stem)
}

// Sanitize sanitizes a string for use as a document identifier.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxLength with a hash suffix if too long
//   - Returns DefaultID if the result would be empty
func Sanitize(s string) string {
	if s == "" {
		return DefaultID
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultID
	}

	if len(sanitized) > MaxLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// Valid reports whether s is already a well-formed document identifier.
func Valid(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// truncateWithHash truncates a string to fit within MaxLength, appending a
// hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := strings.TrimRight(s[:MaxLength-hashSuffixLength], "_")
	return truncated + hashSuffix
}
