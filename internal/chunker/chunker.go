// Package chunker splits document text into overlapping chunks sized for
// embedding.
//
// Boundaries are chosen by a layered separator strategy: paragraph breaks
// first, then line breaks, sentence ends, word breaks, and finally raw
// character positions. Sizes and overlap are measured in Unicode characters,
// never bytes, so a cut can never land inside a multi-byte rune. Every chunk
// is an exact substring of the input and consecutive chunks share a
// fixed-length overlap window, so the original text can always be
// reconstructed from the chunk sequence.
package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates invalid chunking configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// DefaultSeparators is the layered boundary preference, coarsest first.
// The empty string means a raw character-level cut and must come last.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	// DefaultChunkSize is the default maximum chunk length in characters.
	DefaultChunkSize = 1000

	// DefaultOverlap is the default overlap between consecutive chunks.
	DefaultOverlap = 200
)

// Config holds splitter configuration.
type Config struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int

	// Overlap is the number of characters each chunk shares with its
	// predecessor. Must be non-negative and strictly smaller than ChunkSize.
	Overlap int

	// Separators is the boundary preference list, coarsest first. If nil,
	// DefaultSeparators is used.
	Separators []string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Separators == nil {
		c.Separators = DefaultSeparators
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d",
			ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Splitter splits text into overlapping chunks.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New creates a Splitter from config.
func New(cfg Config) (*Splitter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Splitter{
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.Overlap,
		separators: cfg.Separators,
	}, nil
}

// Split splits text into chunks of at most ChunkSize characters.
//
// Each chunk after the first begins Overlap characters before the end of the
// previous one. Within the size window, the cut is placed after the last
// occurrence of the coarsest separator that still leaves room for the
// overlap; when no separator qualifies the cut falls back to the next finer
// separator, down to a raw character boundary.
//
// Empty text yields no chunks. Text no longer than ChunkSize yields exactly
// one chunk.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + s.chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}

		end = s.cut(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end - s.overlap
	}
}

// cut picks the chunk end within (start, limit] preferring coarse separators.
// All positions are rune indices.
//
// A boundary qualifies only if it leaves the chunk longer than the overlap,
// which guarantees forward progress and keeps the shared window exactly
// Overlap characters wide.
func (s *Splitter) cut(runes []rune, start, limit int) int {
	window := runes[start:limit]
	for _, sep := range s.separators {
		if sep == "" {
			// Character-level fallback: hard cut at the size limit.
			return limit
		}
		sepRunes := []rune(sep)
		idx := lastIndex(window, sepRunes)
		for idx >= 0 {
			boundary := start + idx + len(sepRunes)
			if boundary > start+s.overlap {
				return boundary
			}
			idx = lastIndex(window[:idx], sepRunes)
		}
	}
	return limit
}

// lastIndex returns the rune index of the last occurrence of sep in runes,
// or -1 if sep is not present.
func lastIndex(runes, sep []rune) int {
	for i := len(runes) - len(sep); i >= 0; i-- {
		found := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap width.
func (s *Splitter) Overlap() int { return s.overlap }
