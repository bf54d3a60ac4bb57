package protocol

import (
	"fmt"
	"regexp"
	"strconv"
)

// EOT is the control byte a client sends to have its connection closed.
const EOT byte = 0x04

// tokenPattern matches one word with at most one delimiter on each side.
var tokenPattern = regexp.MustCompile(`[^A-Za-z0-9_]?([A-Za-z0-9_]+)[^A-Za-z0-9_]?`)

// Token is the result of scanning one chunk.
type Token struct {
	// Word is the first run of [A-Za-z0-9_] in the chunk.
	Word string

	// Reset is the counter override carried by the chunk. Only valid when
	// HasReset is true.
	Reset    uint64
	HasReset bool

	// ResetErr is set when a second token was present but could not be
	// parsed as a counter value. The word is still usable.
	ResetErr error
}

// Tokenizer extracts words (and optional counter resets) from text chunks.
// The zero value scans only for the word.
type Tokenizer struct {
	// ScanReset enables parsing of a second token as a counter reset.
	ScanReset bool
}

// NewTokenizer returns a Tokenizer. scanReset controls whether a second
// token in the chunk is treated as a counter reset.
func NewTokenizer(scanReset bool) *Tokenizer {
	return &Tokenizer{ScanReset: scanReset}
}

// Tokenize scans text left to right. It returns ErrNoToken when the text has
// no word in it.
func (t *Tokenizer) Tokenize(text string) (Token, error) {
	limit := 1
	if t != nil && t.ScanReset {
		limit = 2
	}

	matches := tokenPattern.FindAllStringSubmatch(text, limit)
	if len(matches) == 0 {
		return Token{}, ErrNoToken
	}

	tok := Token{Word: matches[0][1]}
	if len(matches) < 2 {
		return tok, nil
	}

	raw := matches[1][1]
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		tok.ResetErr = fmt.Errorf("%w %q: %w", ErrInvalidReset, raw, err)
		return tok, nil
	}
	tok.Reset = n
	tok.HasReset = true
	return tok, nil
}

// Tokenize scans text with reset scanning enabled.
func Tokenize(text string) (Token, error) {
	return (&Tokenizer{ScanReset: true}).Tokenize(text)
}

// ContainsEOT reports whether chunk carries the close signal.
func ContainsEOT(chunk []byte) bool {
	for _, b := range chunk {
		if b == EOT {
			return true
		}
	}
	return false
}
