package sufdex

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TEXT NORMALIZATION
// ═══════════════════════════════════════════════════════════════════════════════
// Substring search has to see the characters the user typed, so the only
// filter applied to records and patterns alike is case folding:
//
//	"Hello World" → [h e l l o ␠ w o r l d]
//
// There is no tokenizer, no stopword list and no stemming; "worldly" must still
// contain "worl".
// ═══════════════════════════════════════════════════════════════════════════════

// Normalize lower-cases text and splits it into characters. Column numbers in
// keys are offsets into this slice.
func Normalize(text string) []rune {
	return []rune(strings.ToLower(text))
}
