// Package segment splits request text into sentence-like units suitable for
// incremental synthesis. Concatenating the unit texts in order reproduces the
// input exactly, so audio joins inherit the original spacing.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit is one synthesizable span of the request text.
type Unit struct {
	Index int
	Text  string
	Final bool
}

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {}, "inc": {},
	"ltd": {}, "co": {}, "corp": {}, "no": {}, "fig": {}, "al": {},
	"approx": {}, "dept": {}, "est": {}, "min": {}, "max": {},
}

// Segment splits text into ordered units. Whitespace-only input yields no
// units. The last unit carries Final.
func Segment(text string) []Unit {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	bounds := scan(text, true)
	units := make([]Unit, 0, len(bounds)+1)
	prev := 0
	for _, b := range bounds {
		span := text[prev:b]
		if strings.TrimSpace(span) == "" {
			// Zero-content span: fold into the following unit.
			continue
		}
		units = append(units, Unit{Index: len(units), Text: span})
		prev = b
	}
	if prev < len(text) {
		tail := text[prev:]
		if strings.TrimSpace(tail) == "" {
			units[len(units)-1].Text += tail
		} else {
			units = append(units, Unit{Index: len(units), Text: tail})
		}
	}
	if len(units) > 0 {
		units[len(units)-1].Final = true
	}
	return units
}

// Single wraps the whole text in one final unit, used when streaming is
// disabled. Whitespace-only input yields no units.
func Single(text string) []Unit {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []Unit{{Index: 0, Text: text, Final: true}}
}

// scan returns byte offsets at which a unit ends. A boundary sits directly
// after a sentence terminator (and any closing quotes or brackets) that is
// followed by whitespace, or after a newline. When eof is false, a decision
// needing lookahead past the end of text is deferred.
func scan(text string, eof bool) []int {
	var bounds []int
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size

		if r == '\n' {
			bounds = append(bounds, next)
			i = next
			continue
		}

		if !isTerminator(r) {
			i = next
			continue
		}

		if r == '.' && !periodEndsSentence(text, i) {
			i = next
			continue
		}

		// Fold runs of terminators ("?!", "...") and trailing closers.
		end := next
		for end < len(text) {
			cr, cs := utf8.DecodeRuneInString(text[end:])
			if isTerminator(cr) || isCloser(cr) {
				end += cs
				continue
			}
			break
		}
		if end == len(text) && !eof {
			// The terminator run may continue in the next chunk.
			break
		}
		if end == len(text) {
			bounds = append(bounds, end)
			i = end
			continue
		}
		nr, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsSpace(nr) {
			bounds = append(bounds, end)
		}
		i = end
	}
	return bounds
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»':
		return true
	}
	return false
}

// periodEndsSentence applies the decimal and abbreviation guards for a period
// at byte offset i.
func periodEndsSentence(text string, i int) bool {
	// Decimal number: digit on both sides.
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	if unicode.IsDigit(prev) && i+1 < len(text) {
		nr, _ := utf8.DecodeRuneInString(text[i+1:])
		if unicode.IsDigit(nr) {
			return false
		}
	}

	// Word immediately before the period.
	start := i
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) {
			break
		}
		start -= size
	}
	word := text[start:i]
	if word == "" {
		return true
	}
	// Single letters cover initials and the inner dots of "e.g." / "i.e.".
	if utf8.RuneCountInString(word) == 1 {
		return false
	}
	_, abbr := abbreviations[strings.ToLower(word)]
	return !abbr
}
