package segment

import "strings"

// Detector finds sentence boundaries incrementally over streamed text chunks.
// It keeps the undecided tail buffered until more text (or Finish) arrives.
type Detector struct {
	buf strings.Builder
}

// NewDetector returns an empty detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Add appends a chunk of text and returns any newly completed sentences.
func (d *Detector) Add(chunk string) []string {
	d.buf.WriteString(chunk)
	text := d.buf.String()

	bounds := scan(text, false)
	if len(bounds) == 0 {
		return nil
	}

	var out []string
	prev := 0
	for _, b := range bounds {
		span := text[prev:b]
		if strings.TrimSpace(span) == "" {
			// Whitespace heads the next sentence.
			continue
		}
		out = append(out, span)
		prev = b
	}

	d.buf.Reset()
	d.buf.WriteString(text[prev:])
	return out
}

// Finish returns the buffered remainder, if any, and resets the detector.
func (d *Detector) Finish() string {
	rest := d.buf.String()
	d.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}
