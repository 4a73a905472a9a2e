package segment

import (
	"strings"
	"testing"
)

func TestSegmentTwoSentences(t *testing.T) {
	units := Segment("Hello there. How are you?")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %#v", len(units), units)
	}
	if units[0].Text != "Hello there." {
		t.Fatalf("unexpected first unit: %q", units[0].Text)
	}
	if strings.TrimSpace(units[1].Text) != "How are you?" {
		t.Fatalf("unexpected second unit: %q", units[1].Text)
	}
	if units[0].Final || !units[1].Final {
		t.Fatalf("final flags wrong: %#v", units)
	}
	if units[0].Index != 0 || units[1].Index != 1 {
		t.Fatalf("indices wrong: %#v", units)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	texts := []string{
		"Hello there. How are you?",
		"One.  Two!   Three?",
		"Line one\nLine two\n",
		"Dr. Smith lives on St. Mark street. He said hi.",
		"Pi is 3.14159 give or take. Next sentence.",
		"  leading space. And trailing.  ",
		"No punctuation at all",
		"Quotes \"end here.\" Then more.",
		"Ellipsis… and on.",
		"e.g. this stays whole. Second one.",
	}
	for _, text := range texts {
		units := Segment(text)
		var sb strings.Builder
		for _, u := range units {
			sb.WriteString(u.Text)
		}
		if sb.String() != text {
			t.Fatalf("round trip failed for %q: got %q", text, sb.String())
		}
	}
}

func TestSegmentIdempotent(t *testing.T) {
	text := "First one. Second one! Third?"
	a := Segment(text)
	b := Segment(text)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("unit %d differs: %#v vs %#v", i, a[i], b[i])
		}
	}
}

func TestSegmentAbbreviationsNotBoundaries(t *testing.T) {
	units := Segment("Dr. Smith met Mr. Jones. They spoke.")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %#v", len(units), units)
	}
	if units[0].Text != "Dr. Smith met Mr. Jones." {
		t.Fatalf("unexpected first unit: %q", units[0].Text)
	}
}

func TestSegmentDecimalsNotBoundaries(t *testing.T) {
	units := Segment("The value is 3.14 exactly. Confirmed.")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %#v", len(units), units)
	}
}

func TestSegmentInitialsNotBoundaries(t *testing.T) {
	units := Segment("J. R. R. Tolkien wrote it. Indeed.")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %#v", len(units), units)
	}
}

func TestSegmentNewlineHardBoundary(t *testing.T) {
	units := Segment("first line\nsecond line")
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d: %#v", len(units), units)
	}
	if units[0].Text != "first line\n" {
		t.Fatalf("unexpected first unit: %q", units[0].Text)
	}
}

func TestSegmentEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t "} {
		if units := Segment(text); len(units) != 0 {
			t.Fatalf("expected no units for %q, got %#v", text, units)
		}
	}
}

func TestSegmentNoUnitIsBlank(t *testing.T) {
	for _, text := range []string{"...   ...", "Hi.\n\n\nBye.", "! ? ."} {
		for _, u := range Segment(text) {
			if strings.TrimSpace(u.Text) == "" {
				t.Fatalf("blank unit produced for %q: %#v", text, u)
			}
		}
	}
}

func TestSingle(t *testing.T) {
	units := Single("Hello there. How are you?")
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(units))
	}
	if !units[0].Final || units[0].Text != "Hello there. How are you?" {
		t.Fatalf("unexpected unit: %#v", units[0])
	}
	if len(Single("  \t")) != 0 {
		t.Fatal("expected no units for whitespace input")
	}
}

func TestDetectorIncremental(t *testing.T) {
	d := NewDetector()
	if got := d.Add("Hello th"); len(got) != 0 {
		t.Fatalf("unexpected sentences: %#v", got)
	}
	got := d.Add("ere. How are")
	if len(got) != 1 || got[0] != "Hello there." {
		t.Fatalf("expected completed first sentence, got %#v", got)
	}
	if got := d.Add(" you?"); len(got) != 0 {
		// Terminator at the buffer end stays pending: the run may continue.
		t.Fatalf("unexpected sentences: %#v", got)
	}
	rest := d.Finish()
	if strings.TrimSpace(rest) != "How are you?" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
	if d.Finish() != "" {
		t.Fatal("detector not reset after Finish")
	}
}

func TestDetectorWhitespaceRemainder(t *testing.T) {
	d := NewDetector()
	d.Add("Done.  ")
	if rest := d.Finish(); rest != "" {
		t.Fatalf("expected empty remainder, got %q", rest)
	}
}
