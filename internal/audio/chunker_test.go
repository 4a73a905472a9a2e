package audio

import (
	"testing"
	"time"

	"github.com/mitrokun/wyoming-supertonic/internal/engine"
)

func result(unit, n int) *engine.AudioResult {
	return &engine.AudioResult{
		UnitIndex:  unit,
		PCM:        make([]byte, n),
		SampleRate: engine.DefaultSampleRate,
		Width:      engine.DefaultWidth,
		Channels:   engine.DefaultChannels,
	}
}

func TestSplitFlagsAndSequence(t *testing.T) {
	chunks := Split(result(3, 5000), 2048, false)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Fatalf("chunk %d has seq %d", i, c.Seq)
		}
		if c.UnitIndex != 3 {
			t.Fatalf("chunk %d has unit %d", i, c.UnitIndex)
		}
		if c.LastOfRequest {
			t.Fatalf("chunk %d should not be last of request", i)
		}
	}
	if !chunks[0].FirstOfUnit || chunks[1].FirstOfUnit || chunks[2].FirstOfUnit {
		t.Fatalf("first-of-unit flags wrong: %#v", chunks)
	}
	if chunks[0].LastOfUnit || chunks[1].LastOfUnit || !chunks[2].LastOfUnit {
		t.Fatalf("last-of-unit flags wrong: %#v", chunks)
	}
	if len(chunks[0].PCM) != 2048 || len(chunks[1].PCM) != 2048 || len(chunks[2].PCM) != 904 {
		t.Fatalf("chunk sizes wrong: %d %d %d", len(chunks[0].PCM), len(chunks[1].PCM), len(chunks[2].PCM))
	}
}

func TestSplitLastOfRequest(t *testing.T) {
	chunks := Split(result(0, 4096), 2048, true)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].LastOfRequest {
		t.Fatal("non-final chunk flagged last of request")
	}
	if !chunks[1].LastOfRequest || !chunks[1].LastOfUnit {
		t.Fatalf("final chunk flags wrong: %#v", chunks[1])
	}
}

func TestSplitSingleChunk(t *testing.T) {
	chunks := Split(result(0, 100), 2048, true)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if !c.FirstOfUnit || !c.LastOfUnit || !c.LastOfRequest {
		t.Fatalf("flags wrong: %#v", c)
	}
}

func TestSplitFrameAlignment(t *testing.T) {
	// Odd frame size must not split a 16-bit sample.
	chunks := Split(result(0, 1000), 333, false)
	for i, c := range chunks[:len(chunks)-1] {
		if len(c.PCM)%2 != 0 {
			t.Fatalf("chunk %d splits a sample: %d bytes", i, len(c.PCM))
		}
	}
}

func TestSplitEmptyBuffer(t *testing.T) {
	chunks := Split(result(0, 0), 2048, true)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if len(c.PCM) != 0 || !c.LastOfRequest || !c.FirstOfUnit || !c.LastOfUnit {
		t.Fatalf("empty chunk wrong: %#v", c)
	}
}

func TestSplitTimestamps(t *testing.T) {
	// 2 bytes per sample at 44100 Hz: 2048 bytes is 1024 samples.
	chunks := Split(result(0, 6144), 2048, false)
	if chunks[0].Timestamp != 0 {
		t.Fatalf("first timestamp not zero: %v", chunks[0].Timestamp)
	}
	want := time.Duration(1024) * time.Second / time.Duration(44100)
	if chunks[1].Timestamp != want {
		t.Fatalf("second timestamp %v, want %v", chunks[1].Timestamp, want)
	}
	if chunks[2].Timestamp != 2*want {
		t.Fatalf("third timestamp %v, want %v", chunks[2].Timestamp, 2*want)
	}
}

func TestEmptyFinal(t *testing.T) {
	c := EmptyFinal(engine.Format{SampleRate: 44100, Width: 2, Channels: 1})
	if !c.LastOfRequest || len(c.PCM) != 0 {
		t.Fatalf("unexpected empty final chunk: %#v", c)
	}
}
