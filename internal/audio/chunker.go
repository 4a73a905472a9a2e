// Package audio frames raw synthesis results into transport-sized chunks.
// Slicing only: samples are never resampled or requantized here.
package audio

import (
	"time"

	"github.com/mitrokun/wyoming-supertonic/internal/engine"
)

// DefaultFrameBytes matches the reference server's transport chunk size.
const DefaultFrameBytes = 2048

// Chunk is one transport-sized slice of a unit's audio.
type Chunk struct {
	UnitIndex     int
	Seq           int
	PCM           []byte
	SampleRate    int
	Width         int
	Channels      int
	FirstOfUnit   bool
	LastOfUnit    bool
	LastOfRequest bool
	// Timestamp is the chunk's start offset within its unit.
	Timestamp time.Duration
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	bytesPerSecond := c.SampleRate * c.Width * c.Channels
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(bytesPerSecond)
}

// Split frames one AudioResult into equal-size chunks (the final one may be
// shorter). frameBytes is rounded down to a whole number of sample frames.
// lastUnit marks the result as the request's final unit, propagating
// LastOfRequest onto the final chunk. An empty buffer yields a single empty
// chunk so boundary flags always travel.
func Split(res *engine.AudioResult, frameBytes int, lastUnit bool) []Chunk {
	sampleBytes := res.Width * res.Channels
	if sampleBytes <= 0 {
		sampleBytes = 1
	}
	if frameBytes < sampleBytes {
		frameBytes = DefaultFrameBytes
	}
	frameBytes -= frameBytes % sampleBytes

	meta := Chunk{
		UnitIndex:  res.UnitIndex,
		SampleRate: res.SampleRate,
		Width:      res.Width,
		Channels:   res.Channels,
	}

	if len(res.PCM) == 0 {
		empty := meta
		empty.FirstOfUnit = true
		empty.LastOfUnit = true
		empty.LastOfRequest = lastUnit
		return []Chunk{empty}
	}

	chunks := make([]Chunk, 0, (len(res.PCM)+frameBytes-1)/frameBytes)
	var offset time.Duration
	for start := 0; start < len(res.PCM); start += frameBytes {
		end := start + frameBytes
		if end > len(res.PCM) {
			end = len(res.PCM)
		}
		c := meta
		c.Seq = len(chunks)
		c.PCM = res.PCM[start:end]
		c.FirstOfUnit = start == 0
		c.LastOfUnit = end == len(res.PCM)
		c.LastOfRequest = c.LastOfUnit && lastUnit
		c.Timestamp = offset
		offset += c.Duration()
		chunks = append(chunks, c)
	}
	return chunks
}

// EmptyFinal returns the zero-audio, end-of-request chunk emitted when a
// request contains no synthesizable content.
func EmptyFinal(format engine.Format) Chunk {
	return Chunk{
		SampleRate:    format.SampleRate,
		Width:         format.Width,
		Channels:      format.Channels,
		FirstOfUnit:   true,
		LastOfUnit:    true,
		LastOfRequest: true,
	}
}
