// Package engine defines the inference backend capability: turning one text
// unit plus voice parameters into a complete raw audio buffer.
package engine

import (
	"context"
	"time"
)

// Supported synthesis languages; anything else folds to "en".
var SupportedLanguages = []string{"en", "ko", "es", "pt", "fr"}

// Audio format defaults for the Supertonic model family.
const (
	DefaultSampleRate = 44100
	DefaultWidth      = 2
	DefaultChannels   = 1
)

// UnitRequest carries the parameters for synthesizing one unit.
type UnitRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float64
	Steps    int
}

// AudioResult is the complete synthesized audio for one unit.
type AudioResult struct {
	UnitIndex  int
	PCM        []byte
	SampleRate int
	Width      int
	Channels   int
}

// Duration returns the playback length of the buffer.
func (a *AudioResult) Duration() time.Duration {
	bytesPerSecond := a.SampleRate * a.Width * a.Channels
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(bytesPerSecond)
}

// Voice describes one selectable voice style.
type Voice struct {
	ID          string
	Description string
	Languages   []string
}

// Format describes the PCM layout the backend produces.
type Format struct {
	SampleRate int
	Width      int
	Channels   int
}

// Backend is the synthesis capability. Implementations are not required to be
// callable concurrently beyond the pipeline's configured budget; callers must
// go through the pipeline.
type Backend interface {
	Synthesize(ctx context.Context, req UnitRequest) (*AudioResult, error)
	Voices() []Voice
	Format() Format
}

// NormalizeLanguage folds a language tag onto the supported set.
func NormalizeLanguage(lang string) string {
	if len(lang) < 2 {
		return "en"
	}
	short := lang[:2]
	short = string([]byte{lower(short[0]), lower(short[1])})
	for _, l := range SupportedLanguages {
		if l == short {
			return short
		}
	}
	return "en"
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
