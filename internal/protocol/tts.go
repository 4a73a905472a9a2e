package protocol

import (
	"encoding/json"
	"fmt"
)

// Wyoming event types handled by this server.
const (
	TypeDescribe          = "describe"
	TypeInfo              = "info"
	TypeSynthesize        = "synthesize"
	TypeSynthesizeStart   = "synthesize-start"
	TypeSynthesizeChunk   = "synthesize-chunk"
	TypeSynthesizeStop    = "synthesize-stop"
	TypeSynthesizeStopped = "synthesize-stopped"
	TypeAudioStart        = "audio-start"
	TypeAudioChunk        = "audio-chunk"
	TypeAudioStop         = "audio-stop"
	TypeError             = "error"
)

// Voice selects a voice, optionally with a language override.
type Voice struct {
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
}

// Synthesize is a single-shot synthesis request.
type Synthesize struct {
	Text  string `json:"text"`
	Voice *Voice `json:"voice,omitempty"`
}

// SynthesizeStart opens a streaming-input synthesis.
type SynthesizeStart struct {
	Voice *Voice `json:"voice,omitempty"`
}

// SynthesizeChunk carries a piece of streamed request text.
type SynthesizeChunk struct {
	Text string `json:"text"`
}

// AudioStart announces the audio format for the chunks that follow.
type AudioStart struct {
	Rate      int   `json:"rate"`
	Width     int   `json:"width"`
	Channels  int   `json:"channels"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// AudioChunkMeta describes one audio-chunk event; the samples travel in the
// event payload.
type AudioChunkMeta struct {
	Rate      int   `json:"rate"`
	Width     int   `json:"width"`
	Channels  int   `json:"channels"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// AudioStop closes the audio stream of one request.
type AudioStop struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Error reports a request failure to the client.
type Error struct {
	Text string `json:"text"`
	Code string `json:"code,omitempty"`
}

// Info advertises the server's TTS capabilities.
type Info struct {
	TTS []TTSProgram `json:"tts"`
}

type TTSProgram struct {
	Name                        string      `json:"name"`
	Description                 string      `json:"description,omitempty"`
	Attribution                 Attribution `json:"attribution"`
	Installed                   bool        `json:"installed"`
	Version                     string      `json:"version,omitempty"`
	SupportsSynthesizeStreaming bool        `json:"supports_synthesize_streaming"`
	Voices                      []TTSVoice  `json:"voices"`
}

type TTSVoice struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Attribution Attribution `json:"attribution"`
	Installed   bool        `json:"installed"`
	Version     string      `json:"version,omitempty"`
	Languages   []string    `json:"languages"`
}

type Attribution struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// NewEvent builds an event of the given type from any JSON-marshalable value.
func NewEvent(eventType string, v any) *Event {
	ev := &Event{Type: eventType}
	if v == nil {
		return ev
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ev
	}
	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return ev
	}
	ev.Data = data
	return ev
}

// DecodeData unmarshals the event's data section into dst.
func DecodeData(ev *Event, dst any) error {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("re-encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	return nil
}

// NewAudioChunk builds an audio-chunk event with the samples as payload.
func NewAudioChunk(meta AudioChunkMeta, pcm []byte) *Event {
	ev := NewEvent(TypeAudioChunk, meta)
	ev.Payload = pcm
	return ev
}
