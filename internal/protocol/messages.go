package protocol

import "time"

// TTSRequest is a synthesis request received over the bus.
type TTSRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Language  string  `json:"language,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Steps     int     `json:"steps,omitempty"`
}

// TTSAudioChunk is one framed slice of synthesized audio published on the bus.
type TTSAudioChunk struct {
	SessionID  string `json:"session_id"`
	UnitIndex  int    `json:"unit_index"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus reports completion or failure of a bus synthesis request.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)
