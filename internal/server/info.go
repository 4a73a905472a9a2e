package server

import (
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/protocol"
)

const serverVersion = "1.4.0"

var modelAttribution = protocol.Attribution{
	Name: "Supertone",
	URL:  "https://github.com/supertone-inc/supertonic",
}

// BuildInfo assembles the describe/info response from the backend's voice
// catalog.
func BuildInfo(backend engine.Backend, streaming bool) protocol.Info {
	voices := backend.Voices()
	ttsVoices := make([]protocol.TTSVoice, 0, len(voices))
	for _, v := range voices {
		langs := v.Languages
		if len(langs) == 0 {
			langs = engine.SupportedLanguages
		}
		ttsVoices = append(ttsVoices, protocol.TTSVoice{
			Name:        v.ID,
			Description: v.Description,
			Attribution: modelAttribution,
			Installed:   true,
			Version:     serverVersion,
			Languages:   langs,
		})
	}
	return protocol.Info{
		TTS: []protocol.TTSProgram{{
			Name:                        "supertonic",
			Description:                 "Supertonic fast on-device text to speech",
			Attribution:                 modelAttribution,
			Installed:                   true,
			Version:                     serverVersion,
			SupportsSynthesizeStreaming: streaming,
			Voices:                      ttsVoices,
		}},
	}
}
