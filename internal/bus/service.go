package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mitrokun/wyoming-supertonic/internal/audio"
	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/pipeline"
	"github.com/mitrokun/wyoming-supertonic/internal/protocol"
	"github.com/mitrokun/wyoming-supertonic/internal/segment"
)

const defaultRequestTimeout = 45 * time.Second

// Service answers synthesis requests arriving over NATS, mirroring the TCP
// surface for callers already on the bus. Audio chunks for one request are
// published in playback order.
type Service struct {
	cfg     config.Config
	bus     *Client
	backend engine.Backend
	pipe    *pipeline.Pipeline
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.Config, busClient *Client, backend engine.Backend, pipe *pipeline.Pipeline, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		backend: backend,
		pipe:    pipe,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "bus-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Bus.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Bus.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timeout := defaultRequestTimeout
		if t := s.cfg.Synthesis.TimeoutMS; t > 0 {
			timeout = time.Duration(t) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		if err := s.synthesize(ctx, req); err != nil {
			s.logger.Warn("tts synthesis error", slogError(err))
			s.publishStatus(req, err)
			return
		}
		s.publishStatus(req, nil)
	}()
}

func (s *Service) synthesize(ctx context.Context, req protocol.TTSRequest) error {
	params := s.params(req)

	var units []segment.Unit
	if s.cfg.Synthesis.Streaming {
		units = segment.Segment(req.Text)
	} else {
		units = segment.Single(req.Text)
	}

	sequence := 0
	if len(units) == 0 {
		s.publishChunk(req, audio.EmptyFinal(s.backend.Format()), sequence)
		return nil
	}

	lastIndex := units[len(units)-1].Index
	results, errs := s.pipe.Run(ctx, units, params)
	for res := range results {
		for _, c := range audio.Split(res, s.cfg.Synthesis.ChunkBytes, res.UnitIndex == lastIndex) {
			s.publishChunk(req, c, sequence)
			sequence++
		}
	}
	return <-errs
}

// params folds the request onto the configured defaults. Unknown voices and
// out-of-range prosody fall back rather than fail; bus callers have no error
// channel of their own beyond the done status.
func (s *Service) params(req protocol.TTSRequest) engine.UnitRequest {
	params := engine.UnitRequest{
		Voice:    s.cfg.Engine.Voice,
		Language: engine.NormalizeLanguage(s.cfg.Engine.Language),
		Speed:    s.cfg.Engine.Speed,
		Steps:    s.cfg.Engine.Steps,
	}
	if params.Voice == "" {
		if voices := s.backend.Voices(); len(voices) > 0 {
			params.Voice = voices[0].ID
		}
	}
	if req.Voice != "" {
		for _, known := range s.backend.Voices() {
			if known.ID == req.Voice {
				params.Voice = req.Voice
				break
			}
		}
	}
	if req.Language != "" {
		params.Language = engine.NormalizeLanguage(req.Language)
	}
	if req.Speed >= config.MinSpeed && req.Speed <= config.MaxSpeed {
		params.Speed = req.Speed
	}
	if req.Steps > 0 {
		params.Steps = req.Steps
	}
	return params
}

func (s *Service) publishChunk(req protocol.TTSRequest, chunk audio.Chunk, sequence int) {
	packet := protocol.TTSAudioChunk{
		SessionID:  req.SessionID,
		UnitIndex:  chunk.UnitIndex,
		Sequence:   sequence,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		PCM:        chunk.PCM,
		Final:      chunk.LastOfRequest,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSAudio, data); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (s *Service) publishStatus(req protocol.TTSRequest, synthErr error) {
	status := protocol.TTSStatus{
		SessionID: req.SessionID,
		Completed: synthErr == nil,
		Timestamp: time.Now().UTC(),
	}
	if synthErr != nil {
		status.Error = synthErr.Error()
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal tts status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSDone, data); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
