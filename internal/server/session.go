package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mitrokun/wyoming-supertonic/internal/audio"
	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/pipeline"
	"github.com/mitrokun/wyoming-supertonic/internal/protocol"
	"github.com/mitrokun/wyoming-supertonic/internal/segment"
)

// Error codes sent with protocol error events.
const (
	codeValidation = "validation"
	codeSynthesis  = "synthesis"
)

// Options carries the dependencies shared by every session.
type Options struct {
	Backend   engine.Backend
	Pipeline  *pipeline.Pipeline
	Synthesis config.SynthesisConfig
	// Defaults supplies voice and prosody for requests that do not pick
	// their own; Text is unused.
	Defaults engine.UnitRequest
	Info     protocol.Info
	Journal  Journal
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Journal receives a record of every finished synthesis request. Implemented
// by the event store; nil disables history.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry)
}

type JournalEntry struct {
	SessionID      string
	Voice          string
	Language       string
	Chars          int
	Units          int
	AudioDuration  time.Duration
	StreamingInput bool
	Error          string
}

// Session serves one client connection. Events are handled in arrival order;
// a streaming-input request (synthesize-start through synthesize-stop) holds
// the session until it completes.
type Session struct {
	id        string
	conn      io.ReadWriteCloser
	reader    *protocol.Reader
	writer    *protocol.Writer
	opts      Options
	logger    *slog.Logger
	closeOnce sync.Once

	// stream is non-nil between synthesize-start and synthesize-stop.
	stream *inputStream
}

func NewSession(conn io.ReadWriteCloser, opts Options) *Session {
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		opts:   opts,
	}
	s.logger = opts.Logger.With(
		slog.String("component", "session"),
		slog.String("session_id", s.id),
	)
	return s
}

func (s *Session) ID() string { return s.id }

// Close shuts the connection, unblocking the read loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// Run serves the connection until the client disconnects, the transport
// fails, or ctx is done.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()
	defer func() {
		if s.stream != nil {
			s.stream.cancel()
			s.stream = nil
		}
	}()
	for {
		ev, err := s.reader.ReadEvent()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}
		if err := s.handle(ctx, ev); err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("session aborted", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// handle dispatches one event. A non-nil return ends the session; client
// mistakes are answered with error events instead.
func (s *Session) handle(ctx context.Context, ev *protocol.Event) error {
	switch ev.Type {
	case protocol.TypeDescribe:
		return s.writer.WriteEvent(protocol.NewEvent(protocol.TypeInfo, s.opts.Info))
	case protocol.TypeSynthesize:
		return s.handleSynthesize(ctx, ev)
	case protocol.TypeSynthesizeStart:
		return s.handleSynthesizeStart(ctx, ev)
	case protocol.TypeSynthesizeChunk:
		return s.handleSynthesizeChunk(ctx, ev)
	case protocol.TypeSynthesizeStop:
		return s.handleSynthesizeStop(ctx)
	default:
		s.logger.Debug("ignoring event", slog.String("type", ev.Type))
		return nil
	}
}

func (s *Session) handleSynthesize(ctx context.Context, ev *protocol.Event) error {
	if s.stream != nil {
		return s.writeError(ctx, "synthesize rejected: streaming request in progress", codeValidation)
	}
	var req protocol.Synthesize
	if err := protocol.DecodeData(ev, &req); err != nil {
		return s.writeError(ctx, err.Error(), codeValidation)
	}
	params, err := s.resolveParams(req.Voice)
	if err != nil {
		return s.writeError(ctx, err.Error(), codeValidation)
	}

	var units []segment.Unit
	if s.opts.Synthesis.Streaming {
		units = segment.Segment(req.Text)
	} else {
		units = segment.Single(req.Text)
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	s.opts.Metrics.recordRequest(ctx, params.Voice, false)
	rep := &reply{s: s, startedAt: time.Now()}
	runErr := s.streamUnits(reqCtx, units, params, true, rep)
	if runErr == nil && !rep.started {
		// Nothing synthesizable; the stream still opens and closes cleanly.
		if err := rep.write(ctx, audio.EmptyFinal(s.opts.Backend.Format())); err != nil {
			return err
		}
	}

	entry := JournalEntry{
		SessionID: s.id,
		Voice:     params.Voice,
		Language:  params.Language,
		Chars:     len(req.Text),
		Units:     len(units),
	}
	if runErr != nil {
		var se synthErr
		if !errors.As(runErr, &se) {
			return runErr // transport failure
		}
		if errors.Is(se.err, context.Canceled) && ctx.Err() != nil {
			return se.err // server shutdown, no error event
		}
		entry.Error = se.err.Error()
		s.record(ctx, entry)
		s.logger.Error("synthesis failed", slog.String("error", se.err.Error()))
		return s.writeError(ctx, synthMessage(se.err), codeSynthesis)
	}
	if err := rep.finish(ctx); err != nil {
		return err
	}
	entry.AudioDuration = rep.timestamp
	s.record(ctx, entry)
	return nil
}

func (s *Session) handleSynthesizeStart(ctx context.Context, ev *protocol.Event) error {
	if s.stream != nil {
		return s.writeError(ctx, "synthesize-start rejected: streaming request in progress", codeValidation)
	}
	var req protocol.SynthesizeStart
	if err := protocol.DecodeData(ev, &req); err != nil {
		return s.writeError(ctx, err.Error(), codeValidation)
	}
	params := s.resolveStreamParams(req.Voice)

	reqCtx, cancel := s.requestContext(ctx)
	s.opts.Metrics.recordRequest(ctx, params.Voice, true)
	s.stream = &inputStream{
		detector: segment.NewDetector(),
		params:   params,
		rep:      &reply{s: s, startedAt: time.Now()},
		ctx:      reqCtx,
		cancel:   cancel,
	}
	return nil
}

func (s *Session) handleSynthesizeChunk(ctx context.Context, ev *protocol.Event) error {
	st := s.stream
	if st == nil {
		return s.writeError(ctx, "synthesize-chunk without synthesize-start", codeValidation)
	}
	var chunk protocol.SynthesizeChunk
	if err := protocol.DecodeData(ev, &chunk); err != nil {
		return s.writeError(ctx, err.Error(), codeValidation)
	}
	st.chars += len(chunk.Text)
	for _, sentence := range st.detector.Add(chunk.Text) {
		st.pending = append(st.pending, sentence)
		st.pendingLen += len(sentence)
	}
	if st.failed != nil || st.pendingLen < s.opts.Synthesis.MinFlushChars {
		return nil
	}
	return s.flushStream(ctx, st, false)
}

func (s *Session) handleSynthesizeStop(ctx context.Context) error {
	st := s.stream
	if st == nil {
		return s.writeError(ctx, "synthesize-stop without synthesize-start", codeValidation)
	}
	defer func() {
		st.cancel()
		s.stream = nil
	}()

	if remainder := st.detector.Finish(); remainder != "" {
		st.pending = append(st.pending, remainder)
		st.pendingLen += len(remainder)
	}
	if st.failed == nil {
		if err := s.flushStream(ctx, st, true); err != nil {
			return err
		}
	}
	if st.failed != nil {
		// The error event already went out; acknowledge the input stream
		// so the client does not wait on it.
		return s.writer.WriteEvent(protocol.NewEvent(protocol.TypeSynthesizeStopped, nil))
	}

	if !st.rep.started {
		if err := st.rep.write(ctx, audio.EmptyFinal(s.opts.Backend.Format())); err != nil {
			return err
		}
	}
	if err := st.rep.finish(ctx); err != nil {
		return err
	}
	s.record(ctx, JournalEntry{
		SessionID:      s.id,
		Voice:          st.params.Voice,
		Language:       st.params.Language,
		Chars:          st.chars,
		Units:          st.units,
		AudioDuration:  st.rep.timestamp,
		StreamingInput: true,
	})
	return s.writer.WriteEvent(protocol.NewEvent(protocol.TypeSynthesizeStopped, nil))
}

// inputStream tracks one synthesize-start through synthesize-stop exchange.
type inputStream struct {
	detector *segment.Detector
	params   engine.UnitRequest
	rep      *reply
	ctx      context.Context
	cancel   context.CancelFunc

	pending    []string // detected sentences not yet synthesized
	pendingLen int
	nextIndex  int
	chars      int
	units      int
	failed     error // first synthesis failure; remaining input is drained
}

// flushStream synthesizes the buffered sentences. Synthesis failures are
// reported to the client here and parked on st.failed; only transport
// failures propagate.
func (s *Session) flushStream(ctx context.Context, st *inputStream, last bool) error {
	if len(st.pending) == 0 {
		return nil
	}
	units := make([]segment.Unit, len(st.pending))
	for i, text := range st.pending {
		units[i] = segment.Unit{Index: st.nextIndex, Text: text}
		st.nextIndex++
	}
	if last {
		units[len(units)-1].Final = true
	}
	st.pending, st.pendingLen = nil, 0
	st.units += len(units)

	err := s.streamUnits(st.ctx, units, st.params, last, st.rep)
	if err == nil {
		return nil
	}
	var se synthErr
	if !errors.As(err, &se) {
		return err
	}
	if errors.Is(se.err, context.Canceled) && ctx.Err() != nil {
		return se.err
	}
	st.failed = se.err
	s.record(ctx, JournalEntry{
		SessionID:      s.id,
		Voice:          st.params.Voice,
		Language:       st.params.Language,
		Chars:          st.chars,
		Units:          st.units,
		StreamingInput: true,
		Error:          se.err.Error(),
	})
	s.logger.Error("synthesis failed", slog.String("error", se.err.Error()))
	return s.writeError(ctx, synthMessage(se.err), codeSynthesis)
}

// synthErr marks a backend failure that becomes an error event. Plain errors
// from streamUnits are transport failures that end the session.
type synthErr struct{ err error }

func (e synthErr) Error() string { return e.err.Error() }
func (e synthErr) Unwrap() error { return e.err }

// streamUnits runs one batch through the pipeline and writes its audio in
// unit order.
func (s *Session) streamUnits(ctx context.Context, units []segment.Unit, params engine.UnitRequest, last bool, rep *reply) error {
	if len(units) == 0 {
		return nil
	}
	lastIndex := units[len(units)-1].Index
	results, errs := s.opts.Pipeline.Run(ctx, units, params)
	for res := range results {
		final := last && res.UnitIndex == lastIndex
		for _, c := range audio.Split(res, s.opts.Synthesis.ChunkBytes, final) {
			if err := rep.write(ctx, c); err != nil {
				return err
			}
		}
	}
	if err := <-errs; err != nil {
		return synthErr{err: err}
	}
	return nil
}

// reply writes one request's audio events, opening audio-start lazily so a
// request that fails validation or synthesis never emits a dangling stream.
type reply struct {
	s         *Session
	started   bool
	firstSent bool
	startedAt time.Time
	timestamp time.Duration
}

func (t *reply) write(ctx context.Context, c audio.Chunk) error {
	if !t.started {
		start := protocol.AudioStart{Rate: c.SampleRate, Width: c.Width, Channels: c.Channels}
		if err := t.s.writer.WriteEvent(protocol.NewEvent(protocol.TypeAudioStart, start)); err != nil {
			return err
		}
		t.started = true
	}
	meta := protocol.AudioChunkMeta{
		Rate:      c.SampleRate,
		Width:     c.Width,
		Channels:  c.Channels,
		Timestamp: t.timestamp.Milliseconds(),
	}
	if err := t.s.writer.WriteEvent(protocol.NewAudioChunk(meta, c.PCM)); err != nil {
		return err
	}
	if !t.firstSent {
		t.firstSent = true
		t.s.opts.Metrics.recordFirstAudio(ctx, time.Since(t.startedAt))
	}
	t.timestamp += c.Duration()
	return nil
}

func (t *reply) finish(ctx context.Context) error {
	if !t.started {
		return nil
	}
	t.s.opts.Metrics.recordAudio(ctx, t.timestamp)
	return t.s.writer.WriteEvent(protocol.NewEvent(protocol.TypeAudioStop,
		protocol.AudioStop{Timestamp: t.timestamp.Milliseconds()}))
}

func (s *Session) resolveParams(v *protocol.Voice) (engine.UnitRequest, error) {
	params := s.opts.Defaults
	if v == nil {
		return params, nil
	}
	if v.Name != "" {
		found := false
		for _, known := range s.opts.Backend.Voices() {
			if known.ID == v.Name {
				found = true
				break
			}
		}
		if !found {
			return params, fmt.Errorf("unknown voice: %s", v.Name)
		}
		params.Voice = v.Name
	}
	if v.Language != "" {
		params.Language = engine.NormalizeLanguage(v.Language)
	}
	return params, nil
}

// resolveStreamParams is the lenient variant used for streaming input. The
// client has already committed to sending text, so an unknown voice falls
// back to the first available one instead of rejecting the stream.
func (s *Session) resolveStreamParams(v *protocol.Voice) engine.UnitRequest {
	params, err := s.resolveParams(v)
	if err == nil {
		return params
	}
	if voices := s.opts.Backend.Voices(); len(voices) > 0 {
		params.Voice = voices[0].ID
	}
	if v.Language != "" {
		params.Language = engine.NormalizeLanguage(v.Language)
	}
	s.logger.Warn("unknown voice, falling back",
		slog.String("requested", v.Name),
		slog.String("voice", params.Voice))
	return params
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := s.opts.Synthesis.TimeoutMS; t > 0 {
		return context.WithTimeout(ctx, time.Duration(t)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func (s *Session) writeError(ctx context.Context, text, code string) error {
	s.opts.Metrics.recordFailure(ctx, code)
	return s.writer.WriteEvent(protocol.NewEvent(protocol.TypeError, protocol.Error{Text: text, Code: code}))
}

func (s *Session) record(ctx context.Context, entry JournalEntry) {
	if s.opts.Journal == nil {
		return
	}
	s.opts.Journal.Record(ctx, entry)
}

func synthMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "synthesis timed out"
	}
	return err.Error()
}
