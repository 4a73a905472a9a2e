// Package server exposes the synthesizer over the Wyoming TCP protocol:
// newline-delimited JSON event headers with binary PCM payloads.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/pipeline"
)

type Server struct {
	addr     string
	opts     Options
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New wires a server from configuration. The pipeline carries the global
// concurrency budget and is shared by every connection; a nil pipe builds
// one from engine.threads.
func New(cfg config.Config, backend engine.Backend, pipe *pipeline.Pipeline, journal Journal, logger *slog.Logger) (*Server, error) {
	addr, err := ListenAddr(cfg.Server.URI)
	if err != nil {
		return nil, err
	}
	if pipe == nil {
		pipe = pipeline.New(backend, pipeline.NewLimiter(cfg.Engine.Threads), logger)
	}
	srvLogger := logger.With(slog.String("component", "server"))
	opts := Options{
		Backend:   backend,
		Pipeline:  pipe,
		Synthesis: cfg.Synthesis,
		Defaults: engine.UnitRequest{
			Voice:    cfg.Engine.Voice,
			Language: engine.NormalizeLanguage(cfg.Engine.Language),
			Speed:    cfg.Engine.Speed,
			Steps:    cfg.Engine.Steps,
		},
		Info:    BuildInfo(backend, cfg.Synthesis.Streaming),
		Journal: journal,
		Metrics: NewMetrics(srvLogger),
		Logger:  logger,
	}
	if opts.Defaults.Voice == "" {
		if voices := backend.Voices(); len(voices) > 0 {
			opts.Defaults.Voice = voices[0].ID
		}
	}
	return &Server{
		addr:     addr,
		opts:     opts,
		registry: NewRegistry(srvLogger),
		logger:   srvLogger,
	}, nil
}

// ListenAddr extracts host:port from a tcp:// URI.
func ListenAddr(uri string) (string, error) {
	addr, ok := strings.CutPrefix(uri, "tcp://")
	if !ok {
		return "", fmt.Errorf("unsupported server uri: %s", uri)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", fmt.Errorf("invalid server uri %s: %w", uri, err)
	}
	return addr, nil
}

// Start binds the listener and begins accepting connections. It does not
// block; Close tears everything down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the bound listener address, useful when the port was 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Sessions() int { return s.registry.Len() }

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	sess := NewSession(conn, s.opts)
	s.registry.add(sess)
	defer s.registry.remove(sess.ID())

	s.logger.Debug("client connected",
		slog.String("session_id", sess.ID()),
		slog.String("remote", conn.RemoteAddr().String()))
	sess.Run(ctx)
	s.logger.Debug("client disconnected", slog.String("session_id", sess.ID()))
}

// Close stops accepting, closes every live session, and waits for the
// connection goroutines to drain.
func (s *Server) Close() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.registry.CancelAll()
	s.wg.Wait()
}
