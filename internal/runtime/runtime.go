// Package runtime assembles the process: telemetry, the synthesis backend,
// the Wyoming TCP server, the optional NATS ingress, and the HTTP health
// surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitrokun/wyoming-supertonic/internal/bus"
	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/eventstore"
	"github.com/mitrokun/wyoming-supertonic/internal/natsserver"
	"github.com/mitrokun/wyoming-supertonic/internal/pipeline"
	"github.com/mitrokun/wyoming-supertonic/internal/server"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs every component and blocks until ctx is done, then shuts the
// process down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	backend, err := r.buildBackend()
	if err != nil {
		return err
	}

	history, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	if err := history.Ensure(); err != nil {
		history.Close()
		return fmt.Errorf("history store misconfigured: %w", err)
	}
	defer history.Close()

	// One pipeline shares the inference budget between the TCP server and
	// the bus ingress.
	pipe := pipeline.New(backend, pipeline.NewLimiter(r.cfg.Engine.Threads), r.logger)

	srv, err := server.New(r.cfg, backend, pipe, history, r.logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Close()

	closeBus, err := r.startBus(ctx, backend, pipe)
	if err != nil {
		return err
	}
	defer closeBus()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/history", r.handleHistory(history))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("tts_uri", r.cfg.Server.URI),
		slog.String("http_addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildBackend() (engine.Backend, error) {
	switch r.cfg.Engine.Mode {
	case "exec":
		backend, err := engine.NewExecBackend(r.cfg.Engine.Command, engine.StylesDir(r.cfg.Engine.DataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to start exec backend: %w", err)
		}
		return backend, nil
	default:
		r.logger.Warn("using mock synthesis backend")
		return engine.NewMockBackend(), nil
	}
}

// startBus brings up the optional NATS ingress: an embedded broker when
// configured, a client connection, and the request subscriber. The returned
// closer is safe to call when the bus is disabled.
func (r *Runtime) startBus(ctx context.Context, backend engine.Backend, pipe *pipeline.Pipeline) (func(), error) {
	if !r.cfg.Bus.Enabled {
		return func() {}, nil
	}

	busLogger := r.logger.With(slog.String("component", "bus"))
	embedded, err := natsserver.Start(r.cfg.Bus, busLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, busLogger)
	if err != nil {
		embedded.Shutdown()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	service := bus.NewService(ctx, r.cfg, client, backend, pipe, r.logger)
	if err := service.Start(); err != nil {
		client.Close()
		embedded.Shutdown()
		return nil, fmt.Errorf("failed to start bus service: %w", err)
	}

	return func() {
		service.Close()
		client.Close()
		embedded.Shutdown()
	}, nil
}

// handleHistory serves recorded synthesis requests: the newest across all
// sessions, or one session's requests when ?session= is given. An ephemeral
// store answers with an empty list.
func (r *Runtime) handleHistory(history *eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		var (
			requests []eventstore.Request
			err      error
		)
		if session := req.URL.Query().Get("session"); session != "" {
			requests, err = history.ListSession(req.Context(), session, limit)
		} else {
			requests, err = history.ListRecent(req.Context(), limit)
		}
		if err != nil {
			r.logger.Error("history query failed", slog.String("error", err.Error()))
			http.Error(w, "history query failed", http.StatusInternalServerError)
			return
		}
		if requests == nil {
			requests = []eventstore.Request{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(requests); err != nil {
			r.logger.Warn("history response failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
