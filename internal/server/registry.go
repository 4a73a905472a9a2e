package server

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Registry tracks live client sessions so shutdown can tear them all down.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{sessions: make(map[string]*Session)}
	meter := otel.Meter("github.com/mitrokun/wyoming-supertonic/server")
	gauge, err := meter.Int64ObservableGauge("supertonic.sessions.active",
		metric.WithDescription("Connected clients"))
	if err != nil {
		logger.Warn("failed to register session gauge", slog.String("error", err.Error()))
		return r
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(r.Len()))
		return nil
	}, gauge)
	if err != nil {
		logger.Warn("failed to register session gauge callback", slog.String("error", err.Error()))
	}
	return r
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll closes every live session. Each session removes itself from the
// registry as its run loop exits.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
