package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the synthesis instruments. A nil *Metrics is valid and
// records nothing, which keeps tests free of meter setup.
type Metrics struct {
	requests   metric.Int64Counter
	failures   metric.Int64Counter
	firstAudio metric.Float64Histogram
	audioOut   metric.Float64Counter
}

func NewMetrics(logger *slog.Logger) *Metrics {
	meter := otel.Meter("github.com/mitrokun/wyoming-supertonic/server")
	m := &Metrics{}
	var err error
	if m.requests, err = meter.Int64Counter("supertonic.requests",
		metric.WithDescription("Synthesis requests received")); err != nil {
		logger.Warn("failed to register request counter", slog.String("error", err.Error()))
		return nil
	}
	if m.failures, err = meter.Int64Counter("supertonic.failures",
		metric.WithDescription("Synthesis requests that ended in an error event")); err != nil {
		logger.Warn("failed to register failure counter", slog.String("error", err.Error()))
		return nil
	}
	if m.firstAudio, err = meter.Float64Histogram("supertonic.first_audio_seconds",
		metric.WithDescription("Delay between request receipt and the first audio chunk"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("failed to register first-audio histogram", slog.String("error", err.Error()))
		return nil
	}
	if m.audioOut, err = meter.Float64Counter("supertonic.audio_seconds",
		metric.WithDescription("Total synthesized audio duration"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("failed to register audio counter", slog.String("error", err.Error()))
		return nil
	}
	return m
}

func (m *Metrics) recordRequest(ctx context.Context, voice string, streamingInput bool) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("voice", voice),
			attribute.Bool("streaming_input", streamingInput),
		))
}

func (m *Metrics) recordFailure(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *Metrics) recordFirstAudio(ctx context.Context, delay time.Duration) {
	if m == nil {
		return
	}
	m.firstAudio.Record(ctx, delay.Seconds())
}

func (m *Metrics) recordAudio(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.audioOut.Add(ctx, d.Seconds())
}
