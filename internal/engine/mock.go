package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockBackend synthesizes deterministic silence for tests and mock mode. It
// can inject per-unit latency and failures, and tracks its maximum observed
// call concurrency so tests can assert the pipeline budget.
type MockBackend struct {
	format Format
	voices []Voice

	// Delay applied to every call.
	Delay time.Duration
	// DelayFor overrides Delay for specific texts (trimmed).
	DelayFor map[string]time.Duration
	// FailFor makes calls for specific texts (trimmed) fail.
	FailFor map[string]bool
	// BytesPerRune controls the size of the generated buffer.
	BytesPerRune int

	mu         sync.Mutex
	calls      []string
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
}

// NewMockBackend returns a mock with the default output format and voices
// M1 and F1.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		format: Format{SampleRate: DefaultSampleRate, Width: DefaultWidth, Channels: DefaultChannels},
		voices: []Voice{
			{ID: "M1", Description: "Male 1", Languages: SupportedLanguages},
			{ID: "F1", Description: "Female 1", Languages: SupportedLanguages},
		},
		BytesPerRune: 4,
	}
}

func (m *MockBackend) Voices() []Voice { return m.voices }

func (m *MockBackend) Format() Format { return m.format }

func (m *MockBackend) Synthesize(ctx context.Context, req UnitRequest) (*AudioResult, error) {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxSeen.Load()
		if cur <= prev || m.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	key := strings.TrimSpace(req.Text)
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()

	delay := m.Delay
	if d, ok := m.DelayFor[key]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailFor[key] {
		return nil, fmt.Errorf("mock synthesis failed for %q", key)
	}

	n := len([]rune(key)) * m.BytesPerRune
	if n <= 0 {
		n = m.BytesPerRune
	}
	// Frame-align the buffer.
	n -= n % (m.format.Width * m.format.Channels)
	if n == 0 {
		n = m.format.Width * m.format.Channels
	}
	return &AudioResult{
		PCM:        make([]byte, n),
		SampleRate: m.format.SampleRate,
		Width:      m.format.Width,
		Channels:   m.format.Channels,
	}, nil
}

// Calls returns the texts synthesized so far, in call order.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MaxConcurrency reports the highest number of simultaneous Synthesize calls
// observed.
func (m *MockBackend) MaxConcurrency() int {
	return int(m.maxSeen.Load())
}
