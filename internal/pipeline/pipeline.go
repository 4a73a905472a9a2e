// Package pipeline drives unit inference against the shared backend under a
// global concurrency budget, delivering results strictly in unit order.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/segment"
)

// Limiter bounds simultaneous backend calls process-wide. One Limiter guards
// one backend instance, shared by every session.
type Limiter struct {
	tickets chan struct{}
}

// NewLimiter creates a limiter with the given budget (minimum 1).
func NewLimiter(budget int) *Limiter {
	if budget < 1 {
		budget = 1
	}
	return &Limiter{tickets: make(chan struct{}, budget)}
}

func (l *Limiter) release() { <-l.tickets }

// Budget returns the configured concurrency budget.
func (l *Limiter) Budget() int { return cap(l.tickets) }

// Pipeline feeds ordered units through the backend. Safe for concurrent use;
// each Run is independent but all share the limiter.
type Pipeline struct {
	backend engine.Backend
	limiter *Limiter
	logger  *slog.Logger
}

func New(backend engine.Backend, limiter *Limiter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		backend: backend,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "pipeline")),
	}
}

type completion struct {
	index int
	res   *engine.AudioResult
	err   error
}

// Run dispatches the units and returns a channel of results in strict unit
// order plus an error channel. Both channels are closed when the run ends.
// On the first inference failure remaining units are not dispatched, no
// result for the failed or any later unit is delivered, and exactly one
// error is sent. Cancelling ctx stops dispatch within one step; in-flight
// calls finish and their results are discarded, and ctx's error is reported.
func (p *Pipeline) Run(ctx context.Context, units []segment.Unit, params engine.UnitRequest) (<-chan *engine.AudioResult, <-chan error) {
	results := make(chan *engine.AudioResult)
	errs := make(chan error, 1)

	go func() {
		defer close(results)
		defer close(errs)

		if len(units) == 0 {
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Buffered so workers can always report and release their ticket.
		done := make(chan completion, len(units))
		var wg sync.WaitGroup

		// Unit indices need not start at zero: a streamed request keeps a
		// running index across batches.
		buf := newReorderBuffer(units[0].Index)
		dispatched := 0
		received := 0
		var failure error

		handle := func(c completion) {
			received++
			if c.err != nil {
				if failure == nil && ctx.Err() == nil {
					failure = c.err
					p.logger.Warn("unit synthesis failed",
						slog.Int("unit", c.index),
						slog.String("error", c.err.Error()))
				}
				cancel()
				return
			}
			if failure != nil || ctx.Err() != nil {
				return
			}
			for _, r := range buf.put(c.res) {
				select {
				case results <- r:
				case <-ctx.Done():
					return
				}
			}
		}

		for _, u := range units {
			if failure != nil || ctx.Err() != nil {
				break
			}

			// Wait for a backend ticket while draining completions, so
			// earlier units flow downstream as soon as they are ready.
			acquired := false
			for !acquired && failure == nil && runCtx.Err() == nil {
				select {
				case p.limiter.tickets <- struct{}{}:
					acquired = true
				case c := <-done:
					handle(c)
				case <-runCtx.Done():
				}
			}
			if !acquired {
				break
			}
			if failure != nil || runCtx.Err() != nil {
				p.limiter.release()
				break
			}

			dispatched++
			wg.Add(1)
			go func(u segment.Unit) {
				defer wg.Done()
				defer p.limiter.release()

				req := params
				req.Text = strings.TrimSpace(u.Text)
				res, err := p.backend.Synthesize(runCtx, req)
				if res != nil {
					res.UnitIndex = u.Index
				}
				done <- completion{index: u.Index, res: res, err: err}
			}(u)
		}

		for received < dispatched {
			handle(<-done)
		}
		wg.Wait()

		switch {
		case failure != nil:
			errs <- failure
		case ctx.Err() != nil:
			errs <- ctx.Err()
		}
	}()

	return results, errs
}
