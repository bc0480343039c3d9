package periodrunner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LocalRunner implements Runner with a local timer. Ticks never overlap: the
// next tick is scheduled Interval after the previous handler returned.
type LocalRunner struct {
	// Log and lifecycle
	log     zerolog.Logger
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	// Handler
	handler TickCallback
	// Time management
	interval  time.Duration
	immediate bool
	now       func() time.Time
}

// NewLocalRunner constructs a LocalRunner.
// If config.Handler is nil, SetHandler must be called before Start.
func NewLocalRunner(cfg RunnerConfig) *LocalRunner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &LocalRunner{
		handler:   cfg.Handler,
		interval:  cfg.Interval,
		immediate: cfg.Immediate,
		now:       cfg.Now,
		log:       cfg.Logger,
	}
}

// SetHandler sets the handler to be called on every tick.
// It should be called before Start; otherwise Start will panic.
func (r *LocalRunner) SetHandler(handler TickCallback) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Start begins ticking until the context is canceled or Stop is called.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handler == nil {
		panic("periodrunner: LocalRunner requires a handler to start")
	}
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.run(runCtx, r.handler, r.done)
	return nil
}

// Stop halts the runner and waits for an in-flight tick to return or ctx to expire.
func (r *LocalRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *LocalRunner) run(ctx context.Context, handler TickCallback, done chan struct{}) {
	defer close(done)

	delay := r.interval
	if r.immediate {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var tickID uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.emit(ctx, handler, tickID)
			tickID++
			timer.Reset(r.interval)
		}
	}
}

// emit triggers the handler with the provided TickInfo.
func (r *LocalRunner) emit(ctx context.Context, handler TickCallback, tickID uint64) {
	info := TickInfo{
		TickID:    tickID,
		StartedAt: r.now(),
		Interval:  r.interval,
	}

	if err := handler(ctx, info); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		r.log.Error().Err(err).Uint64("tick_id", tickID).Msg("tick handler returned error")
	}
}

var _ Runner = (*LocalRunner)(nil)
