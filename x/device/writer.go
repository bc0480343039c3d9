package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/pdp-relay/x/queue"
)

const (
	DefaultSettleDelay  = 2 * time.Second
	DefaultWriteTimeout = 10 * time.Millisecond
	DefaultStallTimeout = time.Second
)

// ErrWriteTimeout is reported when a write does not return within the write timeout.
var ErrWriteTimeout = errors.New("device write timed out")

// Source yields queued status messages in FIFO order.
type Source interface {
	Dequeue(ctx context.Context) (queue.StatusMessage, error)
}

// Config configures a Writer.
type Config struct {
	// SettleDelay is waited once before the first write; the board resets when the port opens.
	SettleDelay time.Duration
	// WriteTimeout marks a write as slow. The write keeps running and owns the port until it returns.
	// Zero disables the check.
	WriteTimeout time.Duration
	// StallTimeout bounds how long the next status waits for a slow write to release the port.
	// A status that waits longer is dropped. Zero waits until ctx is cancelled.
	StallTimeout time.Duration
}

// Stats counts write results since start. A slow write is counted in TimedOut and
// again in Written or Failed once it returns.
type Stats struct {
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	TimedOut uint64 `json:"timed_out"`
	Dropped  uint64 `json:"dropped"`
}

// Writer is the single consumer of the status queue and the only owner of the port.
type Writer struct {
	port    Port
	src     Source
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	// slot holds a token while a write is in flight on the port.
	slot  chan struct{}
	ready atomic.Bool

	written  atomic.Uint64
	failed   atomic.Uint64
	timedOut atomic.Uint64
	dropped  atomic.Uint64
}

// NewWriter constructs a Writer.
func NewWriter(port Port, src Source, cfg Config, log zerolog.Logger) *Writer {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.StallTimeout < 0 {
		cfg.StallTimeout = 0
	}
	return &Writer{
		port:    port,
		src:     src,
		cfg:     cfg,
		log:     log.With().Str("component", "device-writer").Logger(),
		metrics: NewMetrics(),
		slot:    make(chan struct{}, 1),
	}
}

// Run waits for the settle delay and then writes queued statuses until ctx is
// cancelled or the queue is closed and drained.
func (w *Writer) Run(ctx context.Context) error {
	w.log.Info().
		Dur("settle_delay", w.cfg.SettleDelay).
		Dur("write_timeout", w.cfg.WriteTimeout).
		Dur("stall_timeout", w.cfg.StallTimeout).
		Msg("Waiting for device to settle")

	if w.cfg.SettleDelay > 0 {
		timer := time.NewTimer(w.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}

	w.ready.Store(true)
	w.metrics.Ready.Set(1)
	w.log.Info().Msg("Device writer ready")

	for {
		msg, err := w.src.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				w.log.Info().Msg("Device writer stopped")
				return nil
			}
			return fmt.Errorf("dequeue status: %w", err)
		}
		w.write(ctx, msg)
	}
}

// Ready reports whether the settle delay has elapsed.
func (w *Writer) Ready() bool {
	return w.ready.Load()
}

// Stats returns the write counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:  w.written.Load(),
		Failed:   w.failed.Load(),
		TimedOut: w.timedOut.Load(),
		Dropped:  w.dropped.Load(),
	}
}

func (w *Writer) write(ctx context.Context, msg queue.StatusMessage) {
	line := msg.Line()
	log := w.log.With().Str("file", msg.File).Str("status", string(msg.Status)).Str("source", msg.Source).Logger()

	if !msg.EnqueuedAt.IsZero() {
		w.metrics.QueueLatency.Observe(time.Since(msg.EnqueuedAt).Seconds())
	}

	// A previous slow write may still own the port.
	if !w.acquire(ctx) {
		w.dropped.Add(1)
		w.metrics.WritesTotal.WithLabelValues("dropped", msg.Source).Inc()
		log.Error().Dur("stall_timeout", w.cfg.StallTimeout).Msg("Device stalled on a previous write, dropping status")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.writeLine(line, msg.Source, log)
	}()

	var timeout <-chan time.Time
	if w.cfg.WriteTimeout > 0 {
		timer := time.NewTimer(w.cfg.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		w.timedOut.Add(1)
		w.metrics.WritesTotal.WithLabelValues("timeout", msg.Source).Inc()
		log.Warn().Err(ErrWriteTimeout).Dur("timeout", w.cfg.WriteTimeout).Msg("Slow device write, still in flight")
	case <-ctx.Done():
	}
}

// writeLine performs one write while holding the slot and records its final result.
func (w *Writer) writeLine(line, source string, log zerolog.Logger) {
	start := time.Now()
	n, err := w.port.Write([]byte(line))
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}

	if err != nil {
		w.failed.Add(1)
		w.metrics.WritesTotal.WithLabelValues("failed", source).Inc()
		log.Error().Err(err).Msg("Failed to write to device")
	} else {
		w.written.Add(1)
		w.metrics.WritesTotal.WithLabelValues("written", source).Inc()
		w.metrics.WriteDuration.Observe(time.Since(start).Seconds())
		w.metrics.BytesWritten.Add(float64(len(line)))
		log.Debug().Dur("took", time.Since(start)).Msg("Status written to device")
	}

	<-w.slot
}

// acquire takes the write slot, waiting at most the stall timeout for an
// in-flight write to return.
func (w *Writer) acquire(ctx context.Context) bool {
	select {
	case w.slot <- struct{}{}:
		return true
	default:
	}

	var stall <-chan time.Time
	if w.cfg.StallTimeout > 0 {
		timer := time.NewTimer(w.cfg.StallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	select {
	case w.slot <- struct{}{}:
		return true
	case <-stall:
		return false
	case <-ctx.Done():
		return false
	}
}
