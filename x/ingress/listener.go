package ingress

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compose-network/pdp-relay/x/queue"
	"github.com/compose-network/pdp-relay/x/tracker"
)

// Swapper is the write side of the status store.
type Swapper interface {
	CompareAndReplace(next tracker.TrackedState) bool
}

// Enqueuer accepts status messages for the device.
type Enqueuer interface {
	Enqueue(queue.StatusMessage) error
}

// Config configures a Listener.
type Config struct {
	// RejectMalformed drops unparseable requests instead of stopping the listener.
	RejectMalformed bool
}

// Listener serves the request/acknowledge loop for stage changes.
type Listener struct {
	recv    Receiver
	store   Swapper
	sink    Enqueuer
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
}

// NewListener constructs a Listener.
func NewListener(recv Receiver, store Swapper, sink Enqueuer, cfg Config, log zerolog.Logger) *Listener {
	return &Listener{
		recv:    recv,
		store:   store,
		sink:    sink,
		cfg:     cfg,
		log:     log.With().Str("component", "ingress").Str("addr", recv.Addr()).Logger(),
		metrics: NewMetrics(),
	}
}

// Run serves requests until ctx is cancelled or the receiver is closed.
// Every request is acknowledged before its body is parsed. A returned error
// is fatal for the process.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info().Bool("reject_malformed", l.cfg.RejectMalformed).Msg("Ingress listener started")
	defer l.log.Info().Msg("Ingress listener stopped")

	for {
		req, err := l.recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrReceiverClosed) {
				return nil
			}
			l.metrics.RecordError("transport", "recv")
			return fmt.Errorf("receive request: %w", err)
		}

		if err := req.Ack(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.metrics.RecordError("transport", "ack")
			return fmt.Errorf("acknowledge request: %w", err)
		}

		if err := l.Handle(req.Body()); err != nil {
			return err
		}
	}
}

// Handle applies one acknowledged request body. It returns an error only for
// a malformed body when RejectMalformed is off.
func (l *Listener) Handle(body []byte) error {
	requestID := uuid.NewString()
	log := l.log.With().Str("request_id", requestID).Logger()
	l.metrics.RequestBytes.Observe(float64(len(body)))

	state, err := ParsePayload(body)
	if err != nil {
		l.metrics.RequestsTotal.WithLabelValues("malformed").Inc()
		l.metrics.RecordError("payload", "parse")
		if l.cfg.RejectMalformed {
			log.Warn().Err(err).Int("bytes", len(body)).Msg("Dropping malformed request")
			return nil
		}
		log.Error().Err(err).Int("bytes", len(body)).Msg("Malformed request")
		return fmt.Errorf("handle request %s: %w", requestID, err)
	}

	log.Debug().
		Stringer("stage", state.Stage).
		Str("file", state.File).
		Str("file_id", state.FileID).
		Msg("Received stage change")

	if !l.store.CompareAndReplace(state) {
		l.metrics.RequestsTotal.WithLabelValues("duplicate").Inc()
		l.metrics.DuplicatesTotal.Inc()
		log.Debug().Str("file", state.File).Msg("State unchanged")
		return nil
	}
	l.metrics.StageChanges.WithLabelValues(state.Stage.String()).Inc()

	status, ok := tracker.BaselineStatus(state.Stage)
	if !ok {
		l.metrics.RequestsTotal.WithLabelValues("accepted").Inc()
		return nil
	}

	msg := queue.StatusMessage{File: state.File, Status: status, Source: queue.SourceIngress}
	if err := l.sink.Enqueue(msg); err != nil {
		l.metrics.RequestsTotal.WithLabelValues("enqueue_failed").Inc()
		l.metrics.RecordError("queue", "enqueue")
		log.Error().
			Err(err).
			Str("file", state.File).
			Str("status", string(status)).
			Msg("Failed to enqueue status")
		return nil
	}

	l.metrics.RequestsTotal.WithLabelValues("accepted").Inc()
	log.Info().
		Str("file", state.File).
		Stringer("stage", state.Stage).
		Str("status", string(status)).
		Msg("Setting status")
	return nil
}
