package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/pdp-relay/x/pdpexplorer"
	periodrunner "github.com/compose-network/pdp-relay/x/period-runner"
	"github.com/compose-network/pdp-relay/x/queue"
	"github.com/compose-network/pdp-relay/x/tracker"
)

// Outcome classifies one reconciliation tick.
type Outcome string

const (
	OutcomeIdle          Outcome = "idle"           // nothing tracked yet
	OutcomeNotReady      Outcome = "not_ready"      // stage, proof set or cid missing
	OutcomeFetchFailed   Outcome = "fetch_failed"   // explorer unreachable or non-2xx
	OutcomeRootMissing   Outcome = "root_missing"   // no root carries the cid
	OutcomeEmitted       Outcome = "emitted"        // status enqueued
	OutcomeEnqueueFailed Outcome = "enqueue_failed" // queue full or closed
)

// StateReader is the read side of the status store.
type StateReader interface {
	Read() (tracker.TrackedState, bool)
}

// Enqueuer accepts status messages for the device.
type Enqueuer interface {
	Enqueue(queue.StatusMessage) error
}

// Result describes the last tick.
type Result struct {
	Outcome    Outcome        `json:"outcome"`
	File       string         `json:"file,omitempty"`
	ProofSetID string         `json:"proofset_id,omitempty"`
	CID        string         `json:"cid,omitempty"`
	Status     tracker.Status `json:"status,omitempty"`
	Matching   int            `json:"matching_roots"`
	WithEpochs int            `json:"roots_with_epochs"`
	At         time.Time      `json:"at"`
	Error      string         `json:"error,omitempty"`
}

// Config configures a Reconciler.
type Config struct {
	// RequestTimeout bounds each explorer request on top of the HTTP client timeout.
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Reconciler polls the explorer for the tracked file and refines its status
// within the ROOTS_ADDED stage. It never changes the tracked stage.
type Reconciler struct {
	store   StateReader
	fetcher pdpexplorer.RootsFetcher
	sink    Enqueuer
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu   sync.RWMutex
	last Result
}

// New constructs a Reconciler.
func New(store StateReader, fetcher pdpexplorer.RootsFetcher, sink Enqueuer, cfg Config, log zerolog.Logger) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		store:   store,
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
		log:     log.With().Str("component", "reconciler").Logger(),
		metrics: NewMetrics(),
	}
}

// Tick adapts Reconcile to the period runner callback. Failures are logged
// here and the tick is skipped; the next tick is the retry.
func (r *Reconciler) Tick(ctx context.Context, info periodrunner.TickInfo) error {
	res, err := r.Reconcile(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		r.log.Error().
			Err(err).
			Uint64("tick_id", info.TickID).
			Str("file", res.File).
			Str("proofset_id", res.ProofSetID).
			Str("outcome", string(res.Outcome)).
			Msg("Reconciliation tick skipped")
	}
	return nil
}

// Reconcile runs one reconciliation cycle.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	res, err := r.reconcile(ctx)
	res.At = r.cfg.Now()
	if err != nil {
		res.Error = err.Error()
	}

	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
	r.metrics.RecordTick(res.Outcome, res.At)

	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (Result, error) {
	state, ok := r.store.Read()
	if !ok {
		r.log.Debug().Msg("No state set yet")
		return Result{Outcome: OutcomeIdle}, nil
	}

	res := Result{Outcome: OutcomeNotReady, File: state.File}

	if state.Stage != tracker.StageRootsAdded {
		r.log.Debug().Str("file", state.File).Stringer("stage", state.Stage).Msg("Stage is not ROOTS_ADDED")
		return res, nil
	}

	proofSetID, ok := state.ProofSet()
	if !ok {
		r.log.Debug().Str("file", state.File).Msg("No proof set id for tracked file")
		return res, nil
	}
	res.ProofSetID = proofSetID

	cid, ok := state.RootCID()
	if !ok {
		r.log.Warn().Str("file", state.File).Str("file_id", state.FileID).Msg("No root CID found in file_id")
		return res, nil
	}
	res.CID = cid

	fetchCtx := ctx
	if r.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
	}

	r.log.Debug().Str("proofset_id", proofSetID).Str("cid", cid).Msg("Fetching proof set roots")

	start := time.Now()
	roots, err := r.fetcher.FetchRoots(fetchCtx, proofSetID)
	r.metrics.RecordFetch(time.Since(start))
	if err != nil {
		res.Outcome = OutcomeFetchFailed
		r.metrics.RecordError(fetchErrorType(err), "fetch_roots")
		return res, fmt.Errorf("fetch roots for proof set %s: %w", proofSetID, err)
	}

	res.Matching, res.WithEpochs = countMatching(roots, cid)
	r.metrics.RootsMatched.Observe(float64(res.Matching))

	status, found := Derive(roots, cid)
	if !found {
		res.Outcome = OutcomeRootMissing
		r.log.Warn().
			Str("file", state.File).
			Str("proofset_id", proofSetID).
			Str("cid", cid).
			Int("roots", len(roots)).
			Msg("Could not find root with CID")
		return res, nil
	}
	res.Status = status

	if res.WithEpochs == 0 {
		r.log.Debug().Str("cid", cid).Msg("Found matching roots but none have epochs set")
	}

	msg := queue.StatusMessage{File: state.File, Status: status, Source: queue.SourceReconciler}
	if err := r.sink.Enqueue(msg); err != nil {
		res.Outcome = OutcomeEnqueueFailed
		r.metrics.RecordError("queue", "enqueue")
		return res, fmt.Errorf("enqueue status %q for %s: %w", status, state.File, err)
	}

	res.Outcome = OutcomeEmitted
	r.metrics.StatusesTotal.WithLabelValues(string(status)).Inc()
	r.log.Info().
		Str("file", state.File).
		Str("proofset_id", proofSetID).
		Str("status", string(status)).
		Int("matching_roots", res.Matching).
		Msg("Setting status")

	return res, nil
}

// LastResult returns the result of the most recent tick.
func (r *Reconciler) LastResult() (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, !r.last.At.IsZero()
}

func fetchErrorType(err error) string {
	var apiErr *pdpexplorer.APIError
	switch {
	case errors.As(err, &apiErr):
		return "api"
	case errors.Is(err, pdpexplorer.ErrTransport):
		return "transport"
	default:
		return "decode"
	}
}
