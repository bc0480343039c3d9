package http

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/pdp-relay/server/api"
	"github.com/compose-network/pdp-relay/x/device"
	"github.com/compose-network/pdp-relay/x/reconciler"
	"github.com/compose-network/pdp-relay/x/tracker"
)

// SnapshotSource exposes the tracked state.
type SnapshotSource interface {
	Snapshot() tracker.Snapshot
}

// ResultSource exposes the last reconciliation result.
type ResultSource interface {
	LastResult() (reconciler.Result, bool)
}

// DeviceSource exposes device writer progress.
type DeviceSource interface {
	Ready() bool
	Stats() device.Stats
}

// QueueSource exposes the status queue depth.
type QueueSource interface {
	Len() int
	Cap() int
}

// StateResponse is the body of GET /v1/state.
type StateResponse struct {
	Tracked        tracker.TrackedState `json:"tracked"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Changes        uint64               `json:"changes"`
	BaselineStatus tracker.Status       `json:"baseline_status,omitempty"`
	LastReconcile  *reconciler.Result   `json:"last_reconcile,omitempty"`
	Device         *DeviceState         `json:"device,omitempty"`
	Queue          *QueueState          `json:"queue,omitempty"`
}

type DeviceState struct {
	Ready bool         `json:"ready"`
	Stats device.Stats `json:"stats"`
}

type QueueState struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type Handler struct {
	store      SnapshotSource
	reconciler ResultSource
	device     DeviceSource
	queue      QueueSource
	log        zerolog.Logger
}

// NewHandler builds the handler. Only store is required.
func NewHandler(store SnapshotSource, rec ResultSource, dev DeviceSource, q QueueSource, log zerolog.Logger) *Handler {
	return &Handler{
		store:      store,
		reconciler: rec,
		device:     dev,
		queue:      q,
		log:        log.With().Str("component", "tracker-http").Logger(),
	}
}

// handleState returns the tracked file and the latest derived status.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if !snap.Tracking {
		apicommon.WriteError(w, r, http.StatusNotFound, "no_state", "No file is tracked yet", nil)
		return
	}

	resp := StateResponse{
		Tracked:   snap.State,
		UpdatedAt: snap.UpdatedAt,
		Changes:   snap.Changes,
	}
	if status, ok := tracker.BaselineStatus(snap.State.Stage); ok {
		resp.BaselineStatus = status
	}
	if h.reconciler != nil {
		if res, ok := h.reconciler.LastResult(); ok {
			resp.LastReconcile = &res
		}
	}
	if h.device != nil {
		resp.Device = &DeviceState{Ready: h.device.Ready(), Stats: h.device.Stats()}
	}
	if h.queue != nil {
		resp.Queue = &QueueState{Depth: h.queue.Len(), Capacity: h.queue.Cap()}
	}

	apicommon.WriteJSON(w, http.StatusOK, resp)
}
