package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/pdp-relay/x/device"
	"github.com/compose-network/pdp-relay/x/reconciler"
	"github.com/compose-network/pdp-relay/x/tracker"
)

type fakeResults struct {
	res reconciler.Result
	ok  bool
}

func (f fakeResults) LastResult() (reconciler.Result, bool) { return f.res, f.ok }

type fakeDevice struct{}

func (fakeDevice) Ready() bool         { return true }
func (fakeDevice) Stats() device.Stats { return device.Stats{Written: 4, Dropped: 1} }

type fakeQueue struct{}

func (fakeQueue) Len() int { return 2 }
func (fakeQueue) Cap() int { return 32 }

func newRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterMux(r)
	return r
}

func TestHandleState_NothingTracked(t *testing.T) {
	h := NewHandler(tracker.NewStore(), nil, nil, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "no_state", body["error"]["code"])
}

func TestHandleState_Tracked(t *testing.T) {
	store := tracker.NewStore()
	proof := "51"
	store.CompareAndReplace(tracker.TrackedState{
		Stage:      tracker.StageRootsAdded,
		File:       "x.jpg",
		FileID:     "abc:def",
		ProofSetID: &proof,
	})
	results := fakeResults{
		ok: true,
		res: reconciler.Result{
			Outcome: reconciler.OutcomeEmitted,
			Status:  tracker.StatusProven,
			At:      time.Unix(1700000000, 0).UTC(),
		},
	}
	h := NewHandler(store, results, fakeDevice{}, fakeQueue{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, tracker.StageRootsAdded, resp.Tracked.Stage)
	require.Equal(t, "x.jpg", resp.Tracked.File)
	require.Equal(t, tracker.StatusStored, resp.BaselineStatus)
	require.Equal(t, uint64(1), resp.Changes)
	require.NotNil(t, resp.LastReconcile)
	require.Equal(t, tracker.StatusProven, resp.LastReconcile.Status)
	require.NotNil(t, resp.Device)
	require.Equal(t, uint64(4), resp.Device.Stats.Written)
	require.NotNil(t, resp.Queue)
	require.Equal(t, 32, resp.Queue.Capacity)
}

func TestHandleState_MethodNotAllowed(t *testing.T) {
	h := NewHandler(tracker.NewStore(), nil, nil, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/state", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
