package tracker

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStore_EmptyRead(t *testing.T) {
	s := NewStore()
	_, ok := s.Read()
	require.False(t, ok)

	snap := s.Snapshot()
	require.False(t, snap.Tracking)
	require.Zero(t, snap.Changes)
}

func TestStore_CompareAndReplace(t *testing.T) {
	s := NewStore()

	uploaded := TrackedState{Stage: StageUploaded, File: "x.jpg", FileID: "abc:def"}
	require.True(t, s.CompareAndReplace(uploaded))

	got, ok := s.Read()
	require.True(t, ok)
	require.Equal(t, uploaded, got)

	// Same (stage, file) is a no-op even when other fields differ.
	require.False(t, s.CompareAndReplace(TrackedState{Stage: StageUploaded, File: "x.jpg", FileID: "other:id"}))
	got, _ = s.Read()
	require.Equal(t, "abc:def", got.FileID)

	rootsAdded := TrackedState{Stage: StageRootsAdded, File: "x.jpg", FileID: "abc:def", ProofSetID: strPtr("51")}
	require.True(t, s.CompareAndReplace(rootsAdded))
	got, _ = s.Read()
	require.Equal(t, rootsAdded, got)

	// A different file at the same stage replaces the slot.
	other := TrackedState{Stage: StageRootsAdded, File: "y.jpg", FileID: "ghi:jkl", ProofSetID: strPtr("51")}
	require.True(t, s.CompareAndReplace(other))
	got, _ = s.Read()
	require.Equal(t, "y.jpg", got.File)
	require.Equal(t, uint64(3), s.Snapshot().Changes)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	uploaded := TrackedState{Stage: StageUploaded, File: "x.jpg", FileID: "abc:def"}
	require.True(t, s.CompareAndReplace(uploaded))

	s.Reset()
	_, ok := s.Read()
	require.False(t, ok)
	snap := s.Snapshot()
	require.False(t, snap.Tracking)
	require.Equal(t, uint64(1), snap.Changes)

	// The same (stage, file) is accepted again once the slot is empty.
	require.True(t, s.CompareAndReplace(uploaded))
	got, ok := s.Read()
	require.True(t, ok)
	require.Equal(t, uploaded, got)
}

func TestStore_ReadReturnsCopy(t *testing.T) {
	s := NewStore()
	require.True(t, s.CompareAndReplace(TrackedState{Stage: StageRootsAdded, File: "a", FileID: "b:c", ProofSetID: strPtr("1")}))

	got, _ := s.Read()
	*got.ProofSetID = "mutated"

	again, _ := s.Read()
	require.Equal(t, "1", *again.ProofSetID)
}

func TestStore_LastAcceptedWins(t *testing.T) {
	s := NewStore()
	seq := []TrackedState{
		{Stage: StageUploaded, File: "a", FileID: "1:2"},
		{Stage: StageUploaded, File: "a", FileID: "1:2"},
		{Stage: StageRootsAdded, File: "a", FileID: "1:2", ProofSetID: strPtr("7")},
		{Stage: StageUploaded, File: "b", FileID: "3:4"},
		{Stage: StageUploaded, File: "b", FileID: "3:4"},
	}

	var lastAccepted TrackedState
	accepted := 0
	for _, st := range seq {
		if s.CompareAndReplace(st) {
			lastAccepted = st
			accepted++
		}
		got, ok := s.Read()
		require.True(t, ok)
		require.Equal(t, lastAccepted, got)
	}
	require.Equal(t, 3, accepted)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.CompareAndReplace(TrackedState{Stage: StageUploaded, File: fmt.Sprintf("f-%d", i), FileID: "a:b"})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if st, ok := s.Read(); ok {
					assert.Equal(t, "a:b", st.FileID)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(500), s.Snapshot().Changes)
}

func TestTrackedState_RootCID(t *testing.T) {
	tests := []struct {
		fileID string
		want   string
		ok     bool
	}{
		{"abc:def", "def", true},
		{"abc:def:ghi", "def", true},
		{"abc", "", false},
		{"abc:", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.fileID, func(t *testing.T) {
			got, ok := TrackedState{FileID: tt.fileID}.RootCID()
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTrackedState_ProofSet(t *testing.T) {
	_, ok := TrackedState{}.ProofSet()
	require.False(t, ok)

	_, ok = TrackedState{ProofSetID: strPtr(" ")}.ProofSet()
	require.False(t, ok)

	id, ok := TrackedState{ProofSetID: strPtr("51")}.ProofSet()
	require.True(t, ok)
	require.Equal(t, "51", id)
}

func TestStage_ParseAndJSON(t *testing.T) {
	for raw, want := range map[string]Stage{
		"UPLOADED":    StageUploaded,
		"Uploaded":    StageUploaded,
		"ROOTS_ADDED": StageRootsAdded,
		"RootsAdded":  StageRootsAdded,
	} {
		got, err := ParseStage(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseStage("DELETED")
	require.Error(t, err)

	b, err := json.Marshal(TrackedState{Stage: StageRootsAdded, File: "f", FileID: "a:b"})
	require.NoError(t, err)
	require.JSONEq(t, `{"stage":"ROOTS_ADDED","file":"f","file_id":"a:b"}`, string(b))
}

func TestBaselineStatus(t *testing.T) {
	st, ok := BaselineStatus(StageUploaded)
	require.True(t, ok)
	require.Equal(t, StatusUploaded, st)

	st, ok = BaselineStatus(StageRootsAdded)
	require.True(t, ok)
	require.Equal(t, StatusStored, st)

	_, ok = BaselineStatus(StageUnknown)
	require.False(t, ok)
}
