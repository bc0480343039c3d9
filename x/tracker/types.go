package tracker

import (
	"fmt"
	"strings"
)

// Stage is the lifecycle marker of the tracked file.
type Stage int

const (
	StageUnknown Stage = iota
	StageUploaded
	StageRootsAdded
)

func (s Stage) String() string {
	switch s {
	case StageUploaded:
		return "UPLOADED"
	case StageRootsAdded:
		return "ROOTS_ADDED"
	default:
		return "UNKNOWN"
	}
}

// ParseStage accepts both the wire spelling (UPLOADED, ROOTS_ADDED) and the
// spelling emitted by the uploader GUI (Uploaded, RootsAdded).
func ParseStage(raw string) (Stage, error) {
	switch strings.TrimSpace(raw) {
	case "UPLOADED", "Uploaded":
		return StageUploaded, nil
	case "ROOTS_ADDED", "RootsAdded":
		return StageRootsAdded, nil
	default:
		return StageUnknown, fmt.Errorf("unknown stage %q", raw)
	}
}

// MarshalText lets Stage render as its wire name in JSON and logs.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses any accepted stage spelling.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Status is the text delivered to the device for a tracked file.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusStored   Status = "stored"
	StatusProven   Status = "stored & proven"
	StatusFaulty   Status = "stored & faulty"
)

// BaselineStatus is the status emitted when a stage is first entered.
func BaselineStatus(stage Stage) (Status, bool) {
	switch stage {
	case StageUploaded:
		return StatusUploaded, true
	case StageRootsAdded:
		return StatusStored, true
	default:
		return "", false
	}
}

// TrackedState is the last known state of the current file.
type TrackedState struct {
	Stage      Stage   `json:"stage"`
	File       string  `json:"file"`
	FileID     string  `json:"file_id"`
	ProofSetID *string `json:"proofset_id,omitempty"`
}

// RootCID returns the second colon-separated segment of FileID, the content
// identifier used to look up proof roots.
func (s TrackedState) RootCID() (string, bool) {
	_, cid, ok := strings.Cut(s.FileID, ":")
	if !ok || cid == "" {
		return "", false
	}
	if i := strings.IndexByte(cid, ':'); i >= 0 {
		cid = cid[:i]
	}
	return cid, cid != ""
}

// ProofSet returns the proof set identifier when present and non-empty.
func (s TrackedState) ProofSet() (string, bool) {
	if s.ProofSetID == nil || strings.TrimSpace(*s.ProofSetID) == "" {
		return "", false
	}
	return *s.ProofSetID, true
}

// sameKey reports whether two states describe the same (stage, file) pair.
func (s TrackedState) sameKey(other TrackedState) bool {
	return s.Stage == other.Stage && s.File == other.File
}
