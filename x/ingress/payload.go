package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/compose-network/pdp-relay/x/tracker"
)

// ErrMalformedPayload is returned for requests that do not match the stage-change schema.
var ErrMalformedPayload = errors.New("malformed stage-change payload")

type payload struct {
	Stage *tracker.Stage `json:"stage"`
	Data  *payloadData   `json:"data"`
}

type payloadData struct {
	File       string  `json:"file"`
	FileID     string  `json:"file_id"`
	ProofSetID *string `json:"proofset_id"`
}

// ParsePayload decodes a stage-change request:
//
//	{"stage": "UPLOADED" | "ROOTS_ADDED", "data": {"file": "...", "file_id": "a:b", "proofset_id": "51"}}
//
// Unknown fields are ignored.
func ParsePayload(body []byte) (tracker.TrackedState, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return tracker.TrackedState{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if p.Stage == nil {
		return tracker.TrackedState{}, fmt.Errorf("%w: missing stage", ErrMalformedPayload)
	}
	if p.Data == nil {
		return tracker.TrackedState{}, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if strings.TrimSpace(p.Data.File) == "" {
		return tracker.TrackedState{}, fmt.Errorf("%w: missing data.file", ErrMalformedPayload)
	}
	if strings.TrimSpace(p.Data.FileID) == "" {
		return tracker.TrackedState{}, fmt.Errorf("%w: missing data.file_id", ErrMalformedPayload)
	}

	return tracker.TrackedState{
		Stage:      *p.Stage,
		File:       p.Data.File,
		FileID:     p.Data.FileID,
		ProofSetID: p.Data.ProofSetID,
	}, nil
}
