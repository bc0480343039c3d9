package reconciler

import (
	"github.com/compose-network/pdp-relay/x/pdpexplorer"
	"github.com/compose-network/pdp-relay/x/tracker"
)

// Derive computes the device status for the roots matching cid.
// It returns false when no root carries cid at all.
//
// Precedence is faulty > proven > stored. A root is faulty when it was proven
// and then faulted at a later epoch. Roots without any recorded epoch keep the
// file at "stored".
func Derive(roots []pdpexplorer.Root, cid string) (tracker.Status, bool) {
	var matched, faulty, proven bool
	for _, root := range roots {
		if root.CID != cid {
			continue
		}
		matched = true
		if !root.HasEpochs() {
			continue
		}
		if root.IsFaulty() {
			faulty = true
		}
		if root.IsProven() {
			proven = true
		}
	}

	switch {
	case !matched:
		return "", false
	case faulty:
		return tracker.StatusFaulty, true
	case proven:
		return tracker.StatusProven, true
	default:
		return tracker.StatusStored, true
	}
}

// countMatching returns how many roots carry cid and how many of them have epochs.
func countMatching(roots []pdpexplorer.Root, cid string) (matching, withEpochs int) {
	for _, root := range roots {
		if root.CID != cid {
			continue
		}
		matching++
		if root.HasEpochs() {
			withEpochs++
		}
	}
	return matching, withEpochs
}
