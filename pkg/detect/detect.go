// Package detect holds the change-detection decision for the sweep: given the
// stored record for an image:tag pair and its freshly resolved digest, decide
// whether the pair needs a scan. The decision is pure; it consults neither the
// clock nor any field beyond the stored digest.
package detect

import "github.com/hogwatch/hogwatch/pkg/types"

// Decision classifies one image:tag pair for the current sweep.
type Decision int

const (
	// Skip means the stored digest matches the resolved one; no scan needed.
	Skip Decision = iota
	// Scan means the pair is new or its content changed since the last sweep.
	Scan
)

// String returns a human-readable name for the decision.
func (d Decision) String() string {
	if d == Scan {
		return "scan"
	}

	return "skip"
}

// Decide returns Scan when stored is nil or its digest differs from
// resolvedDigest, and Skip otherwise.
func Decide(stored *types.ImageRecord, resolvedDigest string) Decision {
	if stored == nil || stored.Digest != resolvedDigest {
		return Scan
	}

	return Skip
}
