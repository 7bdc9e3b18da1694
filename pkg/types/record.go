package types

import (
	"fmt"
	"time"
)

// ImageRecord is the persisted unit of tracked state for one image:tag pair.
//
// A record exists once the pair has been resolved and considered at least once.
// Digest reflects the value used for the most recent change decision, and
// VulnerabilityCount is always the count from the scan associated with that
// digest.
type ImageRecord struct {
	ImageName          string    // Repository name within the namespace.
	Tag                string    // Tag name within the repository.
	Digest             string    // Manifest digest as last observed; empty before first resolution.
	LastScannedAt      time.Time // Set on every successful upsert.
	VulnerabilityCount int       // Verified findings from the most recent scan.
}

// ScanTask is the ephemeral unit of work queued by change detection for the
// scan executor. It is never persisted.
type ScanTask struct {
	ImageName string
	Tag       string
	Digest    string // Digest resolved during enumeration, stored after the scan.
}

// ImageRef returns the pullable image reference for the task within the given
// namespace (e.g. "myorg/app:v2").
func (t ScanTask) ImageRef(namespace string) string {
	return fmt.Sprintf("%s/%s:%s", namespace, t.ImageName, t.Tag)
}

// ScanResult carries both outputs of one logical scan: the human-readable
// report used for notifications and the verified finding count used for
// persistence.
//
// A failed scan is represented as a result whose Report holds the failure text,
// whose FindingCount is zero, and whose Failed flag is set. Scan failures never
// propagate as errors so that one broken image cannot abort a sweep.
type ScanResult struct {
	Report       string
	FindingCount int
	Failed       bool
}
