package types

import "context"

// RegistryClient enumerates a namespace and resolves manifest digests.
//
// ListRepositories and ListTags return whatever was collected before a page
// fetch failed, together with the transport error, so callers can decide
// whether partial results are usable. ResolveDigest failures mean the pair is
// skipped by the caller, never that the sweep is aborted.
type RegistryClient interface {
	ListRepositories(ctx context.Context, namespace string) ([]string, error)
	ListTags(ctx context.Context, namespace string, repository string) ([]string, error)
	ResolveDigest(ctx context.Context, namespace string, repository string, tag string) (string, error)
}

// Store persists image records keyed by (image name, tag).
type Store interface {
	// Get returns the record for the pair and whether one exists.
	Get(ctx context.Context, imageName string, tag string) (ImageRecord, bool, error)
	// Upsert inserts or replaces the record for its (ImageName, Tag) key.
	// Upserting the same record repeatedly leaves exactly one row.
	Upsert(ctx context.Context, record ImageRecord) error
	Close() error
}

// Scanner materializes an image's filesystem and runs the secret scanner
// against it. Failures are folded into the returned ScanResult; transient
// resources are released on every exit path.
type Scanner interface {
	Scan(ctx context.Context, imageRef string) ScanResult
}

// Notifier delivers sweep outcomes to the configured notification sink.
type Notifier interface {
	SendMessage(message string) error
	SendFile(path string, title string) error
}
