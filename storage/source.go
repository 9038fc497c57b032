package storage

import "context"

// BundleSource fetches raw bundle bytes by an opaque reference.
//
// Contract:
// - Fetch MUST return ErrNotFound when the reference does not resolve.
// - Fetch MUST NOT return partial bytes with a nil error.
// - Implementations MUST honor ctx cancellation on network calls.
//
// The reference's meaning is per-implementation: a CID string for
// content-addressed sources, a record identifier for service-mode sources.
type BundleSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Store is a writable BundleSource. Put is keyed by the same opaque
// reference Fetch resolves; stored bundles are immutable.
type Store interface {
	BundleSource
	Put(ctx context.Context, ref string, data []byte) error
}
