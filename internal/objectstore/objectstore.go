// Package objectstore implements the Storage Gateway (C1): put the original
// upload bytes somewhere durable and return an opaque reference plus a
// time-limited fetch URL; delete on request.
package objectstore

import "context"

// Gateway is the narrow capability set the orchestrator depends on. Any
// implementation substitutes transparently — this is the "duck-typed
// collaborator → interface abstraction" design note from spec.md §9.
type Gateway interface {
	// Put uploads bytes and returns a durable storage_ref plus a fetch_url
	// usable for at least the pipeline's end-to-end deadline.
	Put(ctx context.Context, bytes []byte, filename, mimeType string) (storageRef, fetchURL string, err error)
	// Delete removes the object. NotFound is treated as success by callers.
	Delete(ctx context.Context, storageRef string) error
}
