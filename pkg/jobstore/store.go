// Package jobstore persists RetrieveJob/ArchiveStreamJob state as opaque
// JSON blobs so a job survives a process restart and can be resumed. It is
// adapted from the response-cache abstraction this module's teacher used
// for DICOMweb answers: same Get/Set/Delete/Exists shape plus Scan, repurposed
// from short-TTL response caching to durable job-state storage.
package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when key has no stored value (or it has
// expired under a backend that supports TTL-based eviction).
var ErrNotFound = errors.New("jobstore: not found")

// Store persists job-state blobs keyed by an opaque string. RetrieveJob and
// ArchiveStreamJob serialize themselves to JSON and use a Store to survive
// process restarts; the store itself knows nothing about job semantics.
type Store interface {
	// Get returns the blob stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. ttl<=0 means the value never expires on its
	// own (the caller is responsible for deleting it once the job finishes).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key currently has a value.
	Exists(ctx context.Context, key string) (bool, error)
	// Scan returns every key matching pattern (a "*"-suffix prefix match,
	// the only wildcard form job listing needs), used to enumerate jobs
	// owned by a given AE title.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// JobKey builds the store key for a job, namespaced by kind (so a Move
// job and a Get job sharing an id never collide) and owning local AE title.
func JobKey(kind, ownerAET, jobID string) string {
	return kind + ":" + ownerAET + ":" + jobID
}
