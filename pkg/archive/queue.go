// Package archive implements ZIP archive streaming for DICOM resource
// retrieval: a producer job writes ZIP-encoded bytes into a bounded queue,
// and an HTTP-side sender drains it, detecting client disconnect as the
// only backpressure signal.
package archive

import (
	"sync"
	"time"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
)

// ArchiveChunk is the producer-to-consumer unit: either a byte buffer or,
// when Done is set, the terminal marker. A chunk is created by the
// producer and consumed exactly once.
type ArchiveChunk struct {
	Data []byte
	Done bool
}

// BoundedChunkQueue is the single channel shared between an
// ArchiveStreamJob (producer) and a SyncZipSender (consumer). There is no
// other shared state between the two sides.
//
// Disconnect detection has no direct analogue to "sole reference holder"
// in Go, so the consumer calls Disconnect explicitly when it gives up
// (client gone, request context canceled); the producer's next Enqueue
// observes this and fails with KindDisconnected instead of blocking
// forever on a queue nobody will ever drain.
type BoundedChunkQueue struct {
	ch        chan ArchiveChunk
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBoundedChunkQueue returns a queue buffering up to capacity chunks
// before Enqueue blocks.
func NewBoundedChunkQueue(capacity int) *BoundedChunkQueue {
	return &BoundedChunkQueue{
		ch:     make(chan ArchiveChunk, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue appends chunk, blocking until room is available. It returns a
// KindDisconnected error instead of blocking if the consumer has already
// called Disconnect.
func (q *BoundedChunkQueue) Enqueue(chunk ArchiveChunk) error {
	select {
	case <-q.closed:
		return dicomnet.NewError(dicomnet.KindDisconnected, "enqueue", errDisconnected)
	default:
	}

	select {
	case q.ch <- chunk:
		return nil
	case <-q.closed:
		return dicomnet.NewError(dicomnet.KindDisconnected, "enqueue", errDisconnected)
	}
}

// Dequeue waits up to timeout for a chunk. ok is false on timeout, in
// which case the caller is expected to check job state before retrying.
func (q *BoundedChunkQueue) Dequeue(timeout time.Duration) (chunk ArchiveChunk, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-q.ch:
		return c, true
	case <-timer.C:
		return ArchiveChunk{}, false
	}
}

// Disconnect marks the queue as abandoned by the consumer. Idempotent:
// calling it more than once has no further effect.
func (q *BoundedChunkQueue) Disconnect() {
	q.closeOnce.Do(func() { close(q.closed) })
}

var errDisconnected = disconnectedErr{}

type disconnectedErr struct{}

func (disconnectedErr) Error() string { return "HTTP client has disconnected" }
