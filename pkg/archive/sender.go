package archive

import (
	"context"
	"io"
	"time"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
	"github.com/dicomrouter/retrieve-core/pkg/logger"
)

// dequeueTimeout is how long SyncZipSender waits on one Dequeue call
// before re-checking the job's state.
const dequeueTimeout = 100 * time.Millisecond

// SyncZipSender is the HTTP-side consumer of an ArchiveStreamJob's
// BoundedChunkQueue: it pulls chunks and writes them to w until the
// terminal marker arrives or the job state stops being worth waiting on.
type SyncZipSender struct {
	queue *BoundedChunkQueue
	job   *ArchiveStreamJob
	w     io.Writer
}

// NewSyncZipSender builds a sender draining queue into w, polling job's
// state across Dequeue timeouts.
func NewSyncZipSender(queue *BoundedChunkQueue, job *ArchiveStreamJob, w io.Writer) *SyncZipSender {
	return &SyncZipSender{queue: queue, job: job, w: w}
}

// Run drains the queue into w until the terminal marker is seen, the job
// reaches a state other than Pending/Running/Success, or ctx is canceled
// (in which case it calls Disconnect on the queue so the producer stops
// blocking on Enqueue).
func (s *SyncZipSender) Run(ctx context.Context) error {
	log := logger.Component("archive")
	defer s.queue.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return dicomnet.NewError(dicomnet.KindDisconnected, "sender", ctx.Err())
		default:
		}

		chunk, ok := s.queue.Dequeue(dequeueTimeout)
		if !ok {
			state := s.job.State()
			switch state {
			case JobPending, JobRunning, JobSuccess:
				continue
			default:
				if err := s.job.Err(); err != nil {
					return err
				}
				return dicomnet.NewError(dicomnet.KindNetworkProtocol, "sender", errJobGone)
			}
		}

		if chunk.Done {
			return nil
		}

		if _, err := s.w.Write(chunk.Data); err != nil {
			log.Debug().Err(err).Msg("zip sender write failed, client likely disconnected")
			return dicomnet.NewError(dicomnet.KindDisconnected, "sender", err)
		}
	}
}

var errJobGone = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "archive job not found or failed" }
