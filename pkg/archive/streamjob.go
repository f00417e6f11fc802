package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
	"github.com/dicomrouter/retrieve-core/pkg/logger"
)

// JobState is the lifecycle state a SyncZipSender polls while waiting out
// a Dequeue timeout.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSuccess
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobRunning:
		return "Running"
	case JobSuccess:
		return "Success"
	case JobFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ResourceFetcher supplies the DICOM instance bytes an ArchiveStreamJob
// zips up. It is the only collaborator the job depends on; resolving a
// resource reference to on-disk/retrieved bytes is outside this package's
// contract (file storage and the resource index are Non-goals).
type ResourceFetcher interface {
	// FetchResource returns the archive entry name and raw instance bytes
	// for one resource reference.
	FetchResource(ctx context.Context, resourceID string) (entryName string, data []byte, err error)
}

// ArchiveStreamJob produces a ZIP archive of DICOM resources as a stream
// of ArchiveChunk, writing into a shared BoundedChunkQueue. Run is
// intended to be started in its own goroutine by the caller; the job
// itself never spawns goroutines.
type ArchiveStreamJob struct {
	mu    sync.Mutex
	state JobState
	err   error

	queue     *BoundedChunkQueue
	fetcher   ResourceFetcher
	resources []string

	log zerolog.Logger

	archiveSize int64
}

// NewArchiveStreamJob builds a job that will zip resources, in order,
// using fetcher to resolve each one, writing chunks to queue.
func NewArchiveStreamJob(queue *BoundedChunkQueue, fetcher ResourceFetcher, resources []string) *ArchiveStreamJob {
	return &ArchiveStreamJob{
		state:     JobPending,
		queue:     queue,
		fetcher:   fetcher,
		resources: append([]string{}, resources...),
		log:       logger.Component("archive"),
	}
}

// State returns the job's current lifecycle state.
func (j *ArchiveStreamJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure recorded when the job transitions to Failed,
// nil otherwise.
func (j *ArchiveStreamJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// ArchiveSize returns the number of ZIP-encoded bytes produced so far.
func (j *ArchiveStreamJob) ArchiveSize() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.archiveSize
}

func (j *ArchiveStreamJob) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *ArchiveStreamJob) fail(err error) error {
	j.mu.Lock()
	j.state = JobFailed
	j.err = err
	j.mu.Unlock()
	return err
}

// Run zips every resource in order into the job's queue, chunk by chunk,
// and enqueues the terminal marker on completion. The terminal marker is
// enqueued exactly once, at the end, whether Run succeeds or fails partway
// through encoding (a failure still ends the stream cleanly so the
// consumer does not block forever).
func (j *ArchiveStreamJob) Run(ctx context.Context) error {
	j.setState(JobRunning)

	cw := &chunkWriter{job: j}
	zw := zip.NewWriter(cw)

	runErr := j.encode(ctx, zw)
	closeErr := zw.Close()
	if runErr == nil {
		runErr = closeErr
	}

	if runErr != nil {
		_ = j.fail(runErr)
	} else {
		j.setState(JobSuccess)
	}

	if enqErr := j.queue.Enqueue(ArchiveChunk{Done: true}); enqErr != nil {
		j.log.Debug().Err(enqErr).Msg("terminal marker not delivered, consumer already gone")
	}

	return runErr
}

func (j *ArchiveStreamJob) encode(ctx context.Context, zw *zip.Writer) error {
	for _, resourceID := range j.resources {
		select {
		case <-ctx.Done():
			return dicomnet.NewError(dicomnet.KindNetworkProtocol, "archive", ctx.Err())
		default:
		}

		entryName, data, err := j.fetcher.FetchResource(ctx, resourceID)
		if err != nil {
			return dicomnet.NewError(dicomnet.KindInternalError, "archive", fmt.Errorf("fetch resource %s: %w", resourceID, err))
		}

		w, err := zw.Create(entryName)
		if err != nil {
			return dicomnet.NewError(dicomnet.KindInternalError, "archive", fmt.Errorf("create zip entry %s: %w", entryName, err))
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := zw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// chunkWriter adapts the queue's Enqueue to io.Writer so archive/zip can
// write directly into it.
type chunkWriter struct {
	job *ArchiveStreamJob
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	if err := w.job.queue.Enqueue(ArchiveChunk{Data: buf}); err != nil {
		return 0, err
	}
	w.job.mu.Lock()
	w.job.archiveSize += int64(len(buf))
	w.job.mu.Unlock()
	return len(p), nil
}
