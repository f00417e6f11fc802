package archive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
)

func TestSyncZipSenderWritesChunksUntilTerminalMarker(t *testing.T) {
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, &fakeFetcher{}, nil)
	job.setState(JobRunning)

	require.NoError(t, q.Enqueue(ArchiveChunk{Data: []byte("part1")}))
	require.NoError(t, q.Enqueue(ArchiveChunk{Data: []byte("part2")}))
	require.NoError(t, q.Enqueue(ArchiveChunk{Done: true}))

	var buf bytes.Buffer
	sender := NewSyncZipSender(q, job, &buf)

	require.NoError(t, sender.Run(context.Background()))
	assert.Equal(t, "part1part2", buf.String())
}

func TestSyncZipSenderRetriesOnTimeoutWhileJobRunning(t *testing.T) {
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, &fakeFetcher{}, nil)
	job.setState(JobRunning)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = q.Enqueue(ArchiveChunk{Data: []byte("late")})
		_ = q.Enqueue(ArchiveChunk{Done: true})
	}()

	var buf bytes.Buffer
	sender := NewSyncZipSender(q, job, &buf)

	require.NoError(t, sender.Run(context.Background()))
	assert.Equal(t, "late", buf.String())
}

func TestSyncZipSenderEndsStreamWhenJobFails(t *testing.T) {
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, &fakeFetcher{}, nil)
	wantErr := dicomnet.NewError(dicomnet.KindInternalError, "archive", assert.AnError)
	_ = job.fail(wantErr)

	var buf bytes.Buffer
	sender := NewSyncZipSender(q, job, &buf)

	err := sender.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, wantErr, err)
}

func TestSyncZipSenderDisconnectsQueueWhenContextCanceled(t *testing.T) {
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, &fakeFetcher{}, nil)
	job.setState(JobRunning)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	sender := NewSyncZipSender(q, job, &buf)
	err := sender.Run(ctx)
	require.Error(t, err)

	enqErr := q.Enqueue(ArchiveChunk{Data: []byte("x")})
	require.Error(t, enqErr)
	var netErr *dicomnet.Error
	require.ErrorAs(t, enqErr, &netErr)
	assert.Equal(t, dicomnet.KindDisconnected, netErr.Kind)
}
