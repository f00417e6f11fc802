package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	entries map[string][]byte
	failOn  string
}

func (f *fakeFetcher) FetchResource(ctx context.Context, resourceID string) (string, []byte, error) {
	if resourceID == f.failOn {
		return "", nil, errors.New("fetch exploded")
	}
	return resourceID + ".dcm", f.entries[resourceID], nil
}

func drainAll(q *BoundedChunkQueue) []ArchiveChunk {
	var chunks []ArchiveChunk
	for {
		c, ok := q.Dequeue(2 * time.Second)
		if !ok {
			return chunks
		}
		chunks = append(chunks, c)
		if c.Done {
			return chunks
		}
	}
}

func TestArchiveStreamJobRunProducesValidZipAndTerminalMarker(t *testing.T) {
	fetcher := &fakeFetcher{entries: map[string][]byte{
		"a": []byte("instance-a-bytes"),
		"b": []byte("instance-b-bytes"),
	}}
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, fetcher, []string{"a", "b"})

	err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, JobSuccess, job.State())

	chunks := drainAll(q)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	for _, c := range chunks[:len(chunks)-1] {
		assert.False(t, c.Done)
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		if !c.Done {
			buf.Write(c.Data)
		}
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.NotEmpty(t, data)
	}
	assert.True(t, names["a.dcm"])
	assert.True(t, names["b.dcm"])
}

func TestArchiveStreamJobRunFailsAndStillEmitsTerminalMarker(t *testing.T) {
	fetcher := &fakeFetcher{entries: map[string][]byte{"a": []byte("x")}, failOn: "a"}
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, fetcher, []string{"a"})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, JobFailed, job.State())
	assert.Equal(t, err, job.Err())

	chunks := drainAll(q)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Done)
}

func TestArchiveStreamJobTerminalMarkerOnlyOnce(t *testing.T) {
	fetcher := &fakeFetcher{entries: map[string][]byte{"a": []byte("x")}}
	q := NewBoundedChunkQueue(8)
	job := NewArchiveStreamJob(q, fetcher, []string{"a"})

	require.NoError(t, job.Run(context.Background()))

	doneCount := 0
	for _, c := range drainAll(q) {
		if c.Done {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
}
