package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
)

func TestTempFileSinkWriteAccumulatesSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	sink, err := NewTempFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write([]byte("hello ")))
	require.NoError(t, sink.Write([]byte("world")))
	assert.EqualValues(t, 11, sink.ArchiveSize())

	require.NoError(t, sink.Close())
}

func TestTempFileSinkOpenErrorIsCannotWriteFile(t *testing.T) {
	_, err := NewTempFileSink(filepath.Join(t.TempDir(), "missing-dir", "archive.zip"))
	require.Error(t, err)
	var netErr *dicomnet.Error
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, dicomnet.KindCannotWriteFile, netErr.Kind)
}
