package archive

import (
	"fmt"
	"os"
	"sync"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
)

// TempFileSink is the legacy, non-streaming archive data path: a single
// file opened on construction, appended to chunk by chunk, and flushed on
// Close. Used when a caller wants the whole ZIP buffered before serving
// it as one response instead of chunked over a live connection.
type TempFileSink struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewTempFileSink creates (or truncates) path and returns a sink ready
// for Write calls.
func NewTempFileSink(path string) (*TempFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, dicomnet.NewError(dicomnet.KindCannotWriteFile, "archive", fmt.Errorf("open %s: %w", path, err))
	}
	return &TempFileSink{f: f}, nil
}

// Write appends chunk and accumulates ArchiveSize.
func (s *TempFileSink) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.Write(chunk)
	s.size += int64(n)
	if err != nil {
		return dicomnet.NewError(dicomnet.KindCannotWriteFile, "archive", fmt.Errorf("write temp archive: %w", err))
	}
	return nil
}

// ArchiveSize returns the number of bytes written so far.
func (s *TempFileSink) ArchiveSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close flushes and closes the underlying file.
func (s *TempFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		return dicomnet.NewError(dicomnet.KindCannotWriteFile, "archive", fmt.Errorf("sync temp archive: %w", err))
	}
	if err := s.f.Close(); err != nil {
		return dicomnet.NewError(dicomnet.KindCannotWriteFile, "archive", fmt.Errorf("close temp archive: %w", err))
	}
	return nil
}
