package wharf

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSource provides random-access reads of container files by index.
// It is the only filesystem dependency the signature and patch engines
// have, and it must tolerate concurrent readers: parallel file
// reconstruction issues cross-file reads at will.
type FileSource interface {
	// ReaderAt returns a reader over the file at index. The same index may
	// be requested from multiple goroutines.
	ReaderAt(index int64) (io.ReaderAt, error)
}

// DirSource is a FileSource backed by a directory tree laid out like its
// container. File handles are opened on first use and kept for the
// lifetime of the source; *os.File ReadAt carries no cursor state, so one
// handle serves any number of concurrent readers.
type DirSource struct {
	container *Container
	dir       string

	mu    sync.Mutex
	files map[int64]*os.File
}

// NewDirSource returns a source reading container files under dir.
func NewDirSource(c *Container, dir string) *DirSource {
	return &DirSource{
		container: c,
		dir:       dir,
		files:     make(map[int64]*os.File),
	}
}

// ReaderAt implements FileSource.
func (s *DirSource) ReaderAt(index int64) (io.ReaderAt, error) {
	entry, err := s.container.File(index)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[index]; ok {
		return f, nil
	}
	p, err := safeJoin(s.dir, entry.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open file %d: %w", index, err)
	}
	s.files[index] = f
	return f, nil
}

// Close releases every handle the source opened.
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for i, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, i)
	}
	return first
}
