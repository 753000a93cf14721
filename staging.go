package wharf

import (
	"fmt"
	"os"
)

// stagedFile buffers one reconstructed file in a staging directory and
// moves it into place only once the whole file is known good. Staging is
// what makes in-place patching safe: the old bytes at the destination stay
// readable until Commit renames over them.
type stagedFile struct {
	f    *os.File
	dest string
	mode os.FileMode
	open bool
}

func newStagedFile(stagingDir, dest string, mode os.FileMode) (*stagedFile, error) {
	f, err := os.CreateTemp(stagingDir, "stage-*")
	if err != nil {
		return nil, err
	}
	return &stagedFile{f: f, dest: dest, mode: mode, open: true}, nil
}

func (s *stagedFile) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Seal flushes and closes the staged handle without committing. Safe to
// call more than once.
func (s *stagedFile) Seal() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.f.Close()
}

// Commit seals the file, applies its mode and renames it over the
// destination path.
func (s *stagedFile) Commit() error {
	if err := s.Seal(); err != nil {
		return err
	}
	if err := os.Chmod(s.f.Name(), s.mode); err != nil {
		return err
	}
	if err := os.Rename(s.f.Name(), s.dest); err != nil {
		return fmt.Errorf("committing %q: %w", s.dest, err)
	}
	return nil
}

// Discard seals the file and deletes it, best effort.
func (s *stagedFile) Discard() {
	_ = s.Seal()
	_ = os.Remove(s.f.Name())
}
