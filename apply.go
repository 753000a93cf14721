package wharf

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quayside/wharf/internal/wire"
)

// fileTask is one decoded per-file patch record, ready to run on a worker.
// The decode loop is strictly sequential; tasks are what makes the
// reconstruction itself parallel.
type fileTask struct {
	fileIndex int64
	algorithm wire.SyncHeaderType
	target    int64          // bsdiff old-file index
	ops       []wire.SyncOp  // rsync
	controls  []wire.Control // bsdiff
}

// ApplyPatch reads a patch stream from r and reconstructs the new tree
// under newDir, reading old bytes from oldDir. Directories and symlinks are
// created first, then files are rebuilt in parallel, each staged to a
// temporary file and renamed into place once complete.
//
// When oldDir and newDir are the same directory, every rename is deferred
// until all files have been reconstructed, so cross-file reads always see
// old bytes.
func ApplyPatch(ctx context.Context, r io.Reader, oldDir, newDir string, opts ...ApplyOption) error {
	cfg := newApplyConfig(opts)
	log := logOrDiscard(cfg.logger)

	fr := wire.NewReader(r)
	if err := fr.ExpectMagic(wire.PatchMagic); err != nil {
		return wrapFormat(err)
	}
	var header wire.PatchHeader
	if err := fr.ReadMessage(&header); err != nil {
		return wrapEOF(err)
	}
	body, err := decompressor(header.Compression.Algorithm, fr.Buffered())
	if err != nil {
		return err
	}
	defer body.Close()
	fr.SetSource(body)

	var wireOld, wireNew wire.Container
	if err := fr.ReadMessage(&wireOld); err != nil {
		return wrapEOF(err)
	}
	if err := fr.ReadMessage(&wireNew); err != nil {
		return wrapEOF(err)
	}
	oldContainer := containerFromWire(&wireOld)
	newContainer := containerFromWire(&wireNew)
	log.Debug("applying patch",
		"old", oldContainer.Stats(), "new", newContainer.Stats(), "workers", cfg.workers)

	if err := newContainer.PrepareTree(newDir); err != nil {
		return err
	}
	stagingDir := cfg.stagingDir
	if stagingDir == "" {
		d, err := os.MkdirTemp(newDir, ".staging-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(d)
		stagingDir = d
	}

	src := NewDirSource(oldContainer, oldDir)
	defer src.Close()
	inPlace := sameDir(oldDir, newDir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)

	var (
		mu       sync.Mutex
		deferred []*stagedFile
	)
	decodeErr := func() error {
		seen := make([]bool, len(newContainer.Files))
		for range newContainer.Files {
			task, err := readFileTask(fr)
			if err != nil {
				return err
			}
			if task.fileIndex < 0 || task.fileIndex >= int64(len(newContainer.Files)) {
				return fmt.Errorf("%w: file index %d out of range", ErrFormat, task.fileIndex)
			}
			if seen[task.fileIndex] {
				return fmt.Errorf("%w: duplicate record for file %d", ErrFormat, task.fileIndex)
			}
			seen[task.fileIndex] = true
			if err := gctx.Err(); err != nil {
				return err
			}
			g.Go(func() error {
				staged, err := runFileTask(gctx, task, oldContainer, newContainer, src, newDir, stagingDir, cfg)
				if err != nil {
					return err
				}
				if !inPlace {
					return staged.Commit()
				}
				if err := staged.Seal(); err != nil {
					staged.Discard()
					return err
				}
				mu.Lock()
				deferred = append(deferred, staged)
				mu.Unlock()
				return nil
			})
		}
		return nil
	}()
	if err := g.Wait(); err != nil {
		decodeErr = err
	}
	if decodeErr != nil {
		for _, s := range deferred {
			s.Discard()
		}
		return decodeErr
	}

	if inPlace {
		// Old handles must be released before renames overwrite them.
		if err := src.Close(); err != nil {
			return err
		}
		for _, s := range deferred {
			if err := s.Commit(); err != nil {
				return err
			}
		}
	}
	return newContainer.ApplyPermissions(newDir)
}

// readFileTask decodes one per-file record: the sync header, the bsdiff
// header when applicable, the op stream and its terminator.
func readFileTask(fr *wire.Reader) (fileTask, error) {
	var task fileTask
	var sh wire.SyncHeader
	if err := fr.ReadMessage(&sh); err != nil {
		return task, wrapEOF(err)
	}
	task.fileIndex = sh.FileIndex
	task.algorithm = sh.Type

	switch sh.Type {
	case wire.SyncHeaderRsync:
		for {
			var op wire.SyncOp
			if err := fr.ReadMessage(&op); err != nil {
				return task, wrapEOF(err)
			}
			switch op.Type {
			case wire.SyncOpHeyYouDidIt:
				return task, nil
			case wire.SyncOpBlockRange, wire.SyncOpData:
				task.ops = append(task.ops, op)
			default:
				return task, fmt.Errorf("%w: sync op type %d", ErrFormat, op.Type)
			}
		}
	case wire.SyncHeaderBsdiff:
		var bh wire.BsdiffHeader
		if err := fr.ReadMessage(&bh); err != nil {
			return task, wrapEOF(err)
		}
		task.target = bh.TargetIndex
		for {
			var ctl wire.Control
			if err := fr.ReadMessage(&ctl); err != nil {
				return task, wrapEOF(err)
			}
			task.controls = append(task.controls, ctl)
			if ctl.Eof {
				break
			}
		}
		// The eof control is still followed by the shared terminator op.
		var done wire.SyncOp
		if err := fr.ReadMessage(&done); err != nil {
			return task, wrapEOF(err)
		}
		if done.Type != wire.SyncOpHeyYouDidIt {
			return task, fmt.Errorf("%w: sync op type %d after bsdiff eof", ErrFormat, done.Type)
		}
		return task, nil
	default:
		return task, fmt.Errorf("%w: sync header type %d", ErrFormat, sh.Type)
	}
}

// runFileTask reconstructs one file into a staged temporary and checks the
// result against the manifest size. The staged file is not yet committed.
func runFileTask(ctx context.Context, t fileTask, oldContainer, newContainer *Container, src FileSource, newDir, stagingDir string, cfg applyConfig) (*stagedFile, error) {
	f, err := newContainer.File(t.fileIndex)
	if err != nil {
		return nil, err
	}
	dest, err := safeJoin(newDir, f.Path)
	if err != nil {
		return nil, err
	}
	staged, err := newStagedFile(stagingDir, dest, maskMode(f.Mode))
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(staged)
	var written int64
	switch t.algorithm {
	case wire.SyncHeaderRsync:
		written, err = applyRsync(ctx, w, t.ops, oldContainer, src, cfg.blockSize, make([]byte, 32*1024), cfg.progress)
	case wire.SyncHeaderBsdiff:
		var ra io.ReaderAt
		if _, err = oldContainer.File(t.target); err == nil {
			if ra, err = src.ReaderAt(t.target); err == nil {
				written, err = applyBsdiff(ctx, w, t.controls, ra, cfg.addPastEOF, cfg.progress)
			}
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		staged.Discard()
		return nil, fmt.Errorf("patching %q: %w", f.Path, err)
	}
	if written != f.Size {
		staged.Discard()
		return nil, fmt.Errorf("%w: %q reconstructed as %d bytes, want %d",
			ErrSizeMismatch, f.Path, written, f.Size)
	}
	return staged, nil
}

func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}
