package wharf

import (
	"context"
	"fmt"
	"io"

	"github.com/quayside/wharf/internal/ioutil"
	"github.com/quayside/wharf/internal/wire"
)

// applyRsync reconstructs one file from a sequence of rsync ops, copying
// BlockRange spans out of the old tree and writing literal Data verbatim.
// It returns the number of bytes written.
func applyRsync(ctx context.Context, w io.Writer, ops []wire.SyncOp, old *Container, src FileSource, blockSize int64, buf []byte, progress ProgressFunc) (int64, error) {
	var written int64
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		op := &ops[i]
		var n int64
		switch op.Type {
		case wire.SyncOpBlockRange:
			var err error
			n, err = copyBlockRange(ctx, w, op, old, src, blockSize, buf)
			if err != nil {
				return written + n, err
			}
		case wire.SyncOpData:
			m, err := w.Write(op.Data)
			n = int64(m)
			if err != nil {
				return written + n, err
			}
		default:
			return written, fmt.Errorf("%w: sync op type %d", ErrFormat, op.Type)
		}
		written += n
		if progress != nil && n > 0 {
			progress(n)
		}
	}
	return written, nil
}

// copyBlockRange copies op.BlockSpan blocks out of the addressed old file.
// The whole span must lie within the file's declared size; partial trailing
// blocks are never addressable.
func copyBlockRange(ctx context.Context, w io.Writer, op *wire.SyncOp, old *Container, src FileSource, blockSize int64, buf []byte) (int64, error) {
	f, err := old.File(op.FileIndex)
	if err != nil {
		return 0, err
	}
	if op.BlockIndex < 0 || op.BlockSpan < 1 {
		return 0, fmt.Errorf("%w: block range (%d, %d)", ErrRange, op.BlockIndex, op.BlockSpan)
	}
	// Bound the span by whole blocks before any multiplication so hostile
	// index or span values cannot overflow int64.
	fullBlocks := f.Size / blockSize
	if op.BlockIndex > fullBlocks-op.BlockSpan {
		return 0, fmt.Errorf("%w: span of %d blocks at block %d of %q exceeds its %d bytes",
			ErrRange, op.BlockSpan, op.BlockIndex, f.Path, f.Size)
	}
	start := op.BlockIndex * blockSize
	length := op.BlockSpan * blockSize
	ra, err := src.ReaderAt(op.FileIndex)
	if err != nil {
		return 0, err
	}
	n, err := ioutil.CopyWithContext(ctx, w, io.NewSectionReader(ra, start, length), buf)
	if err != nil {
		return n, err
	}
	if n != length {
		return n, fmt.Errorf("%w: %q is shorter on disk than its manifest declares", ErrRange, f.Path)
	}
	return n, nil
}
