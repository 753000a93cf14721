package wharf

import (
	"context"
	"fmt"
	"io"

	"github.com/quayside/wharf/internal/wire"
)

// applyBsdiff replays bsdiff control messages against one old file.
//
// A control's add segment reads len(Add) bytes at the current old-file
// cursor and emits their byte-wise sum with the diff bytes, wrapping mod
// 256. Copy bytes pass through verbatim. Seek moves the cursor without
// validation; an out-of-range cursor is only an error once an add tries to
// read through it.
func applyBsdiff(ctx context.Context, w io.Writer, controls []wire.Control, oldRA io.ReaderAt, policy AddPastEOFPolicy, progress ProgressFunc) (int64, error) {
	var (
		written int64
		cursor  int64
		buf     []byte
	)
	for i := range controls {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		ctl := &controls[i]
		if ctl.Eof {
			// The eof control is a pure terminator; any payload it
			// carries is discarded, never applied.
			break
		}
		if len(ctl.Add) > 0 {
			if cursor < 0 {
				return written, fmt.Errorf("%w: add at negative old-file offset %d", ErrRange, cursor)
			}
			if cap(buf) < len(ctl.Add) {
				buf = make([]byte, len(ctl.Add))
			}
			chunk := buf[:len(ctl.Add)]
			n, err := oldRA.ReadAt(chunk, cursor)
			if err != nil && err != io.EOF {
				return written, err
			}
			if n < len(chunk) {
				if policy == AddPastEOFFail {
					return written, fmt.Errorf("%w: add of %d bytes at offset %d reads past old end",
						ErrRange, len(chunk), cursor)
				}
				clear(chunk[n:])
			}
			for j, d := range ctl.Add {
				chunk[j] += d
			}
			m, err := w.Write(chunk)
			written += int64(m)
			if err != nil {
				return written, err
			}
			cursor += int64(len(chunk))
			if progress != nil {
				progress(int64(len(chunk)))
			}
		}
		if len(ctl.Copy) > 0 {
			m, err := w.Write(ctl.Copy)
			written += int64(m)
			if err != nil {
				return written, err
			}
			if progress != nil {
				progress(int64(m))
			}
		}
		cursor += ctl.Seek
	}
	return written, nil
}
