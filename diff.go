package wharf

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/quayside/wharf/internal/ioutil"
	"github.com/quayside/wharf/internal/rollsum"
	"github.com/quayside/wharf/internal/wire"
)

// maxDataOp caps the size of a single literal Data message so framed
// messages stay comfortably bounded.
const maxDataOp = 4 << 20

// blockLibrary indexes the old tree's full-size blocks by weak hash.
// Tail blocks shorter than the block size are excluded: BlockRange copies
// whole blocks only, so a short block can never be referenced by one.
type blockLibrary struct {
	blockSize int64
	blocks    []libBlock
	byWeak    map[uint32][]int32
}

type libBlock struct {
	fileIndex  int64
	blockIndex int64
	strong     [md5.Size]byte
}

func newBlockLibrary(sig *Signature) *blockLibrary {
	lib := &blockLibrary{
		blockSize: sig.BlockSize,
		byWeak:    make(map[uint32][]int32),
	}
	pos := int64(0)
	for index, f := range sig.Container.Files {
		blocks := f.BlockCount(sig.BlockSize)
		fullBlocks := f.Size / sig.BlockSize
		for b := int64(0); b < blocks; b++ {
			h := sig.Hashes[pos]
			pos++
			if b >= fullBlocks {
				continue // short tail block
			}
			id := int32(len(lib.blocks))
			entry := libBlock{fileIndex: int64(index), blockIndex: b}
			copy(entry.strong[:], h.Strong)
			lib.blocks = append(lib.blocks, entry)
			lib.byWeak[h.Weak] = append(lib.byWeak[h.Weak], id)
		}
	}
	return lib
}

// find returns the library block matching window, confirming weak-hash
// candidates with MD5.
func (lib *blockLibrary) find(weak uint32, window []byte) (libBlock, bool) {
	candidates := lib.byWeak[weak]
	if len(candidates) == 0 {
		return libBlock{}, false
	}
	strong := md5.Sum(window)
	for _, id := range candidates {
		if lib.blocks[id].strong == strong {
			return lib.blocks[id], true
		}
	}
	return libBlock{}, false
}

// WritePatch encodes a patch stream turning the tree described by old into
// the tree described by newContainer, whose file bytes are read from src.
//
// Every new file gets one RSYNC record: runs of old blocks become
// BlockRange ops (spans coalesced, cross-file reuse included), everything
// else becomes literal Data. Each file is buffered in memory while it is
// scanned.
func WritePatch(ctx context.Context, w io.Writer, old *Signature, newContainer *Container, src FileSource, opts ...DiffOption) error {
	cfg := newDiffConfig(opts)
	log := logOrDiscard(cfg.logger)
	log.Debug("diffing containers",
		"old", old.Container.Stats(), "new", newContainer.Stats(), "block_size", old.BlockSize)

	cw := &ioutil.CountingWriter{W: w}
	fw := wire.NewWriter(cw)
	if err := fw.WriteMagic(wire.PatchMagic); err != nil {
		return err
	}
	header := wire.PatchHeader{Compression: cfg.compression}
	if err := fw.WriteMessage(&header); err != nil {
		return err
	}
	body, err := compressor(cfg.compression, cw)
	if err != nil {
		return err
	}
	fw.SetSink(body)

	if err := fw.WriteMessage(old.Container.toWire()); err != nil {
		return err
	}
	if err := fw.WriteMessage(newContainer.toWire()); err != nil {
		return err
	}

	lib := newBlockLibrary(old)
	for index := range newContainer.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := diffFile(fw, lib, newContainer, int64(index), src, cfg.progress); err != nil {
			return err
		}
	}
	if err := body.Close(); err != nil {
		return err
	}
	log.Debug("patch written", "bytes", cw.N)
	return nil
}

func diffFile(fw *wire.Writer, lib *blockLibrary, c *Container, index int64, src FileSource, progress ProgressFunc) error {
	f := c.Files[index]
	syncHeader := wire.SyncHeader{Type: wire.SyncHeaderRsync, FileIndex: index}
	if err := fw.WriteMessage(&syncHeader); err != nil {
		return err
	}

	ra, err := src.ReaderAt(index)
	if err != nil {
		return err
	}
	data := make([]byte, f.Size)
	if _, err := io.ReadFull(io.NewSectionReader(ra, 0, f.Size), data); err != nil {
		return fmt.Errorf("reading %q: %w", f.Path, err)
	}

	e := opEmitter{fw: fw}
	if err := scanFile(lib, data, &e); err != nil {
		return err
	}
	if progress != nil {
		progress(f.Size)
	}
	done := wire.SyncOp{Type: wire.SyncOpHeyYouDidIt}
	return fw.WriteMessage(&done)
}

// scanFile slides a block-size window across data, emitting a BlockRange
// for every confirmed old-block match and accumulating misses into
// literal runs.
func scanFile(lib *blockLibrary, data []byte, e *opEmitter) error {
	if len(data) == 0 {
		// An empty file is still an explicit, empty literal.
		return e.emptyData()
	}

	bs := int(lib.blockSize)
	pos := 0
	lit := 0
	var rs rollsum.Rollsum
	fresh := true // window content not yet summed
	for pos+bs <= len(data) {
		window := data[pos : pos+bs]
		if fresh {
			rs.Reset()
			rs.Update(window)
			fresh = false
		}
		if block, ok := lib.find(rs.Sum32(), window); ok {
			if err := e.data(data[lit:pos]); err != nil {
				return err
			}
			if err := e.blockRange(block); err != nil {
				return err
			}
			pos += bs
			lit = pos
			fresh = true
			continue
		}
		if pos+bs == len(data) {
			break
		}
		rs.Roll(data[pos], data[pos+bs])
		pos++
	}
	if err := e.data(data[lit:]); err != nil {
		return err
	}
	return e.flush()
}

// opEmitter writes sync ops, coalescing adjacent same-file block matches
// into a single spanned BlockRange and splitting oversized literals.
type opEmitter struct {
	fw      *wire.Writer
	pending wire.SyncOp
	hasPend bool
}

func (e *opEmitter) blockRange(b libBlock) error {
	if e.hasPend &&
		e.pending.FileIndex == b.fileIndex &&
		e.pending.BlockIndex+e.pending.BlockSpan == b.blockIndex {
		e.pending.BlockSpan++
		return nil
	}
	if err := e.flush(); err != nil {
		return err
	}
	e.pending = wire.SyncOp{
		Type:       wire.SyncOpBlockRange,
		FileIndex:  b.fileIndex,
		BlockIndex: b.blockIndex,
		BlockSpan:  1,
	}
	e.hasPend = true
	return nil
}

func (e *opEmitter) data(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := e.flush(); err != nil {
		return err
	}
	for len(p) > 0 {
		n := len(p)
		if n > maxDataOp {
			n = maxDataOp
		}
		op := wire.SyncOp{Type: wire.SyncOpData, Data: p[:n]}
		if err := e.fw.WriteMessage(&op); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// emptyData writes the explicit zero-length literal an empty file is
// represented by.
func (e *opEmitter) emptyData() error {
	op := wire.SyncOp{Type: wire.SyncOpData}
	return e.fw.WriteMessage(&op)
}

func (e *opEmitter) flush() error {
	if !e.hasPend {
		return nil
	}
	op := e.pending
	e.hasPend = false
	return e.fw.WriteMessage(&op)
}
