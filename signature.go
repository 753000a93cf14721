package wharf

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"

	"github.com/quayside/wharf/internal/ioutil"
	"github.com/quayside/wharf/internal/rollsum"
	"github.com/quayside/wharf/internal/wire"
)

// BlockHash fingerprints one block of one file: a weak rolling checksum
// for cheap candidate matching and an MD5 digest to confirm it.
type BlockHash struct {
	Weak   uint32
	Strong []byte
}

// Signature fingerprints a whole container, block by block. Hashes are in
// file-then-block order; the per-file boundaries are implied by the
// container's file sizes and the block size.
type Signature struct {
	Container *Container
	Hashes    []BlockHash
	BlockSize int64
}

// blockStart returns the position in Hashes of fileIndex's first block.
func (s *Signature) blockStart(fileIndex int64) int64 {
	var off int64
	for i := int64(0); i < fileIndex; i++ {
		off += s.Container.Files[i].BlockCount(s.BlockSize)
	}
	return off
}

// ComputeSignature hashes every file of c, read from src, in index order.
// An empty file contributes a single hash over zero bytes, matching the
// upstream format.
func ComputeSignature(ctx context.Context, c *Container, src FileSource, opts ...SignOption) (*Signature, error) {
	cfg := newSignConfig(opts)
	log := logOrDiscard(cfg.logger)
	log.Debug("computing signature", "files", len(c.Files), "block_size", cfg.blockSize)

	sig := &Signature{
		Container: c,
		BlockSize: cfg.blockSize,
		Hashes:    make([]BlockHash, 0, c.TotalBlocks(cfg.blockSize)),
	}
	buf := make([]byte, cfg.blockSize)
	for index := range c.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := c.Files[index]
		ra, err := src.ReaderAt(int64(index))
		if err != nil {
			return nil, err
		}
		r := io.NewSectionReader(ra, 0, f.Size)
		remaining := f.Size
		for block := int64(0); block < f.BlockCount(cfg.blockSize); block++ {
			n := cfg.blockSize
			if remaining < n {
				n = remaining
			}
			chunk := buf[:n]
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, fmt.Errorf("hashing %q block %d: %w", f.Path, block, err)
			}
			sig.Hashes = append(sig.Hashes, hashBlock(chunk))
			remaining -= n
			if cfg.progress != nil {
				cfg.progress(n)
			}
		}
	}
	return sig, nil
}

func hashBlock(chunk []byte) BlockHash {
	strong := md5.Sum(chunk)
	return BlockHash{
		Weak:   rollsum.Sum(chunk),
		Strong: strong[:],
	}
}

// WriteSignature encodes sig as a framed signature stream: magic,
// uncompressed header, then the container and every block hash through
// the configured codec.
func WriteSignature(ctx context.Context, w io.Writer, sig *Signature, opts ...SignOption) error {
	cfg := newSignConfig(opts)
	log := logOrDiscard(cfg.logger)

	cw := &ioutil.CountingWriter{W: w}
	fw := wire.NewWriter(cw)
	if err := fw.WriteMagic(wire.SignatureMagic); err != nil {
		return err
	}
	header := wire.SignatureHeader{Compression: cfg.compression}
	if err := fw.WriteMessage(&header); err != nil {
		return err
	}

	body, err := compressor(cfg.compression, cw)
	if err != nil {
		return err
	}
	fw.SetSink(body)

	if err := fw.WriteMessage(sig.Container.toWire()); err != nil {
		return err
	}
	for i := range sig.Hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := wire.BlockHash{WeakHash: sig.Hashes[i].Weak, StrongHash: sig.Hashes[i].Strong}
		if err := fw.WriteMessage(&h); err != nil {
			return err
		}
	}
	if err := body.Close(); err != nil {
		return err
	}
	log.Debug("signature written",
		"blocks", len(sig.Hashes), "compression", cfg.compression.Algorithm.String(), "bytes", cw.N)
	return nil
}

// ReadSignature decodes a framed signature stream. The block hash loop has
// no terminator message: it ends only at the end of the decompressed body.
func ReadSignature(r io.Reader, opts ...SignOption) (*Signature, error) {
	cfg := newSignConfig(opts)

	fr := wire.NewReader(r)
	if err := fr.ExpectMagic(wire.SignatureMagic); err != nil {
		return nil, wrapFormat(err)
	}
	var header wire.SignatureHeader
	if err := fr.ReadMessage(&header); err != nil {
		return nil, wrapEOF(err)
	}
	body, err := decompressor(header.Compression.Algorithm, fr.Buffered())
	if err != nil {
		return nil, err
	}
	defer body.Close()
	fr.SetSource(body)

	var wc wire.Container
	if err := fr.ReadMessage(&wc); err != nil {
		return nil, wrapEOF(err)
	}
	sig := &Signature{
		Container: containerFromWire(&wc),
		BlockSize: cfg.blockSize,
	}
	want := sig.Container.TotalBlocks(cfg.blockSize)
	sig.Hashes = make([]BlockHash, 0, want)
	for {
		var h wire.BlockHash
		err := fr.ReadMessage(&h)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapFormat(err)
		}
		sig.Hashes = append(sig.Hashes, BlockHash{Weak: h.WeakHash, Strong: h.StrongHash})
	}
	if int64(len(sig.Hashes)) != want {
		return nil, fmt.Errorf("%w: %d block hashes for a container of %d blocks",
			ErrFormat, len(sig.Hashes), want)
	}
	return sig, nil
}

// wrapFormat folds wire-level format errors into the package sentinel
// while leaving plain IO errors untouched.
func wrapFormat(err error) error {
	if errors.Is(err, wire.ErrFormat) {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return err
}

// wrapEOF maps a clean end of stream at a message boundary to ErrFormat.
// Headers, containers and per-file records are mandatory, so running out
// of stream before them is corruption, not a normal end. Loops that use
// the end of stream as their terminator handle io.EOF before calling this.
func wrapEOF(err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: unexpected end of stream", ErrFormat)
	}
	return wrapFormat(err)
}
