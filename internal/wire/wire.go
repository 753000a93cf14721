// Package wire implements the framed message stream shared by wharf patch
// and signature files: a little-endian magic number, one uncompressed
// header message, then varint-length-delimited protobuf messages read
// through whatever decompressor the header selects.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// PatchMagic identifies a wharf patch stream (.pwr).
	PatchMagic uint32 = 0x0FEF5F00

	// SignatureMagic identifies a wharf signature stream (.pws).
	SignatureMagic uint32 = PatchMagic + 1
)

// MaxMessageSize caps the declared length of a single framed message.
// Individual ops never approach this; a larger value almost certainly
// means the varint was read from garbage.
const MaxMessageSize = 256 << 20

// ErrFormat reports a malformed stream: bad magic, an invalid varint, an
// undecodable message body, or a truncated read.
var ErrFormat = errors.New("wire: malformed stream")

// Reader decodes framed messages. Reads are stateful and strictly
// sequential; after the header message the source is expected to be
// swapped for the decompressed body via SetSource.
type Reader struct {
	src *bufio.Reader
	buf []byte
}

// NewReader frames messages read from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r)}
}

// ExpectMagic consumes the 4-byte magic number and verifies it.
func (r *Reader) ExpectMagic(want uint32) error {
	var raw [4]byte
	if _, err := io.ReadFull(r.src, raw[:]); err != nil {
		return fmt.Errorf("%w: reading magic: %v", ErrFormat, err)
	}
	got := binary.LittleEndian.Uint32(raw[:])
	if got != want {
		return fmt.Errorf("%w: magic %#08x, want %#08x", ErrFormat, got, want)
	}
	return nil
}

// ReadMagic consumes and returns the 4-byte magic number.
func (r *Reader) ReadMagic() (uint32, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r.src, raw[:]); err != nil {
		return 0, fmt.Errorf("%w: reading magic: %v", ErrFormat, err)
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

// SetSource redirects subsequent reads, used to splice in the decompressor
// once the header has declared the body codec. Any bytes already buffered
// from the previous source must be drained by the caller-supplied reader;
// Buffered exposes the raw tail for that purpose.
func (r *Reader) SetSource(src io.Reader) {
	r.src = bufio.NewReader(src)
}

// Buffered returns a reader over the remaining raw stream, including bytes
// already pulled into the internal buffer.
func (r *Reader) Buffered() io.Reader {
	return r.src
}

// ReadMessage decodes the next length-delimited message into m.
//
// A clean end of stream at a message boundary returns io.EOF untouched so
// callers can distinguish it from corruption; EOF anywhere else is ErrFormat.
func (r *Reader) ReadMessage(m Message) error {
	length, err := r.readLength()
	if err != nil {
		return err
	}
	if cap(r.buf) < length {
		r.buf = make([]byte, length)
	}
	body := r.buf[:length]
	if _, err := io.ReadFull(r.src, body); err != nil {
		return fmt.Errorf("%w: message truncated: %v", ErrFormat, err)
	}
	if err := m.UnmarshalWire(body); err != nil {
		return fmt.Errorf("%w: decoding message: %v", ErrFormat, err)
	}
	return nil
}

// readLength decodes a varint length delimiter.
func (r *Reader) readLength() (int, error) {
	var (
		raw [binary.MaxVarintLen64]byte
		n   int
	)
	for {
		b, err := r.src.ReadByte()
		if err != nil {
			if err == io.EOF && n == 0 {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: reading length delimiter: %v", ErrFormat, err)
		}
		if n == len(raw) {
			return 0, fmt.Errorf("%w: length delimiter overruns %d bytes", ErrFormat, len(raw))
		}
		raw[n] = b
		n++
		if b&0x80 == 0 {
			break
		}
	}
	length, cnt := protowire.ConsumeVarint(raw[:n])
	if cnt < 0 {
		return 0, fmt.Errorf("%w: invalid length delimiter", ErrFormat)
	}
	if length > MaxMessageSize {
		return 0, fmt.Errorf("%w: message of %d bytes exceeds limit", ErrFormat, length)
	}
	return int(length), nil
}

// Writer encodes framed messages. It mirrors Reader: magic, uncompressed
// header, then messages written through a compressor installed with
// SetSink.
type Writer struct {
	dst     io.Writer
	scratch []byte
}

// NewWriter frames messages written to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{dst: w}
}

// WriteMagic emits the 4-byte little-endian magic number.
func (w *Writer) WriteMagic(magic uint32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], magic)
	_, err := w.dst.Write(raw[:])
	return err
}

// SetSink redirects subsequent messages, used to splice in the compressor
// after the uncompressed header has been written.
func (w *Writer) SetSink(dst io.Writer) {
	w.dst = dst
}

// WriteMessage emits m prefixed with its varint length.
func (w *Writer) WriteMessage(m Message) error {
	body := m.AppendWire(w.scratch[:0])
	var header [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[:], uint64(len(body)))
	if _, err := w.dst.Write(header[:n]); err != nil {
		return err
	}
	_, err := w.dst.Write(body)
	w.scratch = body[:0]
	return err
}
