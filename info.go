package wharf

import (
	"fmt"
	"io"

	"github.com/quayside/wharf/internal/wire"
)

// StreamKind says which wharf stream a reader holds.
type StreamKind uint8

const (
	// StreamPatch is a framed patch stream.
	StreamPatch StreamKind = iota
	// StreamSignature is a framed signature stream.
	StreamSignature
)

func (k StreamKind) String() string {
	switch k {
	case StreamPatch:
		return "patch"
	case StreamSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// StreamInfo describes a wharf stream without applying or verifying it:
// its kind, body codec and the containers it carries. For a signature
// stream only New is set.
type StreamInfo struct {
	Kind        StreamKind
	Compression CompressionSettings
	Old         *Container
	New         *Container
}

// Identify sniffs the stream in r, decoding up to and including its
// container manifests. The rest of the body is left unread.
func Identify(r io.Reader) (*StreamInfo, error) {
	fr := wire.NewReader(r)
	magic, err := fr.ReadMagic()
	if err != nil {
		return nil, wrapFormat(err)
	}

	info := &StreamInfo{}
	switch magic {
	case wire.PatchMagic:
		info.Kind = StreamPatch
		var header wire.PatchHeader
		if err := fr.ReadMessage(&header); err != nil {
			return nil, wrapEOF(err)
		}
		info.Compression = header.Compression
	case wire.SignatureMagic:
		info.Kind = StreamSignature
		var header wire.SignatureHeader
		if err := fr.ReadMessage(&header); err != nil {
			return nil, wrapEOF(err)
		}
		info.Compression = header.Compression
	default:
		return nil, fmt.Errorf("%w: magic %#08x is not a wharf stream", ErrFormat, magic)
	}

	body, err := decompressor(info.Compression.Algorithm, fr.Buffered())
	if err != nil {
		return nil, err
	}
	defer body.Close()
	fr.SetSource(body)

	if info.Kind == StreamPatch {
		var old wire.Container
		if err := fr.ReadMessage(&old); err != nil {
			return nil, wrapEOF(err)
		}
		info.Old = containerFromWire(&old)
	}
	var c wire.Container
	if err := fr.ReadMessage(&c); err != nil {
		return nil, wrapEOF(err)
	}
	info.New = containerFromWire(&c)
	return info, nil
}
