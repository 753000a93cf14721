package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every wire entity. The codecs are hand-rolled
// on protowire: the schema is small, frozen upstream, and the framing layer
// needs tighter control over lengths than generated code gives us.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// CompressionAlgorithm identifies the codec applied to the stream body.
type CompressionAlgorithm int32

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionBrotli
	CompressionGzip
	CompressionZstd
)

func (a CompressionAlgorithm) String() string {
	switch a {
	case CompressionNone:
		return "none"
	case CompressionBrotli:
		return "brotli"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int32(a))
	}
}

// CompressionSettings describes how a stream body was compressed.
// Quality is producer metadata; decoding never consults it.
type CompressionSettings struct {
	Algorithm CompressionAlgorithm
	Quality   int32
}

func (s *CompressionSettings) AppendWire(b []byte) []byte {
	if s.Algorithm != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Algorithm))
	}
	if s.Quality != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Quality))
	}
	return b
}

func (s *CompressionSettings) UnmarshalWire(b []byte) error {
	*s = CompressionSettings{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			s.Algorithm = CompressionAlgorithm(n)
		case 2:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			s.Quality = int32(n)
		}
		return nil
	})
}

// PatchHeader is the first (uncompressed) message of a patch stream.
type PatchHeader struct {
	Compression CompressionSettings
}

func (h *PatchHeader) AppendWire(b []byte) []byte {
	return appendEmbedded(b, 1, &h.Compression)
}

func (h *PatchHeader) UnmarshalWire(b []byte) error {
	*h = PatchHeader{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			return fieldMessage(typ, v, &h.Compression)
		}
		return nil
	})
}

// SignatureHeader is the first (uncompressed) message of a signature stream.
type SignatureHeader struct {
	Compression CompressionSettings
}

func (h *SignatureHeader) AppendWire(b []byte) []byte {
	return appendEmbedded(b, 1, &h.Compression)
}

func (h *SignatureHeader) UnmarshalWire(b []byte) error {
	*h = SignatureHeader{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			return fieldMessage(typ, v, &h.Compression)
		}
		return nil
	})
}

// Dir is a directory entry of a container manifest.
type Dir struct {
	Path string
	Mode uint32
}

func (d *Dir) AppendWire(b []byte) []byte {
	if d.Path != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, d.Path)
	}
	if d.Mode != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Mode))
	}
	return b
}

func (d *Dir) UnmarshalWire(b []byte) error {
	*d = Dir{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s, err := fieldString(typ, v)
			if err != nil {
				return err
			}
			d.Path = s
		case 2:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			d.Mode = uint32(n)
		}
		return nil
	})
}

// Symlink is a symbolic link entry of a container manifest.
type Symlink struct {
	Path string
	Mode uint32
	Dest string
}

func (s *Symlink) AppendWire(b []byte) []byte {
	if s.Path != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, s.Path)
	}
	if s.Mode != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Mode))
	}
	if s.Dest != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s.Dest)
	}
	return b
}

func (s *Symlink) UnmarshalWire(b []byte) error {
	*s = Symlink{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			str, err := fieldString(typ, v)
			if err != nil {
				return err
			}
			s.Path = str
		case 2:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			s.Mode = uint32(n)
		case 3:
			str, err := fieldString(typ, v)
			if err != nil {
				return err
			}
			s.Dest = str
		}
		return nil
	})
}

// File is a regular-file entry of a container manifest. Its position in
// Container.Files is the dense file index patch and signature messages
// refer to.
type File struct {
	Path string
	Mode uint32
	Size int64
}

func (f *File) AppendWire(b []byte) []byte {
	if f.Path != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, f.Path)
	}
	if f.Mode != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Mode))
	}
	if f.Size != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Size))
	}
	return b
}

func (f *File) UnmarshalWire(b []byte) error {
	*f = File{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s, err := fieldString(typ, v)
			if err != nil {
				return err
			}
			f.Path = s
		case 2:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			f.Mode = uint32(n)
		case 3:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			f.Size = int64(n)
		}
		return nil
	})
}

// Container is the ordered manifest of a directory tree.
type Container struct {
	Size     int64
	Dirs     []Dir
	Symlinks []Symlink
	Files    []File
}

func (c *Container) AppendWire(b []byte) []byte {
	if c.Size != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Size))
	}
	for i := range c.Dirs {
		b = appendEmbedded(b, 2, &c.Dirs[i])
	}
	for i := range c.Symlinks {
		b = appendEmbedded(b, 3, &c.Symlinks[i])
	}
	for i := range c.Files {
		b = appendEmbedded(b, 4, &c.Files[i])
	}
	return b
}

func (c *Container) UnmarshalWire(b []byte) error {
	*c = Container{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			c.Size = int64(n)
		case 2:
			var d Dir
			if err := fieldMessage(typ, v, &d); err != nil {
				return err
			}
			c.Dirs = append(c.Dirs, d)
		case 3:
			var s Symlink
			if err := fieldMessage(typ, v, &s); err != nil {
				return err
			}
			c.Symlinks = append(c.Symlinks, s)
		case 4:
			var f File
			if err := fieldMessage(typ, v, &f); err != nil {
				return err
			}
			c.Files = append(c.Files, f)
		}
		return nil
	})
}

// SyncHeaderType selects the per-file patch algorithm.
type SyncHeaderType int32

const (
	SyncHeaderRsync SyncHeaderType = iota
	SyncHeaderBsdiff
)

// SyncHeader begins one file's patch record.
type SyncHeader struct {
	Type      SyncHeaderType
	FileIndex int64
}

func (h *SyncHeader) AppendWire(b []byte) []byte {
	if h.Type != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Type))
	}
	if h.FileIndex != 0 {
		b = protowire.AppendTag(b, 16, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.FileIndex))
	}
	return b
}

func (h *SyncHeader) UnmarshalWire(b []byte) error {
	*h = SyncHeader{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			h.Type = SyncHeaderType(n)
		case 16:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			h.FileIndex = int64(n)
		}
		return nil
	})
}

// BsdiffHeader names the old file a bsdiff control stream diffs against.
type BsdiffHeader struct {
	TargetIndex int64
}

func (h *BsdiffHeader) AppendWire(b []byte) []byte {
	if h.TargetIndex != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.TargetIndex))
	}
	return b
}

func (h *BsdiffHeader) UnmarshalWire(b []byte) error {
	*h = BsdiffHeader{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			h.TargetIndex = int64(n)
		}
		return nil
	})
}

// SyncOpType tags the rsync op variants.
type SyncOpType int32

const (
	SyncOpBlockRange  SyncOpType = 0
	SyncOpData        SyncOpType = 1
	SyncOpHeyYouDidIt SyncOpType = 2049
)

// SyncOp is one rsync reconstruction operation.
type SyncOp struct {
	Type       SyncOpType
	FileIndex  int64
	BlockIndex int64
	BlockSpan  int64
	Data       []byte
}

func (op *SyncOp) AppendWire(b []byte) []byte {
	if op.Type != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.Type))
	}
	if op.FileIndex != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.FileIndex))
	}
	if op.BlockIndex != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.BlockIndex))
	}
	if op.BlockSpan != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.BlockSpan))
	}
	if len(op.Data) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Data)
	}
	return b
}

func (op *SyncOp) UnmarshalWire(b []byte) error {
	*op = SyncOp{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			op.Type = SyncOpType(n)
		case 2:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			op.FileIndex = int64(n)
		case 3:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			op.BlockIndex = int64(n)
		case 4:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			op.BlockSpan = int64(n)
		case 6:
			d, err := fieldBytes(typ, v)
			if err != nil {
				return err
			}
			op.Data = d
		}
		return nil
	})
}

// Control is one bsdiff reconstruction operation. Add, Copy and Seek are
// applied in that order; Eof ends the control loop.
type Control struct {
	Add  []byte
	Copy []byte
	Seek int64
	Eof  bool
}

func (c *Control) AppendWire(b []byte) []byte {
	if len(c.Add) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Add)
	}
	if len(c.Copy) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Copy)
	}
	if c.Seek != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Seek))
	}
	if c.Eof {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (c *Control) UnmarshalWire(b []byte) error {
	*c = Control{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			d, err := fieldBytes(typ, v)
			if err != nil {
				return err
			}
			c.Add = d
		case 2:
			d, err := fieldBytes(typ, v)
			if err != nil {
				return err
			}
			c.Copy = d
		case 3:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			c.Seek = int64(n)
		case 4:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			c.Eof = n != 0
		}
		return nil
	})
}

// BlockHash carries the weak and strong checksums of one block.
type BlockHash struct {
	WeakHash   uint32
	StrongHash []byte
}

func (h *BlockHash) AppendWire(b []byte) []byte {
	if h.WeakHash != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.WeakHash))
	}
	if len(h.StrongHash) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, h.StrongHash)
	}
	return b
}

func (h *BlockHash) UnmarshalWire(b []byte) error {
	*h = BlockHash{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := fieldVarint(typ, v)
			if err != nil {
				return err
			}
			h.WeakHash = uint32(n)
		case 2:
			d, err := fieldBytes(typ, v)
			if err != nil {
				return err
			}
			h.StrongHash = d
		}
		return nil
	})
}

func appendEmbedded(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	inner := m.AppendWire(nil)
	b = protowire.AppendVarint(b, uint64(len(inner)))
	return append(b, inner...)
}

// walkFields iterates the fields of an encoded message, handing each value
// to fn. Unknown field numbers are skipped, matching proto semantics.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			_, n = protowire.ConsumeBytes(b)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(b)
		default:
			return fmt.Errorf("unsupported wire type %v for field %d", typ, num)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		if err := fn(num, typ, b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func fieldVarint(typ protowire.Type, v []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint field, got wire type %v", typ)
	}
	n, cnt := protowire.ConsumeVarint(v)
	if cnt < 0 {
		return 0, protowire.ParseError(cnt)
	}
	return n, nil
}

func fieldString(typ protowire.Type, v []byte) (string, error) {
	b, err := fieldBytes(typ, v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fieldBytes(typ protowire.Type, v []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("expected bytes field, got wire type %v", typ)
	}
	b, cnt := protowire.ConsumeBytes(v)
	if cnt < 0 {
		return nil, protowire.ParseError(cnt)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func fieldMessage(typ protowire.Type, v []byte, m Message) error {
	b, err := fieldBytes(typ, v)
	if err != nil {
		return err
	}
	return m.UnmarshalWire(b)
}
