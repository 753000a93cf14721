package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestMagicRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMagic(PatchMagic); err != nil {
		t.Fatalf("WriteMagic() error = %v", err)
	}

	r := NewReader(&buf)
	if err := r.ExpectMagic(PatchMagic); err != nil {
		t.Fatalf("ExpectMagic() error = %v", err)
	}
}

func TestExpectMagicMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMagic(SignatureMagic); err != nil {
		t.Fatalf("WriteMagic() error = %v", err)
	}

	r := NewReader(&buf)
	if err := r.ExpectMagic(PatchMagic); !errors.Is(err, ErrFormat) {
		t.Errorf("ExpectMagic() error = %v, want ErrFormat", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Message
		out  Message
	}{
		{
			name: "patch header",
			in:   &PatchHeader{Compression: CompressionSettings{Algorithm: CompressionZstd, Quality: 9}},
			out:  &PatchHeader{},
		},
		{
			name: "sync header",
			in:   &SyncHeader{Type: SyncHeaderBsdiff, FileIndex: 7},
			out:  &SyncHeader{},
		},
		{
			name: "block range op",
			in:   &SyncOp{Type: SyncOpBlockRange, FileIndex: 2, BlockIndex: 3, BlockSpan: 4},
			out:  &SyncOp{},
		},
		{
			name: "data op",
			in:   &SyncOp{Type: SyncOpData, Data: []byte("literal bytes")},
			out:  &SyncOp{},
		},
		{
			name: "terminator op",
			in:   &SyncOp{Type: SyncOpHeyYouDidIt},
			out:  &SyncOp{},
		},
		{
			name: "bsdiff control with negative seek",
			in:   &Control{Add: []byte{1, 2}, Copy: []byte{3}, Seek: -5},
			out:  &Control{},
		},
		{
			name: "bsdiff eof control",
			in:   &Control{Eof: true},
			out:  &Control{},
		},
		{
			name: "block hash",
			in:   &BlockHash{WeakHash: 0xDEADBEEF, StrongHash: []byte("0123456789abcdef")},
			out:  &BlockHash{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w := NewWriter(&buf)
			if err := w.WriteMessage(tt.in); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			r := NewReader(&buf)
			if err := r.ReadMessage(tt.out); err != nil {
				t.Fatalf("ReadMessage() error = %v", err)
			}
			if !reflect.DeepEqual(tt.in, tt.out) {
				t.Errorf("round trip = %+v, want %+v", tt.out, tt.in)
			}
		})
	}
}

func TestContainerRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	in := Container{
		Size: 1234,
		Dirs: []Dir{{Path: "sub", Mode: 0o755}},
		Symlinks: []Symlink{
			{Path: "link", Mode: 0o777, Dest: "sub/target.bin"},
		},
		Files: []File{
			{Path: "sub/target.bin", Mode: 0o644, Size: 1234},
			{Path: "empty", Mode: 0o600, Size: 0},
		},
	}
	if err := w.WriteMessage(&in); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	r := NewReader(&buf)
	var out Container
	if err := r.ReadMessage(&out); err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestReadMessageCleanEOF(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader(nil))
	var op SyncOp
	if err := r.ReadMessage(&op); err != io.EOF {
		t.Errorf("ReadMessage() error = %v, want io.EOF", err)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMessage(&SyncOp{Type: SyncOpData, Data: []byte("0123456789")}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	short := buf.Bytes()[:buf.Len()-4]

	r := NewReader(bytes.NewReader(short))
	var op SyncOp
	err := r.ReadMessage(&op)
	if !errors.Is(err, ErrFormat) {
		t.Errorf("ReadMessage() error = %v, want ErrFormat", err)
	}
	if err == io.EOF {
		t.Error("truncation mid-message must not look like a clean end of stream")
	}
}

func TestReadMessageOversizedLength(t *testing.T) {
	t.Parallel()

	// Varint declaring a length far past MaxMessageSize.
	huge := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	r := NewReader(bytes.NewReader(huge))
	var op SyncOp
	if err := r.ReadMessage(&op); !errors.Is(err, ErrFormat) {
		t.Errorf("ReadMessage() error = %v, want ErrFormat", err)
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	t.Parallel()

	// A SyncOp with an extra varint field 15 spliced in must still decode.
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMessage(&SyncOp{Type: SyncOpData, Data: []byte("x")}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	raw := buf.Bytes()
	body := append([]byte{}, raw[1:]...)
	body = append(body, 0x78, 0x2A) // field 15, varint 42
	framed := append([]byte{byte(len(body))}, body...)

	r := NewReader(bytes.NewReader(framed))
	var op SyncOp
	if err := r.ReadMessage(&op); err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if op.Type != SyncOpData || !bytes.Equal(op.Data, []byte("x")) {
		t.Errorf("decoded op = %+v, want Data op with payload \"x\"", op)
	}
}
