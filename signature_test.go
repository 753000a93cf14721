package wharf

import (
	"bytes"
	"context"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/wharf/internal/rollsum"
	"github.com/quayside/wharf/internal/wire"
)

// signTree scans and hashes a tree in one step.
func signTree(t *testing.T, dir string, blockSize int64) *Signature {
	t.Helper()
	c, err := ScanContainer(dir)
	require.NoError(t, err)
	src := NewDirSource(c, dir)
	t.Cleanup(func() { src.Close() })
	sig, err := ComputeSignature(context.Background(), c, src, SignWithBlockSize(blockSize))
	require.NoError(t, err)
	return sig
}

func TestComputeSignature(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		"a": []byte("0123456789"), // 2 full blocks + 1 tail at blockSize 4
		"b": nil,                  // empty, still one hash
	})
	sig := signTree(t, dir, 4)

	require.Len(t, sig.Hashes, 4)
	assert.Equal(t, int64(4), sig.Container.TotalBlocks(4))

	first := md5.Sum([]byte("0123"))
	assert.Equal(t, first[:], sig.Hashes[0].Strong)
	assert.Equal(t, rollsum.Sum([]byte("0123")), sig.Hashes[0].Weak)

	tail := md5.Sum([]byte("89"))
	assert.Equal(t, tail[:], sig.Hashes[2].Strong)

	empty := md5.Sum(nil)
	assert.Equal(t, empty[:], sig.Hashes[3].Strong)
	assert.Equal(t, uint32(0), sig.Hashes[3].Weak)
}

func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		"data/a.bin": bytes.Repeat([]byte("wharf"), 1000),
		"data/b.txt": []byte("small"),
		"empty":      nil,
	})

	algorithms := []CompressionSettings{
		{Algorithm: CompressionNone},
		{Algorithm: CompressionBrotli, Quality: 4},
		{Algorithm: CompressionGzip, Quality: 6},
		{Algorithm: CompressionZstd, Quality: 3},
	}
	for _, settings := range algorithms {
		settings := settings
		t.Run(settings.Algorithm.String(), func(t *testing.T) {
			t.Parallel()

			sig := signTree(t, dir, 512)

			var buf bytes.Buffer
			err := WriteSignature(context.Background(), &buf, sig,
				SignWithCompression(settings))
			require.NoError(t, err)

			got, err := ReadSignature(&buf, SignWithBlockSize(512))
			require.NoError(t, err)
			assert.Equal(t, sig.Container, got.Container)
			assert.Equal(t, sig.Hashes, got.Hashes)
		})
	}
}

func TestReadSignatureRejectsWrongMagic(t *testing.T) {
	t.Parallel()

	_, err := ReadSignature(bytes.NewReader([]byte{0x00, 0x5F, 0xEF, 0x0F, 0x00}))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadSignatureRejectsStreamEndingAtBoundary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fw := wire.NewWriter(&buf)
	require.NoError(t, fw.WriteMagic(wire.SignatureMagic))
	afterMagic := append([]byte(nil), buf.Bytes()...)
	header := wire.SignatureHeader{Compression: CompressionSettings{Algorithm: CompressionNone}}
	require.NoError(t, fw.WriteMessage(&header))
	afterHeader := buf.Bytes()

	// The header and the container are mandatory; a stream that ends
	// cleanly before either is corrupt.
	_, err := ReadSignature(bytes.NewReader(afterMagic))
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ReadSignature(bytes.NewReader(afterHeader))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadSignatureRejectsHashCountMismatch(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{"a": []byte("0123456789abcdef")})
	sig := signTree(t, dir, 4)

	var buf bytes.Buffer
	require.NoError(t, WriteSignature(context.Background(), &buf, sig))

	// Read back with a block size that implies a different block count.
	_, err := ReadSignature(&buf, SignWithBlockSize(8))
	assert.ErrorIs(t, err, ErrFormat)
}
