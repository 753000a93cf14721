package wharf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("compressible wharf body "), 500)
	settings := []CompressionSettings{
		{Algorithm: CompressionNone},
		{Algorithm: CompressionBrotli, Quality: 4},
		{Algorithm: CompressionGzip, Quality: 6},
		{Algorithm: CompressionZstd, Quality: 3},
	}
	for _, s := range settings {
		s := s
		t.Run(s.Algorithm.String(), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w, err := compressor(s, &buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if s.Algorithm != CompressionNone {
				assert.Less(t, buf.Len(), len(payload))
			}

			r, err := decompressor(s.Algorithm, &buf)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecompressorUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := decompressor(CompressionAlgorithm(42), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrFormat)
}
