package wharf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSourceConcurrentReads(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		"a": []byte("alpha content"),
		"b": []byte("beta content"),
	})
	c, err := ScanContainer(dir)
	require.NoError(t, err)
	src := NewDirSource(c, dir)
	defer src.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := int64(0); index < 2; index++ {
				ra, err := src.ReaderAt(index)
				assert.NoError(t, err)
				buf := make([]byte, 4)
				_, err = ra.ReadAt(buf, 0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Both files read the same handle regardless of goroutine.
	raA1, err := src.ReaderAt(0)
	require.NoError(t, err)
	raA2, err := src.ReaderAt(0)
	require.NoError(t, err)
	assert.Same(t, raA1, raA2)
}

func TestDirSourceUnknownIndex(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{"a": []byte("x")})
	c, err := ScanContainer(dir)
	require.NoError(t, err)
	src := NewDirSource(c, dir)
	defer src.Close()

	_, err = src.ReaderAt(5)
	assert.ErrorIs(t, err, ErrRange)
}
