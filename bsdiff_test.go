package wharf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/wharf/internal/wire"
)

func TestApplyBsdiffAddWrapsModulo256(t *testing.T) {
	t.Parallel()

	old := bytes.NewReader([]byte{250, 250})
	controls := []wire.Control{
		{Add: []byte{5, 10}},
		{Eof: true},
	}
	var out bytes.Buffer
	written, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFFail, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)
	assert.Equal(t, []byte{255, 4}, out.Bytes())
}

func TestApplyBsdiffSeekMovesCursor(t *testing.T) {
	t.Parallel()

	old := bytes.NewReader([]byte("abcdef"))
	// Pass "ab" through, skip "cd", pass "ef" through, then a literal.
	controls := []wire.Control{
		{Add: []byte{0, 0}},
		{Seek: 2},
		{Add: []byte{0, 0}},
		{Copy: []byte("LITERAL")},
		{Eof: true},
	}
	var out bytes.Buffer
	written, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFFail, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), written)
	assert.Equal(t, []byte("abefLITERAL"), out.Bytes())
}

func TestApplyBsdiffNegativeSeekIsLazy(t *testing.T) {
	t.Parallel()

	old := bytes.NewReader([]byte("abcdef"))

	// A negative cursor alone is fine as long as nothing reads through it.
	rewindOnly := []wire.Control{
		{Seek: -40},
		{Copy: []byte("ok")},
		{Eof: true},
	}
	var out bytes.Buffer
	written, err := applyBsdiff(context.Background(), &out, rewindOnly, old, AddPastEOFFail, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	// An add at the negative cursor is a range error.
	rewindThenAdd := []wire.Control{
		{Seek: -40},
		{Add: []byte{0}},
		{Eof: true},
	}
	out.Reset()
	_, err = applyBsdiff(context.Background(), &out, rewindThenAdd, old, AddPastEOFFail, nil)
	assert.ErrorIs(t, err, ErrRange)
}

func TestApplyBsdiffZeroPadPolicy(t *testing.T) {
	t.Parallel()

	old := bytes.NewReader([]byte{100})
	controls := []wire.Control{
		{Add: []byte{1, 2, 3}},
		{Eof: true},
	}

	var out bytes.Buffer
	_, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFFail, nil)
	assert.ErrorIs(t, err, ErrRange)

	out.Reset()
	written, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFZeroPad, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), written)
	assert.Equal(t, []byte{101, 2, 3}, out.Bytes())
}

func TestApplyBsdiffStopsAtEOFControl(t *testing.T) {
	t.Parallel()

	old := bytes.NewReader([]byte("abcdef"))
	controls := []wire.Control{
		{Copy: []byte("x")},
		{Eof: true},
		{Copy: []byte("never written")},
	}
	var out bytes.Buffer
	written, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFFail, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)
	assert.Equal(t, []byte("x"), out.Bytes())
}

func TestApplyBsdiffDiscardsEOFControlPayload(t *testing.T) {
	t.Parallel()

	// The eof control terminates the file; add or copy segments riding on
	// it must not be applied.
	old := bytes.NewReader([]byte("abcdef"))
	controls := []wire.Control{
		{Copy: []byte("x")},
		{Add: []byte{1, 1}, Copy: []byte("never written"), Eof: true},
	}
	var out bytes.Buffer
	written, err := applyBsdiff(context.Background(), &out, controls, old, AddPastEOFFail, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)
	assert.Equal(t, []byte("x"), out.Bytes())
}
