package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("ping")

	var stream bytes.Buffer
	require.NoError(t, WriteFrame(&stream, payload))
	assert.Equal(t, 4+len(payload), stream.Len())

	got, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	ReleaseFrame(got)
}

func TestWriteFrameIsSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, []byte{1, 2, 3}))
	assert.Equal(t, 1, w.calls, "header and payload must leave in one write")
}

type countingWriter struct {
	calls int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return len(p), nil
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	t.Run("Negative", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("Zero", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("Oversized", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x7f, 0xff, 0xff, 0xff}))
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestReadFrameEOF(t *testing.T) {
	t.Run("CleanCloseBeforeHeader", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(nil))
		assert.Equal(t, io.EOF, err, "clean close must be distinguishable")
	})

	t.Run("TruncatedHeader", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 10, 'x'}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
