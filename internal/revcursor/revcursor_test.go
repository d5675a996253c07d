package revcursor_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uberallfs/uberallfs/internal/revcursor"
)

func TestWriterReversesBytes(t *testing.T) {
	buf := make([]byte, 5)
	w := revcursor.NewWriter(buf)

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, w.Len())

	n, err = w.Write([]byte("de"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("edcba"), buf)
}

func TestWriterShortBuffer(t *testing.T) {
	buf := make([]byte, 2)
	w := revcursor.NewWriter(buf)

	n, err := w.Write([]byte("xyz"))
	assert.ErrorIs(t, err, io.ErrShortBuffer)
	assert.Equal(t, 2, n)
}

func TestReaderReversesBytes(t *testing.T) {
	r := revcursor.NewReader([]byte("abcde"))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("edcba"), got)
}

func TestReaderPartialReads(t *testing.T) {
	r := revcursor.NewReader([]byte("abcd"))

	p := make([]byte, 3)
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("dcb"), p[:n])

	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('a'), p[0])

	_, err = r.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	w := revcursor.NewWriter(buf)
	_, err := w.Write([]byte("12345678"))
	require.NoError(t, err)

	got, err := io.ReadAll(revcursor.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, []byte("12345678"), got)
}
