package compression

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTripSizes(t *testing.T) {
	compressor := NewCompressor()
	rng := rand.New(rand.NewSource(42))

	for _, size := range []int{0, 1, 4096, 10_000_000} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			data := make([]byte, size)
			_, _ = rng.Read(data)

			var compressed bytes.Buffer
			n, err := compressor.CompressStream(&compressed, bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, int64(size), n)
			assert.NotEmpty(t, compressed.Bytes()) // GZIP header is present even for empty data

			var out bytes.Buffer
			m, err := compressor.DecompressStream(&out, &compressed)
			require.NoError(t, err)
			assert.Equal(t, int64(size), m)
			assert.True(t, bytes.Equal(data, out.Bytes()))
		})
	}
}

func TestCompressor_CompressDecompress(t *testing.T) {
	compressor := NewCompressor()

	// GZIP has overhead (~18-20 bytes), so small data actually gets larger
	testData := bytes.Repeat([]byte("<Invoice>repeated text</Invoice>"), 50)

	compressed, err := compressor.Compress(testData)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(testData))

	decompressed, err := compressor.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, testData, decompressed)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestCompressor_ReadFailure(t *testing.T) {
	compressor := NewCompressor()
	readErr := errors.New("disk gone")

	var buf bytes.Buffer
	_, err := compressor.CompressStream(&buf, &failingReader{data: []byte("partial"), err: readErr})
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestCompressor_WriteFailure(t *testing.T) {
	compressor := NewCompressor()
	writeErr := errors.New("no space")

	_, err := compressor.CompressStream(failingWriter{err: writeErr}, bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20)))
	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)
}

func TestCompressor_CorruptedData(t *testing.T) {
	compressor := NewCompressor()

	_, err := compressor.Decompress([]byte("not gzip data"))
	assert.Error(t, err)

	compressed, err := compressor.Compress([]byte("some payload that is long enough"))
	require.NoError(t, err)
	_, err = compressor.DecompressStream(io.Discard, bytes.NewReader(compressed[:len(compressed)-4]))
	assert.Error(t, err)
}

func TestCompressor_Type(t *testing.T) {
	assert.Equal(t, "application/gzip", NewCompressor().Type())
	assert.Equal(t, CompressionTypeGzip, NewCompressorWithLevel(9).Type())
}
