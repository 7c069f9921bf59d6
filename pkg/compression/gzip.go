// Package compression implements GZIP payload compression for AS4 attachments.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	// CompressionTypeGzip is the standard GZIP compression
	CompressionTypeGzip = "application/gzip"
)

// PayloadCompressor compresses a payload stream into dst.
type PayloadCompressor interface {
	// CompressStream reads src to EOF and writes the compressed form to
	// dst. It returns the number of uncompressed bytes consumed.
	CompressStream(dst io.Writer, src io.Reader) (int64, error)
	// Type is the CompressionType part property value.
	Type() string
}

// Compressor handles payload compression
type Compressor struct {
	compressionLevel int
}

var _ PayloadCompressor = (*Compressor)(nil)

// NewCompressor creates a new compressor with default compression level
func NewCompressor() *Compressor {
	return &Compressor{
		compressionLevel: gzip.DefaultCompression,
	}
}

// NewCompressorWithLevel creates a new compressor with specified compression level
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{
		compressionLevel: level,
	}
}

// Type returns CompressionTypeGzip.
func (c *Compressor) Type() string {
	return CompressionTypeGzip
}

// CompressStream compresses src into dst. The gzip trailer is only written
// when src has been read completely, so a failed call never leaves a
// stream that decompresses cleanly.
func (c *Compressor) CompressStream(dst io.Writer, src io.Reader) (int64, error) {
	writer, err := gzip.NewWriterLevel(dst, c.compressionLevel)
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	n, err := io.Copy(writer, src)
	if err != nil {
		return n, fmt.Errorf("failed to compress payload after %d bytes: %w", n, err)
	}

	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return n, nil
}

// DecompressStream decompresses src into dst.
func (c *Compressor) DecompressStream(dst io.Writer, src io.Reader) (int64, error) {
	reader, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	n, err := io.Copy(dst, reader)
	if err != nil {
		return n, fmt.Errorf("failed to read compressed data: %w", err)
	}
	return n, nil
}

// Compress compresses data using GZIP
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decompresses GZIP data
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
