package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ShowKa/Oxalis-AS4/pkg/compression"
	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// Attachment is a compressed payload ready to be carried as a MIME part.
type Attachment struct {
	message.PayloadRef
	Data []byte
}

// Ref returns the header view of the attachment.
func (a *Attachment) Ref() message.PayloadRef {
	return a.PayloadRef
}

// Refs returns the header view of a set of attachments, in order.
func Refs(atts []*Attachment) []message.PayloadRef {
	out := make([]message.PayloadRef, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.PayloadRef)
	}
	return out
}

// AttachmentBuilder prepares a payload for transmission.
type AttachmentBuilder interface {
	// Prepare consumes payload and returns a complete attachment, or an
	// error and no attachment. A payload implementing io.Closer is closed.
	Prepare(payload io.Reader, mimeType string) (*Attachment, error)
}

// GzipAttachmentBuilder is the AttachmentBuilder used for AS4: every
// payload is gzip compressed.
type GzipAttachmentBuilder struct {
	ids        message.IDGenerator
	compressor compression.PayloadCompressor
}

var _ AttachmentBuilder = (*GzipAttachmentBuilder)(nil)

// BuilderOption configures a GzipAttachmentBuilder.
type BuilderOption func(*GzipAttachmentBuilder)

// WithContentIDGenerator sets the generator used for Content-IDs.
func WithContentIDGenerator(g message.IDGenerator) BuilderOption {
	return func(b *GzipAttachmentBuilder) {
		b.ids = g
	}
}

// WithCompressor replaces the default gzip compressor.
func WithCompressor(c compression.PayloadCompressor) BuilderOption {
	return func(b *GzipAttachmentBuilder) {
		b.compressor = c
	}
}

// NewAttachmentBuilder creates an attachment builder.
func NewAttachmentBuilder(opts ...BuilderOption) *GzipAttachmentBuilder {
	b := &GzipAttachmentBuilder{
		ids:        message.NewUUIDGenerator(""),
		compressor: compression.NewCompressor(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Prepare compresses payload into a new attachment. Failures are reported
// as a CompressionError.
func (b *GzipAttachmentBuilder) Prepare(payload io.Reader, mimeType string) (att *Attachment, err error) {
	if closer, ok := payload.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				att = nil
				err = errors.Join(err, transmission.NewCompressionError(fmt.Errorf("unable to close payload: %w", cerr)))
			}
		}()
	}

	if payload == nil {
		return nil, transmission.NewCompressionError(fmt.Errorf("unable to compress payload: nil reader"))
	}
	if mimeType == "" {
		mimeType = transmission.DefaultPayloadMimeType
	}

	contentID := b.ids.Generate()
	if contentID == "" {
		return nil, transmission.NewCompressionError(fmt.Errorf("id generator returned an empty content id"))
	}

	var buf bytes.Buffer
	if _, err := b.compressor.CompressStream(&buf, payload); err != nil {
		return nil, transmission.NewCompressionError(fmt.Errorf("unable to compress payload: %w", err))
	}

	return &Attachment{
		PayloadRef: message.PayloadRef{
			ContentID:       contentID,
			MimeType:        mimeType,
			CompressionType: b.compressor.Type(),
		},
		Data: buf.Bytes(),
	}, nil
}
