// Package mime implements MIME multipart/related message handling for AS4
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeSOAPXML is the MIME type for SOAP 1.2
	ContentTypeSOAPXML = "application/soap+xml"
	// ContentTypeTextXML is the MIME type for SOAP 1.1 and some error pages
	ContentTypeTextXML = "text/xml"
	// ContentTypeOctetStream is the Content-Type of compressed or encrypted parts
	ContentTypeOctetStream = "application/octet-stream"
)

// Part header names set on every attachment part.
const (
	HeaderCompressionType = "CompressionType"
	HeaderMimeType        = "MimeType"
)

// ErrUnsupportedContentType is returned by ReadMessage for bodies that are
// neither SOAP nor multipart/related.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Message represents a complete AS4 MIME message
type Message struct {
	Boundary    string
	StartID     string
	Envelope    []byte
	Attachments []*Attachment
}

// NewMessage creates a new MIME message with the given envelope and attachments
func NewMessage(envelope []byte, attachments []*Attachment) *Message {
	return &Message{
		Boundary:    generateBoundary(),
		StartID:     AddContentIDBrackets(uuid.NewString() + "@" + message.DefaultIDDomain),
		Envelope:    envelope,
		Attachments: attachments,
	}
}

// Serialize creates the complete MIME multipart message
func (m *Message) Serialize() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.SetBoundary(m.Boundary); err != nil {
		return nil, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	soapHeader := textproto.MIMEHeader{}
	soapHeader.Set("Content-Type", fmt.Sprintf("%s; charset=UTF-8", ContentTypeSOAPXML))
	soapHeader.Set("Content-Transfer-Encoding", "binary")
	soapHeader.Set("Content-ID", m.StartID)

	soapPart, err := writer.CreatePart(soapHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create SOAP part: %w", err)
	}
	if _, err := soapPart.Write(m.Envelope); err != nil {
		return nil, "", fmt.Errorf("failed to write SOAP part: %w", err)
	}

	for _, att := range m.Attachments {
		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Type", ContentTypeOctetStream)
		partHeader.Set("Content-Transfer-Encoding", "binary")
		partHeader.Set("Content-ID", AddContentIDBrackets(message.NormalizeContentID(att.ContentID)))
		if att.CompressionType != "" {
			partHeader.Set(HeaderCompressionType, att.CompressionType)
		}
		if att.MimeType != "" {
			partHeader.Set(HeaderMimeType, att.MimeType)
		}

		part, err := writer.CreatePart(partHeader)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	// The start parameter references the Content-ID without angle brackets
	contentType := mime.FormatMediaType(ContentTypeMultipartRelated, map[string]string{
		"boundary": m.Boundary,
		"type":     ContentTypeSOAPXML,
		"start":    GetContentIDWithoutBrackets(m.StartID),
	})

	return buf.Bytes(), contentType, nil
}

// Parse parses a MIME multipart message. The SOAP envelope is the part named
// by the start parameter, or the first part when start is absent.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart message: %s", mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	msg := &Message{
		Boundary: boundary,
		StartID:  params["start"],
	}
	start := message.NormalizeContentID(msg.StartID)

	reader := multipart.NewReader(r, boundary)
	first := true
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part data: %w", err)
		}

		contentID := message.NormalizeContentID(part.Header.Get("Content-ID"))
		isEnvelope := msg.Envelope == nil && ((start == "" && first) || (start != "" && contentID == start))
		first = false

		if isEnvelope {
			msg.Envelope = data
			continue
		}
		msg.Attachments = append(msg.Attachments, &Attachment{
			PayloadRef: message.PayloadRef{
				ContentID:       contentID,
				MimeType:        part.Header.Get(HeaderMimeType),
				CompressionType: part.Header.Get(HeaderCompressionType),
			},
			Data: data,
		})
	}

	if msg.Envelope == nil {
		return nil, fmt.Errorf("SOAP envelope not found in message")
	}
	return msg, nil
}

// ReadMessage interprets an HTTP body as either a bare SOAP envelope or a
// multipart/related SwA package.
func ReadMessage(r io.Reader, contentType string) (*Message, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	switch mediaType {
	case ContentTypeSOAPXML, ContentTypeTextXML, "application/xml":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read SOAP body: %w", err)
		}
		return &Message{Envelope: data}, nil
	case ContentTypeMultipartRelated:
		return Parse(r, contentType)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}
}

// generateBoundary generates a MIME boundary string
func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// GetContentIDWithoutBrackets removes < and > from Content-ID
func GetContentIDWithoutBrackets(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

// AddContentIDBrackets adds < and > to Content-ID if not present
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}
