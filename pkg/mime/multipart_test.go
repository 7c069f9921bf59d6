package mime

import (
	"bytes"
	"errors"
	"io"
	stdmime "mime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShowKa/Oxalis-AS4/pkg/compression"
	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

type trackingReader struct {
	io.Reader
	closed   bool
	closeErr error
}

func (r *trackingReader) Close() error {
	r.closed = true
	return r.closeErr
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestAttachmentBuilder_Prepare(t *testing.T) {
	payload := []byte("<Invoice>X</Invoice>")
	src := &trackingReader{Reader: bytes.NewReader(payload)}

	att, err := NewAttachmentBuilder().Prepare(src, "")
	require.NoError(t, err)
	require.NotNil(t, att)

	assert.True(t, src.closed)
	assert.NotEmpty(t, att.ContentID)
	assert.Equal(t, "application/xml", att.MimeType)
	assert.Equal(t, compression.CompressionTypeGzip, att.CompressionType)
	assert.Equal(t, att.PayloadRef, att.Ref())

	plain, err := compression.NewCompressor().Decompress(att.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestAttachmentBuilder_UniqueContentIDs(t *testing.T) {
	b := NewAttachmentBuilder()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		att, err := b.Prepare(strings.NewReader("x"), "text/plain")
		require.NoError(t, err)
		assert.False(t, seen[att.ContentID])
		seen[att.ContentID] = true
		assert.Equal(t, "text/plain", att.MimeType)
	}
}

func TestAttachmentBuilder_ReadFailure(t *testing.T) {
	src := &trackingReader{Reader: brokenReader{}}

	att, err := NewAttachmentBuilder().Prepare(src, "")
	require.Error(t, err)
	assert.Nil(t, att)
	assert.True(t, src.closed)
	assert.True(t, transmission.IsKind(err, transmission.KindCompression))
	assert.Contains(t, err.Error(), "read failed")
}

func TestAttachmentBuilder_CloseFailure(t *testing.T) {
	src := &trackingReader{Reader: strings.NewReader("payload"), closeErr: errors.New("close failed")}

	att, err := NewAttachmentBuilder().Prepare(src, "")
	require.Error(t, err)
	assert.Nil(t, att)
	assert.True(t, transmission.IsKind(err, transmission.KindCompression))
	assert.Contains(t, err.Error(), "close failed")
}

func TestAttachmentBuilder_NilPayload(t *testing.T) {
	_, err := NewAttachmentBuilder().Prepare(nil, "")
	assert.True(t, transmission.IsKind(err, transmission.KindCompression))
}

type fixedIDs string

func (f fixedIDs) Generate() string { return string(f) }

func TestAttachmentBuilder_EmptyContentID(t *testing.T) {
	_, err := NewAttachmentBuilder(WithContentIDGenerator(fixedIDs(""))).Prepare(strings.NewReader("x"), "")
	assert.True(t, transmission.IsKind(err, transmission.KindCompression))
}

func TestMessage_SerializeAndParse(t *testing.T) {
	envelope := []byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Header/><env:Body/></env:Envelope>`)
	atts := []*Attachment{
		{PayloadRef: message.PayloadRef{ContentID: "a@test", MimeType: "application/xml", CompressionType: "application/gzip"}, Data: []byte{0x1f, 0x8b, 0x00, 0xff}},
		{PayloadRef: message.PayloadRef{ContentID: "b@test", MimeType: "text/plain"}, Data: []byte("second")},
	}

	msg := NewMessage(envelope, atts)
	body, contentType, err := msg.Serialize()
	require.NoError(t, err)

	mediaType, params, err := stdmime.ParseMediaType(contentType)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeMultipartRelated, mediaType)
	assert.Equal(t, ContentTypeSOAPXML, params["type"])
	assert.Equal(t, GetContentIDWithoutBrackets(msg.StartID), params["start"])
	assert.Equal(t, msg.Boundary, params["boundary"])

	s := string(body)
	assert.Contains(t, s, "Content-Id: <a@test>")
	assert.Contains(t, s, "Compressiontype: application/gzip")
	assert.Contains(t, s, "Mimetype: application/xml")

	parsed, err := Parse(bytes.NewReader(body), contentType)
	require.NoError(t, err)
	assert.Equal(t, envelope, parsed.Envelope)
	require.Len(t, parsed.Attachments, 2)
	assert.Equal(t, "a@test", parsed.Attachments[0].ContentID)
	assert.Equal(t, "application/gzip", parsed.Attachments[0].CompressionType)
	assert.Equal(t, "application/xml", parsed.Attachments[0].MimeType)
	assert.Equal(t, atts[0].Data, parsed.Attachments[0].Data)
	assert.Equal(t, "b@test", parsed.Attachments[1].ContentID)
	assert.Equal(t, []byte("second"), parsed.Attachments[1].Data)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader(""), "text/plain")
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(""), "multipart/related")
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("--b--\r\n"), `multipart/related; boundary="b"`)
	assert.Error(t, err)
}

func TestReadMessage(t *testing.T) {
	soap := []byte("<env:Envelope/>")

	m, err := ReadMessage(bytes.NewReader(soap), "application/soap+xml; charset=UTF-8")
	require.NoError(t, err)
	assert.Equal(t, soap, m.Envelope)
	assert.Empty(t, m.Attachments)

	body, ct, err := NewMessage(soap, nil).Serialize()
	require.NoError(t, err)
	m, err = ReadMessage(bytes.NewReader(body), ct)
	require.NoError(t, err)
	assert.Equal(t, soap, m.Envelope)

	_, err = ReadMessage(strings.NewReader("<html/>"), "text/html")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)

	_, err = ReadMessage(strings.NewReader(""), "")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestContentIDBrackets(t *testing.T) {
	assert.Equal(t, "<x@y>", AddContentIDBrackets("x@y"))
	assert.Equal(t, "<x@y>", AddContentIDBrackets("<x@y>"))
	assert.Equal(t, "x@y", GetContentIDWithoutBrackets("<x@y>"))
}

func TestRefs(t *testing.T) {
	atts := []*Attachment{
		{PayloadRef: message.PayloadRef{ContentID: "1"}},
		{PayloadRef: message.PayloadRef{ContentID: "2"}},
	}
	refs := Refs(atts)
	require.Len(t, refs, 2)
	assert.Equal(t, "2", refs[1].ContentID)
}
