package as4

import (
	"crypto/x509"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// Outbound is what one transmission sent: the request, the header that was
// built for it and the references the signature covered. It is created
// once the message has been secured and is not modified afterwards.
type Outbound struct {
	Request   *transmission.Request
	MessageID string
	Header    *message.Messaging
	// Attachments are the compressed payloads as signed, before any
	// encryption.
	Attachments []*mime.Attachment
	References  []transmission.Digest
	// Endpoint is the certificate the peer's signals must be signed with.
	Endpoint *x509.Certificate
}

func newOutbound(req *transmission.Request, header *message.Messaging, atts []*mime.Attachment, refs []transmission.Digest) *Outbound {
	o := &Outbound{
		Request:     req,
		Header:      header,
		Attachments: atts,
		References:  refs,
		Endpoint:    req.Endpoint.Certificate,
	}
	if header != nil && header.UserMessage != nil && header.UserMessage.MessageInfo != nil {
		o.MessageID = header.UserMessage.MessageInfo.MessageId
	}
	return o
}
