package transmission

import (
	"crypto/x509"
	"errors"
	"io"
	"net/url"
)

// DefaultPayloadMimeType is the MimeType part property used when a request
// does not name one.
const DefaultPayloadMimeType = "application/xml"

// Endpoint identifies the receiving Access Point.
type Endpoint struct {
	// Address is the published HTTP(S) address of the peer.
	Address string
	// Certificate is the peer's published certificate. It is the only
	// certificate attachments may be encrypted for.
	Certificate *x509.Certificate
}

// PartyID is an ebMS party identifier with an optional type.
type PartyID struct {
	Type  string
	Value string
}

// Service identifies the business service of a collaboration.
type Service struct {
	Type  string
	Value string
}

// Property is a name/value pair carried as an eb:MessageProperties entry.
type Property struct {
	Name  string
	Type  string
	Value string
}

// Request is everything one transmission needs. A Request must not be
// modified once it has been handed to a sender.
type Request struct {
	Endpoint Endpoint
	Payload  io.Reader

	// PayloadMimeType overrides DefaultPayloadMimeType.
	PayloadMimeType string

	Sender   PartyID
	Receiver PartyID
	Service  Service
	Action   string

	ConversationID    string
	AgreementRef      string
	MessageProperties []Property
}

// Validation errors returned by Request.Validate.
var (
	ErrMissingEndpoint    = errors.New("endpoint address is required")
	ErrInvalidEndpoint    = errors.New("endpoint address is not an absolute http(s) URL")
	ErrMissingCertificate = errors.New("endpoint certificate is required")
	ErrMissingPayload     = errors.New("payload is required")
	ErrMissingSender      = errors.New("sender party ID is required")
	ErrMissingReceiver    = errors.New("receiver party ID is required")
	ErrMissingService     = errors.New("service is required")
	ErrMissingAction      = errors.New("action is required")
)

// Validate checks that all mandatory request fields are present.
func (r *Request) Validate() error {
	if r.Endpoint.Address == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(r.Endpoint.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidEndpoint
	}
	if r.Endpoint.Certificate == nil {
		return ErrMissingCertificate
	}
	if r.Payload == nil {
		return ErrMissingPayload
	}
	if r.Sender.Value == "" {
		return ErrMissingSender
	}
	if r.Receiver.Value == "" {
		return ErrMissingReceiver
	}
	if r.Service.Value == "" {
		return ErrMissingService
	}
	if r.Action == "" {
		return ErrMissingAction
	}
	return nil
}

// MimeType returns the payload MIME type with the default applied.
func (r *Request) MimeType() string {
	if r.PayloadMimeType == "" {
		return DefaultPayloadMimeType
	}
	return r.PayloadMimeType
}
