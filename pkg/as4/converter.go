package as4

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/security"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
	"github.com/ShowKa/Oxalis-AS4/pkg/transport"
)

// Receipt validation errors.
var (
	ErrNoSignal         = errors.New("response carries no eb:SignalMessage")
	ErrNoReceipt        = errors.New("signal carries neither eb:Receipt nor eb:Error")
	ErrRefMismatch      = errors.New("receipt does not reference the sent message")
	ErrDigestMismatch   = errors.New("receipt digest does not match the signed message")
	ErrMissingDigest    = errors.New("receipt does not cover a signed reference")
	ErrEmptyReceipt     = errors.New("receipt carries neither non-repudiation information nor the user message")
	ErrUnsignedReceipt  = errors.New("receipt is not signed")
	ErrReceiptSignature = errors.New("receipt signature is invalid")
)

// ResponseConverter turns the peer's synchronous response into a receipt
// or a transmission error.
type ResponseConverter interface {
	Convert(sent *Outbound, raw *transport.RawResponse) (*transmission.Response, error)
}

// ReceiptConverter is the ResponseConverter for One-Way/Push receipts.
type ReceiptConverter struct {
	requireSigned bool
}

var _ ResponseConverter = (*ReceiptConverter)(nil)

// ConverterOption configures a ReceiptConverter.
type ConverterOption func(*ReceiptConverter)

// RequireSignedReceipt rejects receipts without a signature.
func RequireSignedReceipt(required bool) ConverterOption {
	return func(c *ReceiptConverter) {
		c.requireSigned = required
	}
}

// NewReceiptConverter creates a ReceiptConverter.
func NewReceiptConverter(opts ...ConverterOption) *ReceiptConverter {
	c := &ReceiptConverter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert interprets raw as the answer to sent. Peer errors become an
// ApplicationError. A receipt must reference sent.MessageID and either
// carry digests matching the signed references or echo the user message.
// Anything else is a MalformedResponseError.
func (c *ReceiptConverter) Convert(sent *Outbound, raw *transport.RawResponse) (*transmission.Response, error) {
	if sent == nil || raw == nil {
		return nil, transmission.NewMalformedResponseError(errors.New("nothing to convert"))
	}

	messaging, doc, err := message.ParseMessaging(raw.Envelope)
	if err != nil {
		if doc != nil {
			if reason := soapFault(doc); reason != "" {
				err = fmt.Errorf("%w: SOAP fault: %s", err, reason)
			}
		}
		return nil, missingReceipt(err)
	}

	signal := messaging.SignalMessage
	if signal == nil {
		return nil, missingReceipt(ErrNoSignal)
	}

	if len(signal.Errors) > 0 {
		codes := make([]transmission.PeerError, 0, len(signal.Errors))
		for _, e := range signal.Errors {
			codes = append(codes, transmission.PeerError{
				Code:                e.ErrorCode,
				Severity:            e.Severity,
				ShortDescription:    e.ShortDescription,
				Description:         strings.TrimSpace(e.Description),
				RefToMessageInError: e.RefToMessageInError,
			})
		}
		return nil, transmission.NewApplicationError(codes)
	}

	if signal.Receipt == nil {
		return nil, missingReceipt(ErrNoReceipt)
	}
	if signal.MessageInfo == nil || signal.MessageInfo.RefToMessageId != sent.MessageID {
		ref := ""
		if signal.MessageInfo != nil {
			ref = signal.MessageInfo.RefToMessageId
		}
		return nil, invalidReceipt(fmt.Errorf("%w: got %q, sent %q", ErrRefMismatch, ref, sent.MessageID))
	}

	signed, err := c.verifySignature(sent, doc)
	if err != nil {
		return nil, err
	}

	digests, err := checkReceiptContent(receiptElement(doc), sent)
	if err != nil {
		return nil, invalidReceipt(err)
	}

	return &transmission.Response{
		MessageID: sent.MessageID,
		ReceiptID: signal.MessageInfo.MessageId,
		Timestamp: signal.MessageInfo.Timestamp,
		Digests:   digests,
		Signed:    signed,
		Raw:       raw.Envelope,
	}, nil
}

func (c *ReceiptConverter) verifySignature(sent *Outbound, doc *etree.Document) (bool, error) {
	_, header, _, _ := message.SOAPParts(doc)
	sec := message.FindChild(header, message.NsWSSE, "Security")
	if message.FindChild(sec, message.NsDS, "Signature") == nil {
		if c.requireSigned {
			return false, invalidReceipt(ErrUnsignedReceipt)
		}
		return false, nil
	}
	if _, err := security.NewVerifier(sent.Endpoint).Verify(doc, nil); err != nil {
		err = fmt.Errorf("%w: %w", ErrReceiptSignature, err)
		if errors.Is(err, security.ErrCertificateMismatch) {
			return false, transmission.NewMalformedResponseError(err, transmission.ErrorFailedAuthentication.AsPeerError(err.Error()))
		}
		return false, invalidReceipt(err)
	}
	return true, nil
}

// receiptElement returns the eb:Receipt of the signal in the eb:Messaging
// header block, the element the signature check covered.
func receiptElement(doc *etree.Document) *etree.Element {
	_, header, _, _ := message.SOAPParts(doc)
	messaging := message.FindChild(header, message.NsEbMS, "Messaging")
	signal := message.FindChild(messaging, message.NsEbMS, "SignalMessage")
	return message.FindChild(signal, message.NsEbMS, "Receipt")
}

// checkReceiptContent accepts ebbp:NonRepudiationInformation covering every
// signed reference with an equal digest, or an echoed UserMessage with the
// sent id.
func checkReceiptContent(receipt *etree.Element, sent *Outbound) ([]transmission.Digest, error) {
	if nri := message.FindChild(receipt, message.NsEbbp, "NonRepudiationInformation"); nri != nil {
		got := make(map[string]transmission.Digest)
		var digests []transmission.Digest
		for _, part := range nri.ChildElements() {
			if part.Tag != "MessagePartNRInformation" || part.NamespaceURI() != message.NsEbbp {
				continue
			}
			ref := message.FindChild(part, message.NsDS, "Reference")
			if ref == nil {
				continue
			}
			d := transmission.Digest{URI: ref.SelectAttrValue("URI", "")}
			if m := message.FindChild(ref, message.NsDS, "DigestMethod"); m != nil {
				d.Algorithm = m.SelectAttrValue("Algorithm", "")
			}
			if v := message.FindChild(ref, message.NsDS, "DigestValue"); v != nil {
				d.Value = strings.TrimSpace(v.Text())
			}
			got[d.URI] = d
			digests = append(digests, d)
		}
		for _, want := range sent.References {
			d, ok := got[want.URI]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingDigest, want.URI)
			}
			if d.Value != want.Value || (d.Algorithm != "" && d.Algorithm != want.Algorithm) {
				return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, want.URI)
			}
		}
		return digests, nil
	}

	if um := message.FindChild(receipt, message.NsEbMS, "UserMessage"); um != nil {
		id := message.FindDescendant(um, message.NsEbMS, "MessageId")
		if id == nil || strings.TrimSpace(id.Text()) != sent.MessageID {
			return nil, fmt.Errorf("%w: echoed user message has a different id", ErrRefMismatch)
		}
		return nil, nil
	}

	return nil, ErrEmptyReceipt
}

func soapFault(doc *etree.Document) string {
	_, _, body, _ := message.SOAPParts(doc)
	fault := message.FindChild(body, message.NsSOAPEnv, "Fault")
	if fault == nil {
		return ""
	}
	if text := message.FindDescendant(fault, message.NsSOAPEnv, "Text"); text != nil {
		return strings.TrimSpace(text.Text())
	}
	return "unknown"
}

func missingReceipt(err error) *transmission.Error {
	return transmission.NewMalformedResponseError(err, transmission.ErrorMissingReceipt.AsPeerError(err.Error()))
}

func invalidReceipt(err error) *transmission.Error {
	return transmission.NewMalformedResponseError(err, transmission.ErrorInvalidReceipt.AsPeerError(err.Error()))
}
