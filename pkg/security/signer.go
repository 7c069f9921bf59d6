package security

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

var (
	ErrNoSecurityHeader = errors.New("wsse:Security header not found")
	ErrNoSKI            = errors.New("certificate has no Subject Key Identifier extension")
)

// canonicalize renders e with Exclusive XML Canonicalization. e is detached
// first so namespace prefixes declared on its ancestors stay resolvable.
func canonicalize(e *etree.Element, prefixList string) ([]byte, error) {
	transform := ""
	if prefixList != "" {
		transform = fmt.Sprintf(inclusiveNamespacesTmpl, prefixList)
	}
	c14n := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := c14n.ProcessElement(message.DetachElement(e), transform)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func digest(h crypto.Hash, data []byte) []byte {
	w := h.New()
	w.Write(data)
	return w.Sum(nil)
}

// securityHeader returns the wsse:Security header of doc, creating it when
// create is set.
func securityHeader(doc *etree.Document, create bool) (*etree.Element, error) {
	_, header, _, err := message.SOAPParts(doc)
	if err != nil {
		return nil, err
	}
	if sec := message.FindChild(header, message.NsWSSE, "Security"); sec != nil {
		return sec, nil
	}
	if !create {
		return nil, ErrNoSecurityHeader
	}
	sec := header.CreateElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", message.NsWSSE)
	sec.CreateAttr("xmlns:wsu", message.NsWSU)
	sec.CreateAttr("env:mustUnderstand", "true")
	return sec, nil
}

// AddTimestamp adds a wsu:Timestamp to the Security header.
func AddTimestamp(doc *etree.Document, created time.Time, ttl time.Duration) (*etree.Element, error) {
	sec, err := securityHeader(doc, true)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = pmode.DefaultTimestampTTL
	}
	created = created.UTC().Truncate(time.Millisecond)

	ts := sec.CreateElement("wsu:Timestamp")
	ts.CreateAttr("wsu:Id", "TS-"+generateID())
	ts.CreateElement("wsu:Created").SetText(created.Format("2006-01-02T15:04:05.000Z"))
	ts.CreateElement("wsu:Expires").SetText(created.Add(ttl).Format("2006-01-02T15:04:05.000Z"))
	return ts, nil
}

// SwASigner signs an AS4 envelope together with its attachments following
// the WS-Security SOAP with Attachments profile. References cover the SOAP
// body, the eb:Messaging header, the wsu:Timestamp if present and every
// attachment through the Attachment-Content-Signature-Transform.
type SwASigner struct {
	key  crypto.Signer
	cert *x509.Certificate
	cfg  pmode.SignConfig
}

// NewSwASigner creates a signer. The key's public half must match cert.
func NewSwASigner(key crypto.Signer, cert *x509.Certificate, cfg *pmode.SignConfig) (*SwASigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cert == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("sign configuration is required")
	}
	if _, err := signatureHashFor(signatureURI(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if _, err := hashFor(digestURI(cfg.HashFunction)); err != nil {
		return nil, err
	}
	return &SwASigner{key: key, cert: cert, cfg: *cfg}, nil
}

// Sign adds a ds:Signature to the Security header of doc and returns the
// references it signed, in SignedInfo order.
func (s *SwASigner) Sign(doc *etree.Document, attachments []*mime.Attachment) ([]transmission.Digest, error) {
	_, header, body, err := message.SOAPParts(doc)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("SOAP Body not found")
	}
	sec, err := securityHeader(doc, true)
	if err != nil {
		return nil, err
	}

	digestAlg := digestURI(s.cfg.HashFunction)
	digestHash, _ := hashFor(digestAlg)
	sigAlg := signatureURI(s.cfg.Algorithm)
	sigHash, _ := signatureHashFor(sigAlg)

	var targets []*etree.Element
	if s.cfg.SignBody {
		targets = append(targets, body)
	}
	if s.cfg.SignMessaging {
		messaging := message.FindChild(header, message.NsEbMS, "Messaging")
		if messaging == nil {
			return nil, message.ErrNoMessaging
		}
		targets = append(targets, messaging)
	}
	if ts := message.FindChild(sec, message.NsWSU, "Timestamp"); ts != nil {
		targets = append(targets, ts)
	}

	bstID := "X509-" + generateID()
	if s.cfg.TokenReference == "" || s.cfg.TokenReference == pmode.TokenRefBinarySecurityToken {
		bst := sec.CreateElement("wsse:BinarySecurityToken")
		bst.CreateAttr("EncodingType", EncodingTypeBase64)
		bst.CreateAttr("ValueType", ValueTypeX509v3)
		bst.CreateAttr("wsu:Id", bstID)
		bst.SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", message.NsDS)
	sig.CreateAttr("Id", "SIG-"+generateID())

	signedInfo := sig.CreateElement("ds:SignedInfo")
	c14n := signedInfo.CreateElement("ds:CanonicalizationMethod")
	c14n.CreateAttr("Algorithm", AlgorithmExcC14N)
	incl := c14n.CreateElement("ec:InclusiveNamespaces")
	incl.CreateAttr("xmlns:ec", AlgorithmExcC14N)
	incl.CreateAttr("PrefixList", c14nSignedInfoPrefixes)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", sigAlg)

	var refs []transmission.Digest
	for _, el := range targets {
		id := ensureWSUId(el, "id-")
		canonical, err := canonicalize(el, "")
		if err != nil {
			return nil, fmt.Errorf("canonicalizing #%s: %w", id, err)
		}
		ref := addReference(signedInfo, "#"+id, AlgorithmExcC14N, digestAlg, digest(digestHash, canonical))
		refs = append(refs, ref)
	}

	if s.cfg.SignAttachments {
		for _, att := range attachments {
			ref := addReference(signedInfo, att.Href(), TransformAttachmentContentSignature, digestAlg, digest(digestHash, att.Data))
			refs = append(refs, ref)
		}
	}

	// SignedInfo is canonicalized in place so the result matches what a
	// verifier computes over the serialized envelope.
	sec.AddChild(sig)
	canonical, err := canonicalize(signedInfo, c14nSignedInfoPrefixes)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}
	value, err := s.key.Sign(rand.Reader, digest(sigHash, canonical), sigHash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	keyInfo := sig.CreateElement("ds:KeyInfo")
	if err := addTokenReference(keyInfo, s.cert, s.cfg.TokenReference, bstID); err != nil {
		return nil, err
	}
	return refs, nil
}

func addReference(signedInfo *etree.Element, uri, transformAlg, digestAlg string, value []byte) transmission.Digest {
	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", uri)
	ref.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", transformAlg)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", digestAlg)
	encoded := base64.StdEncoding.EncodeToString(value)
	ref.CreateElement("ds:DigestValue").SetText(encoded)
	return transmission.Digest{URI: uri, Algorithm: digestAlg, Value: encoded}
}

// addTokenReference writes a wsse:SecurityTokenReference for cert into
// keyInfo using the requested method.
func addTokenReference(keyInfo *etree.Element, cert *x509.Certificate, method pmode.TokenReferenceMethod, bstID string) error {
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	str.CreateAttr("xmlns:wsse", message.NsWSSE)

	switch method {
	case "", pmode.TokenRefBinarySecurityToken:
		ref := str.CreateElement("wsse:Reference")
		ref.CreateAttr("URI", "#"+bstID)
		ref.CreateAttr("ValueType", ValueTypeX509v3)

	case pmode.TokenRefKeyIdentifier:
		if len(cert.SubjectKeyId) == 0 {
			return ErrNoSKI
		}
		kid := str.CreateElement("wsse:KeyIdentifier")
		kid.CreateAttr("EncodingType", EncodingTypeBase64)
		kid.CreateAttr("ValueType", ValueTypeSKI)
		kid.SetText(base64.StdEncoding.EncodeToString(cert.SubjectKeyId))

	case pmode.TokenRefIssuerSerial:
		data := str.CreateElement("ds:X509Data")
		data.CreateAttr("xmlns:ds", message.NsDS)
		is := data.CreateElement("ds:X509IssuerSerial")
		is.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
		is.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	case pmode.TokenRefThumbprint:
		sum := sha1.Sum(cert.Raw)
		kid := str.CreateElement("wsse:KeyIdentifier")
		kid.CreateAttr("EncodingType", EncodingTypeBase64)
		kid.CreateAttr("ValueType", ValueTypeThumbprint)
		kid.SetText(base64.StdEncoding.EncodeToString(sum[:]))

	default:
		return fmt.Errorf("unsupported token reference method %q", method)
	}
	return nil
}

// matchesTokenReference reports whether str identifies cert.
func matchesTokenReference(str *etree.Element, cert *x509.Certificate) bool {
	if kid := message.FindChild(str, message.NsWSSE, "KeyIdentifier"); kid != nil {
		value, err := base64.StdEncoding.DecodeString(kid.Text())
		if err != nil {
			return false
		}
		switch kid.SelectAttrValue("ValueType", "") {
		case ValueTypeSKI:
			return bytes.Equal(value, cert.SubjectKeyId)
		case ValueTypeThumbprint:
			sum := sha1.Sum(cert.Raw)
			return bytes.Equal(value, sum[:])
		}
		return false
	}
	if is := message.FindDescendant(str, message.NsDS, "X509IssuerSerial"); is != nil {
		name := message.FindChild(is, message.NsDS, "X509IssuerName")
		serial := message.FindChild(is, message.NsDS, "X509SerialNumber")
		return name != nil && serial != nil &&
			name.Text() == cert.Issuer.String() && serial.Text() == cert.SerialNumber.String()
	}
	return false
}
