package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// Verification errors
var (
	ErrNoSignature          = errors.New("ds:Signature not found")
	ErrDigestMismatch       = errors.New("reference digest mismatch")
	ErrSignatureInvalid     = errors.New("signature value does not verify")
	ErrReferenceNotFound    = errors.New("referenced element not found")
	ErrUnsignedPart         = errors.New("message part is not covered by the signature")
	ErrCertificateMismatch  = errors.New("signing certificate does not match the expected certificate")
	ErrUnsupportedTransform = errors.New("unsupported reference transform")
	ErrDuplicateID          = errors.New("element id is not unique")
)

// Verifier checks a WS-Security signature over an AS4 envelope and its
// attachments.
type Verifier struct {
	cert *x509.Certificate
}

// NewVerifier returns a verifier. When cert is set, the signature must have
// been made with it; otherwise the certificate embedded in the message's
// BinarySecurityToken is used.
func NewVerifier(cert *x509.Certificate) *Verifier {
	return &Verifier{cert: cert}
}

// VerifyEnvelope parses envelope and verifies it with Verify.
func (v *Verifier) VerifyEnvelope(envelope []byte, attachments []*mime.Attachment) ([]transmission.Digest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, fmt.Errorf("parsing SOAP envelope: %w", err)
	}
	return v.Verify(doc, attachments)
}

// Verify recomputes every reference digest and the signature value. The
// SOAP body, the eb:Messaging header and every attachment given must be
// covered, and ids must be unique within the envelope so that a reference
// resolves to the element callers go on to read. It returns the verified
// references.
func (v *Verifier) Verify(doc *etree.Document, attachments []*mime.Attachment) ([]transmission.Digest, error) {
	env, header, body, err := message.SOAPParts(doc)
	if err != nil {
		return nil, err
	}
	sec := message.FindChild(header, message.NsWSSE, "Security")
	if sec == nil {
		return nil, ErrNoSecurityHeader
	}
	sig := message.FindChild(sec, message.NsDS, "Signature")
	if sig == nil {
		return nil, ErrNoSignature
	}
	signedInfo := message.FindChild(sig, message.NsDS, "SignedInfo")
	sigValue := message.FindChild(sig, message.NsDS, "SignatureValue")
	if signedInfo == nil || sigValue == nil {
		return nil, fmt.Errorf("%w: incomplete ds:Signature", ErrNoSignature)
	}

	cert, err := v.signingCertificate(sec, sig)
	if err != nil {
		return nil, err
	}

	if id := duplicateID(env); id != "" {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	covered := make(map[string]bool)
	var refs []transmission.Digest
	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag != "Reference" || ref.NamespaceURI() != message.NsDS {
			continue
		}
		d, err := verifyReference(env, ref, attachments)
		if err != nil {
			return nil, err
		}
		covered[d.URI] = true
		refs = append(refs, d)
	}

	if !isCovered(env, body, covered) {
		return nil, fmt.Errorf("%w: SOAP Body", ErrUnsignedPart)
	}
	if !isCovered(env, message.FindChild(header, message.NsEbMS, "Messaging"), covered) {
		return nil, fmt.Errorf("%w: eb:Messaging", ErrUnsignedPart)
	}
	for _, att := range attachments {
		if !covered[att.Href()] {
			return nil, fmt.Errorf("%w: %s", ErrUnsignedPart, att.Href())
		}
	}

	method := message.FindChild(signedInfo, message.NsDS, "SignatureMethod")
	if method == nil {
		return nil, fmt.Errorf("%w: no SignatureMethod", ErrSignatureInvalid)
	}
	h, err := signatureHashFor(method.SelectAttrValue("Algorithm", ""))
	if err != nil {
		return nil, err
	}
	canonical, err := canonicalize(signedInfo, inclusivePrefixes(signedInfo))
	if err != nil {
		return nil, fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValue.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: certificate does not contain an RSA public key", ErrSignatureInvalid)
	}
	if err := rsa.VerifyPKCS1v15(pub, h, digest(h, canonical), value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return refs, nil
}

func verifyReference(env *etree.Element, ref *etree.Element, attachments []*mime.Attachment) (transmission.Digest, error) {
	uri := ref.SelectAttrValue("URI", "")
	method := message.FindChild(ref, message.NsDS, "DigestMethod")
	value := message.FindChild(ref, message.NsDS, "DigestValue")
	if method == nil || value == nil {
		return transmission.Digest{}, fmt.Errorf("reference %s: missing digest", uri)
	}
	alg := method.SelectAttrValue("Algorithm", "")
	h, err := hashFor(alg)
	if err != nil {
		return transmission.Digest{}, err
	}

	var computed []byte
	switch {
	case strings.HasPrefix(uri, "#"):
		if t := transformOf(ref); t != AlgorithmExcC14N {
			return transmission.Digest{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedTransform, t, uri)
		}
		target := findByID(env, uri[1:])
		if target == nil {
			return transmission.Digest{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, uri)
		}
		canonical, err := canonicalize(target, "")
		if err != nil {
			return transmission.Digest{}, fmt.Errorf("canonicalizing %s: %w", uri, err)
		}
		computed = digest(h, canonical)

	case strings.HasPrefix(uri, "cid:"):
		if t := transformOf(ref); t != TransformAttachmentContentSignature {
			return transmission.Digest{}, fmt.Errorf("%w: %s", ErrUnsupportedTransform, t)
		}
		var att *mime.Attachment
		for _, a := range attachments {
			if a.Href() == uri {
				att = a
				break
			}
		}
		if att == nil {
			return transmission.Digest{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, uri)
		}
		computed = digest(h, att.Data)

	default:
		return transmission.Digest{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, uri)
	}

	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value.Text()))
	if err != nil || !bytes.Equal(expected, computed) {
		return transmission.Digest{}, fmt.Errorf("%w: %s", ErrDigestMismatch, uri)
	}
	return transmission.Digest{URI: uri, Algorithm: alg, Value: base64.StdEncoding.EncodeToString(computed)}, nil
}

// isCovered reports whether e is the element a verified reference resolved
// to.
func isCovered(env, e *etree.Element, covered map[string]bool) bool {
	if e == nil {
		return false
	}
	id := wsuID(e)
	return id != "" && covered["#"+id] && findByID(env, id) == e
}

// duplicateID returns the first id carried by more than one element below
// root.
func duplicateID(root *etree.Element) string {
	seen := make(map[string]bool)
	var walk func(e *etree.Element) string
	walk = func(e *etree.Element) string {
		if id := wsuID(e); id != "" {
			if seen[id] {
				return id
			}
			seen[id] = true
		}
		for _, c := range e.ChildElements() {
			if dup := walk(c); dup != "" {
				return dup
			}
		}
		return ""
	}
	return walk(root)
}

func transformOf(ref *etree.Element) string {
	transforms := message.FindChild(ref, message.NsDS, "Transforms")
	if transforms == nil {
		return ""
	}
	if t := message.FindChild(transforms, message.NsDS, "Transform"); t != nil {
		return t.SelectAttrValue("Algorithm", "")
	}
	return ""
}

// inclusivePrefixes returns the InclusiveNamespaces PrefixList declared on
// the SignedInfo canonicalization method.
func inclusivePrefixes(signedInfo *etree.Element) string {
	method := message.FindChild(signedInfo, message.NsDS, "CanonicalizationMethod")
	if method == nil {
		return ""
	}
	for _, c := range method.ChildElements() {
		if c.Tag == "InclusiveNamespaces" {
			return c.SelectAttrValue("PrefixList", "")
		}
	}
	return ""
}

// signingCertificate resolves the certificate the signature claims and
// checks it against the expected one.
func (v *Verifier) signingCertificate(sec, sig *etree.Element) (*x509.Certificate, error) {
	keyInfo := message.FindChild(sig, message.NsDS, "KeyInfo")
	var str *etree.Element
	if keyInfo != nil {
		str = message.FindChild(keyInfo, message.NsWSSE, "SecurityTokenReference")
	}

	var embedded *x509.Certificate
	if str != nil {
		if ref := message.FindChild(str, message.NsWSSE, "Reference"); ref != nil {
			uri := ref.SelectAttrValue("URI", "")
			bst := findByID(sec, strings.TrimPrefix(uri, "#"))
			if bst == nil || bst.Tag != "BinarySecurityToken" {
				return nil, fmt.Errorf("%w: token %s", ErrReferenceNotFound, uri)
			}
			der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(bst.Text()))
			if err != nil {
				return nil, fmt.Errorf("decoding BinarySecurityToken: %w", err)
			}
			embedded, err = x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("parsing BinarySecurityToken: %w", err)
			}
		}
	}

	switch {
	case v.cert == nil && embedded == nil:
		return nil, fmt.Errorf("%w: no certificate to verify with", ErrCertificateMismatch)
	case v.cert == nil:
		return embedded, nil
	case embedded != nil:
		if !embedded.Equal(v.cert) {
			return nil, ErrCertificateMismatch
		}
	case str != nil && !matchesTokenReference(str, v.cert):
		return nil, ErrCertificateMismatch
	}
	return v.cert, nil
}
