package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
)

// Algorithm and profile URIs
const (
	AlgorithmRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmRSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgorithmRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"

	AlgorithmSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmSHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	AlgorithmSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	AlgorithmExcC14N = "http://www.w3.org/2001/10/xml-exc-c14n#"

	TransformAttachmentContentSignature = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Signature-Transform"
	TransformAttachmentCiphertext       = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Ciphertext-Transform"
	TypeAttachmentContentOnly           = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Only"

	ValueTypeX509v3         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	ValueTypeSKI            = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509SubjectKeyIdentifier"
	ValueTypeThumbprint     = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#ThumbprintSHA1"
	TokenTypeEncryptedKey   = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#EncryptedKey"
	EncodingTypeBase64      = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
	NsWSSE11                = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	c14nSignedInfoPrefixes  = "env"
	inclusiveNamespacesTmpl = `<ec:InclusiveNamespaces xmlns:ec="http://www.w3.org/2001/10/xml-exc-c14n#" PrefixList="%s"/>`
)

// generateID returns 16 random bytes, hex encoded.
func generateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("security: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// hashFor maps a digest algorithm URI to its crypto.Hash.
func hashFor(uri string) (crypto.Hash, error) {
	switch uri {
	case AlgorithmSHA256:
		return crypto.SHA256, nil
	case AlgorithmSHA384:
		return crypto.SHA384, nil
	case AlgorithmSHA512:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported digest algorithm %q", uri)
}

// signatureHashFor maps a signature algorithm URI to its crypto.Hash.
func signatureHashFor(uri string) (crypto.Hash, error) {
	switch uri {
	case AlgorithmRSASHA256:
		return crypto.SHA256, nil
	case AlgorithmRSASHA384:
		return crypto.SHA384, nil
	case AlgorithmRSASHA512:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported signature algorithm %q", uri)
}

func digestURI(h pmode.HashAlgorithm) string {
	if h == "" {
		return AlgorithmSHA256
	}
	return string(h)
}

func signatureURI(a pmode.SignatureAlgorithm) string {
	if a == "" {
		return AlgorithmRSASHA256
	}
	return string(a)
}

// wsuID returns the wsu:Id (or plain Id) of e, or "".
func wsuID(e *etree.Element) string {
	for _, a := range e.Attr {
		if a.Key != "Id" {
			continue
		}
		if a.Space == "" || a.NamespaceURI() == message.NsWSU {
			return a.Value
		}
	}
	return ""
}

// ensureWSUId gives e a wsu:Id if it has none and returns the id.
func ensureWSUId(e *etree.Element, prefix string) string {
	if id := wsuID(e); id != "" {
		return id
	}
	if e.SelectAttr("xmlns:wsu") == nil {
		e.CreateAttr("xmlns:wsu", message.NsWSU)
	}
	id := prefix + generateID()
	e.CreateAttr("wsu:Id", id)
	return id
}

// findByID searches the document for the element carrying the given id.
func findByID(root *etree.Element, id string) *etree.Element {
	if wsuID(root) == id {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
