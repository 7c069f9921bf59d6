package message

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/beevik/etree"
)

// Envelope parsing errors.
var (
	ErrNotSOAPEnvelope = errors.New("document is not a SOAP 1.2 envelope")
	ErrNoHeader        = errors.New("SOAP header not found")
	ErrNoMessaging     = errors.New("eb:Messaging header not found")
)

// NewEnvelope returns a SOAP 1.2 envelope with the given Messaging element
// in its header and an empty body. AS4 carries payloads as attachments.
func NewEnvelope(messaging *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("env:Envelope")
	env.CreateAttr("xmlns:env", NsSOAPEnv)
	header := env.CreateElement("env:Header")
	if messaging != nil {
		header.AddChild(messaging)
	}
	env.CreateElement("env:Body")
	return doc
}

// FindChild returns the first child of parent with the given namespace and
// local name.
func FindChild(parent *etree.Element, namespace, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == namespace {
			return c
		}
	}
	return nil
}

// FindDescendant returns the first element below parent, in document order,
// with the given namespace and local name.
func FindDescendant(parent *etree.Element, namespace, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == namespace {
			return c
		}
		if found := FindDescendant(c, namespace, local); found != nil {
			return found
		}
	}
	return nil
}

// SOAPParts returns the Envelope, Header and Body elements of doc.
func SOAPParts(doc *etree.Document) (envelope, header, body *etree.Element, err error) {
	envelope = doc.Root()
	if envelope == nil || envelope.Tag != "Envelope" || envelope.NamespaceURI() != NsSOAPEnv {
		return nil, nil, nil, ErrNotSOAPEnvelope
	}
	header = FindChild(envelope, NsSOAPEnv, "Header")
	body = FindChild(envelope, NsSOAPEnv, "Body")
	if header == nil {
		return envelope, nil, body, ErrNoHeader
	}
	return envelope, header, body, nil
}

// DetachElement returns a copy of e that redeclares every namespace prefix
// in scope at e, so the copy can be serialized or canonicalized on its own.
func DetachElement(e *etree.Element) *etree.Element {
	c := e.Copy()
	for p := e.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			var key string
			switch {
			case a.Space == "xmlns":
				key = "xmlns:" + a.Key
			case a.Space == "" && a.Key == "xmlns":
				key = "xmlns"
			default:
				continue
			}
			if c.SelectAttr(key) == nil {
				c.CreateAttr(key, a.Value)
			}
		}
	}
	return c
}

// ParseMessaging parses a SOAP envelope and decodes its eb:Messaging header.
// The parsed document is returned for further processing such as signature
// verification.
func ParseMessaging(envelope []byte) (*Messaging, *etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, nil, fmt.Errorf("parsing SOAP envelope: %w", err)
	}

	_, header, _, err := SOAPParts(doc)
	if err != nil {
		return nil, doc, err
	}

	el := FindChild(header, NsEbMS, "Messaging")
	if el == nil {
		return nil, doc, ErrNoMessaging
	}

	standalone := etree.NewDocument()
	standalone.SetRoot(DetachElement(el))
	data, err := standalone.WriteToBytes()
	if err != nil {
		return nil, doc, fmt.Errorf("serializing eb:Messaging: %w", err)
	}

	var m Messaging
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, doc, fmt.Errorf("decoding eb:Messaging: %w", err)
	}
	return &m, doc, nil
}
