package message

import (
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// Marshal renders the Messaging header as an eb:-prefixed element ready to
// be placed in a SOAP header. The element declares every prefix it uses
// and carries env:mustUnderstand="true".
func Marshal(m *Messaging) (*etree.Element, error) {
	if m == nil {
		return nil, transmission.NewHeaderMarshalError(fmt.Errorf("unable to marshal AS4 header: nil messaging"))
	}

	data, err := xml.Marshal(m)
	if err != nil {
		return nil, transmission.NewHeaderMarshalError(fmt.Errorf("unable to marshal AS4 header: %w", err))
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, transmission.NewHeaderMarshalError(fmt.Errorf("unable to marshal AS4 header: %w", err))
	}

	root := doc.Root()
	AddPrefix(root, "eb", NsEbMS)
	root.CreateAttr("xmlns:env", NsSOAPEnv)
	root.CreateAttr("env:mustUnderstand", "true")
	doc.RemoveChild(root)
	return root, nil
}

// MarshalBytes is Marshal followed by serialization.
func MarshalBytes(m *Messaging) ([]byte, error) {
	el, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	doc.SetRoot(el)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, transmission.NewHeaderMarshalError(fmt.Errorf("unable to serialize AS4 header: %w", err))
	}
	return out, nil
}

// AddPrefix rewrites every element in the given namespace under root to
// use prefix instead of a default namespace declaration, and declares the
// prefix on root. WSS4J based peers such as Domibus and Oxalis expect the
// eb: prefix.
func AddPrefix(root *etree.Element, prefix, namespace string) {
	var targets []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if e.NamespaceURI() == namespace {
			targets = append(targets, e)
		}
		for _, c := range e.ChildElements() {
			walk(c)
		}
	}
	walk(root)

	for _, e := range targets {
		if a := e.SelectAttr("xmlns"); a != nil && a.Value == namespace {
			e.RemoveAttr("xmlns")
		}
		e.Space = prefix
	}
	if root.SelectAttr("xmlns:"+prefix) == nil {
		root.CreateAttr("xmlns:"+prefix, namespace)
	}
}
