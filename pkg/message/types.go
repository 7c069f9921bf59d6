// Package message provides AS4 message structure and ebMS3 headers implementation.
package message

import (
	"encoding/xml"
	"time"
)

// Namespace constants for AS4/ebMS3
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsEbMS    = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	NsEbbp    = "http://docs.oasis-open.org/ebxml-bp/ebbp-signals-2.0"
	NsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS      = "http://www.w3.org/2000/09/xmldsig#"
	NsXENC    = "http://www.w3.org/2001/04/xmlenc#"
	NsXENC11  = "http://www.w3.org/2009/xmlenc11#"
)

// Party roles used by the one-way push MEP.
const (
	RoleInitiator = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/initiator"
	RoleResponder = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/responder"
)

// Well-known part property names.
const (
	PropertyMimeType        = "MimeType"
	PropertyCompressionType = "CompressionType"
)

// Messaging represents the ebMS3 Messaging header
type Messaging struct {
	XMLName       xml.Name       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	UserMessage   *UserMessage   `xml:"UserMessage,omitempty"`
	SignalMessage *SignalMessage `xml:"SignalMessage,omitempty"`
}

// UserMessage represents an ebMS3 UserMessage
type UserMessage struct {
	XMLName           xml.Name           `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ UserMessage"`
	MessageInfo       *MessageInfo       `xml:"MessageInfo"`
	PartyInfo         *PartyInfo         `xml:"PartyInfo"`
	CollaborationInfo *CollaborationInfo `xml:"CollaborationInfo"`
	MessageProperties *MessageProperties `xml:"MessageProperties,omitempty"`
	PayloadInfo       *PayloadInfo       `xml:"PayloadInfo,omitempty"`
}

// MessageInfo contains message identification and timestamps
type MessageInfo struct {
	Timestamp      time.Time `xml:"Timestamp"`
	MessageId      string    `xml:"MessageId"`
	RefToMessageId string    `xml:"RefToMessageId,omitempty"`
}

// PartyInfo contains sender and receiver party information
type PartyInfo struct {
	From *Party `xml:"From"`
	To   *Party `xml:"To"`
}

// Party represents a messaging party
type Party struct {
	PartyId []PartyId `xml:"PartyId"`
	Role    string    `xml:"Role"`
}

// PartyId represents a party identifier with type
type PartyId struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// CollaborationInfo contains service and action information
type CollaborationInfo struct {
	AgreementRef   *AgreementRef `xml:"AgreementRef,omitempty"`
	Service        Service       `xml:"Service"`
	Action         string        `xml:"Action"`
	ConversationId string        `xml:"ConversationId"`
}

// AgreementRef references a business agreement
type AgreementRef struct {
	Type  string `xml:"type,attr,omitempty"`
	Pmode string `xml:"pmode,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Service identifies the service
type Service struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// MessageProperties contains custom message properties
type MessageProperties struct {
	Property []Property `xml:"Property"`
}

// Property represents a message property
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PayloadInfo contains references to payload parts
type PayloadInfo struct {
	PartInfo []PartInfo `xml:"PartInfo"`
}

// PartInfo describes a payload part
type PartInfo struct {
	Href           string          `xml:"href,attr,omitempty"`
	PartProperties *PartProperties `xml:"PartProperties,omitempty"`
}

// PartProperties contains properties for a payload part
type PartProperties struct {
	Property []Property `xml:"Property"`
}

// SignalMessage represents an ebMS3 SignalMessage (Receipt or Error)
type SignalMessage struct {
	XMLName     xml.Name     `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ SignalMessage"`
	MessageInfo *MessageInfo `xml:"MessageInfo"`
	Receipt     *Receipt     `xml:"Receipt,omitempty"`
	Errors      []Error      `xml:"Error,omitempty"`
}

// Receipt represents a receipt acknowledgment. Its content is either
// ebbp:NonRepudiationInformation or a copy of the acknowledged UserMessage.
type Receipt struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Receipt"`
	Any     []byte   `xml:",innerxml"`
}

// Error represents an ebMS3 error
type Error struct {
	XMLName             xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Error"`
	ErrorCode           string   `xml:"errorCode,attr"`
	Severity            string   `xml:"severity,attr"`
	ShortDescription    string   `xml:"shortDescription,attr,omitempty"`
	Origin              string   `xml:"origin,attr,omitempty"`
	Category            string   `xml:"category,attr,omitempty"`
	RefToMessageInError string   `xml:"refToMessageInError,attr,omitempty"`
	Description         string   `xml:"Description,omitempty"`
	ErrorDetail         string   `xml:"ErrorDetail,omitempty"`
}

// PayloadRef is what the header needs to know about one attachment.
type PayloadRef struct {
	ContentID       string
	MimeType        string
	CompressionType string
}

// Href returns the cid: URI referencing the payload.
func (r PayloadRef) Href() string {
	return "cid:" + NormalizeContentID(r.ContentID)
}
