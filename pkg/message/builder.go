package message

import (
	"fmt"
	"time"

	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// HeaderBuilder builds the ebMS3 Messaging header for an outbound request.
type HeaderBuilder interface {
	Build(req *transmission.Request, payloads []PayloadRef) (*Messaging, error)
}

// UserMessageBuilder is the default HeaderBuilder.
type UserMessageBuilder struct {
	ids      IDGenerator
	now      func() time.Time
	fromRole string
	toRole   string
}

var _ HeaderBuilder = (*UserMessageBuilder)(nil)

// Option represents a functional option for UserMessageBuilder
type Option func(*UserMessageBuilder)

// WithIDGenerator sets the generator used for message ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *UserMessageBuilder) {
		b.ids = g
	}
}

// WithClock sets the time source for MessageInfo timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *UserMessageBuilder) {
		b.now = now
	}
}

// WithRoles overrides the initiator/responder party roles.
func WithRoles(fromRole, toRole string) Option {
	return func(b *UserMessageBuilder) {
		b.fromRole = fromRole
		b.toRole = toRole
	}
}

// NewUserMessageBuilder creates a header builder.
func NewUserMessageBuilder(opts ...Option) *UserMessageBuilder {
	b := &UserMessageBuilder{
		ids:      NewUUIDGenerator(""),
		now:      time.Now,
		fromRole: RoleInitiator,
		toRole:   RoleResponder,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates the Messaging header. It assigns a fresh message id and
// adds one PartInfo per payload, in order. Invalid input is reported as a
// HeaderMarshalError.
func (b *UserMessageBuilder) Build(req *transmission.Request, payloads []PayloadRef) (*Messaging, error) {
	if err := validateRequest(req); err != nil {
		return nil, transmission.NewHeaderMarshalError(err)
	}

	messageID := b.ids.Generate()
	if messageID == "" {
		return nil, transmission.NewHeaderMarshalError(fmt.Errorf("id generator returned an empty message id"))
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = messageID
	}

	um := &UserMessage{
		MessageInfo: &MessageInfo{
			Timestamp: b.now().UTC().Truncate(time.Millisecond),
			MessageId: messageID,
		},
		PartyInfo: &PartyInfo{
			From: &Party{
				PartyId: []PartyId{{Type: req.Sender.Type, Value: req.Sender.Value}},
				Role:    b.fromRole,
			},
			To: &Party{
				PartyId: []PartyId{{Type: req.Receiver.Type, Value: req.Receiver.Value}},
				Role:    b.toRole,
			},
		},
		CollaborationInfo: &CollaborationInfo{
			Service:        Service{Type: req.Service.Type, Value: req.Service.Value},
			Action:         req.Action,
			ConversationId: conversationID,
		},
	}

	if req.AgreementRef != "" {
		um.CollaborationInfo.AgreementRef = &AgreementRef{Value: req.AgreementRef}
	}

	if len(req.MessageProperties) > 0 {
		um.MessageProperties = &MessageProperties{Property: make([]Property, 0, len(req.MessageProperties))}
		for _, p := range req.MessageProperties {
			um.MessageProperties.Property = append(um.MessageProperties.Property, Property{
				Name:  p.Name,
				Type:  p.Type,
				Value: p.Value,
			})
		}
	}

	if len(payloads) > 0 {
		um.PayloadInfo = &PayloadInfo{PartInfo: make([]PartInfo, 0, len(payloads))}
		for _, ref := range payloads {
			um.PayloadInfo.PartInfo = append(um.PayloadInfo.PartInfo, NewPartInfo(ref))
		}
	}

	if err := CheckPayloadReferences(um, payloads); err != nil {
		return nil, transmission.NewHeaderMarshalError(err)
	}

	return &Messaging{UserMessage: um}, nil
}

func validateRequest(req *transmission.Request) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	switch {
	case req.Sender.Value == "":
		return transmission.ErrMissingSender
	case req.Receiver.Value == "":
		return transmission.ErrMissingReceiver
	case req.Service.Value == "":
		return transmission.ErrMissingService
	case req.Action == "":
		return transmission.ErrMissingAction
	}
	return nil
}
