package transmission

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies the stage or party responsible for a failed transmission.
type Kind int

const (
	KindCompression       Kind = iota + 1 // payload could not be compressed
	KindHeaderMarshal                     // ebMS header could not be built or marshaled
	KindPolicyLoad                        // security policy missing or unparseable
	KindSigning                           // key, signature or encryption failure
	KindNetwork                           // wire exchange failed
	KindMalformedResponse                 // response unparseable or receipt invalid
	KindApplication                       // peer returned ebMS errors
)

func (k Kind) String() string {
	switch k {
	case KindCompression:
		return "CompressionError"
	case KindHeaderMarshal:
		return "HeaderMarshalError"
	case KindPolicyLoad:
		return "PolicyLoadError"
	case KindSigning:
		return "SigningError"
	case KindNetwork:
		return "NetworkError"
	case KindMalformedResponse:
		return "MalformedResponseError"
	case KindApplication:
		return "ApplicationError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NetworkKind refines KindNetwork failures.
type NetworkKind int

const (
	NetworkOther NetworkKind = iota
	NetworkTimeout
	NetworkConnectionRefused
)

func (n NetworkKind) String() string {
	switch n {
	case NetworkTimeout:
		return "timeout"
	case NetworkConnectionRefused:
		return "connection-refused"
	default:
		return "other"
	}
}

// ErrorCode is an ebMS3 error code definition.
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// ebMS3 / AS4 error codes raised locally.
var (
	ErrorMissingReceipt = ErrorCode{
		Code:             "EBMS:0301",
		Severity:         "failure",
		ShortDescription: "MissingReceipt",
		Category:         "Communication",
	}

	ErrorInvalidReceipt = ErrorCode{
		Code:             "EBMS:0302",
		Severity:         "failure",
		ShortDescription: "InvalidReceipt",
		Category:         "Communication",
	}

	ErrorFailedAuthentication = ErrorCode{
		Code:             "EBMS:0101",
		Severity:         "failure",
		ShortDescription: "FailedAuthentication",
		Category:         "Processing",
	}
)

// PeerError is one eb:Error entry, either reported by the peer or raised
// locally from an ErrorCode.
type PeerError struct {
	Code                string
	Severity            string
	ShortDescription    string
	Description         string
	RefToMessageInError string
}

func (p PeerError) String() string {
	var b strings.Builder
	b.WriteString(p.Code)
	if p.ShortDescription != "" {
		b.WriteString(" " + p.ShortDescription)
	}
	if p.Description != "" {
		b.WriteString(": " + p.Description)
	}
	return b.String()
}

// AsPeerError converts a code definition into an error entry.
func (c ErrorCode) AsPeerError(description string) PeerError {
	return PeerError{
		Code:             c.Code,
		Severity:         c.Severity,
		ShortDescription: c.ShortDescription,
		Description:      description,
	}
}

// Error is the single error type surfaced by a transmission. It records the
// originating kind, the lifecycle state the pipeline was in and the cause.
type Error struct {
	Kind      Kind
	Network   NetworkKind
	State     State
	MessageID string
	Codes     []PeerError
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Kind == KindNetwork {
		b.WriteString("(" + e.Network.String() + ")")
	}
	if e.State != StateInit || e.MessageID != "" {
		b.WriteString(" [")
		b.WriteString(e.State.String())
		if e.MessageID != "" {
			b.WriteString(" " + e.MessageID)
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsLocal reports whether the failure originated on our side of the wire.
func (e *Error) IsLocal() bool {
	switch e.Kind {
	case KindCompression, KindHeaderMarshal, KindPolicyLoad, KindSigning:
		return true
	}
	return false
}

// IsPeer reports whether the failure came from the network or the peer.
func (e *Error) IsPeer() bool {
	return !e.IsLocal()
}

// WithState returns a copy of e annotated with the pipeline state and id.
func (e *Error) WithState(state State, messageID string) *Error {
	c := *e
	c.State = state
	if c.MessageID == "" {
		c.MessageID = messageID
	}
	return &c
}

// NewCompressionError wraps a compression failure.
func NewCompressionError(err error) *Error {
	return &Error{Kind: KindCompression, Err: err}
}

// NewHeaderMarshalError wraps a header build or marshal failure.
func NewHeaderMarshalError(err error) *Error {
	return &Error{Kind: KindHeaderMarshal, Err: err}
}

// NewPolicyLoadError wraps a security policy failure.
func NewPolicyLoadError(err error) *Error {
	return &Error{Kind: KindPolicyLoad, Err: err}
}

// NewSigningError wraps a key, signature or encryption failure.
func NewSigningError(err error) *Error {
	return &Error{Kind: KindSigning, Err: err}
}

// NewNetworkError wraps a wire failure.
func NewNetworkError(kind NetworkKind, err error) *Error {
	return &Error{Kind: KindNetwork, Network: kind, Err: err}
}

// NewMalformedResponseError wraps a response that could not be interpreted.
func NewMalformedResponseError(err error, codes ...PeerError) *Error {
	return &Error{Kind: KindMalformedResponse, Err: err, Codes: codes}
}

// NewApplicationError reports ebMS errors returned by the peer.
func NewApplicationError(codes []PeerError) *Error {
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, c.String())
	}
	return &Error{
		Kind:  KindApplication,
		Codes: codes,
		Err:   fmt.Errorf("peer reported %d error(s): %s", len(codes), strings.Join(parts, "; ")),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindNetwork && te.Network == NetworkTimeout
}
