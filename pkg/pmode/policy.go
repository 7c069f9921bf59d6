package pmode

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// WS-Policy and WS-SecurityPolicy namespaces.
const (
	NsWSPolicy     = "http://www.w3.org/ns/ws-policy"
	NsWSPolicy0409 = "http://schemas.xmlsoap.org/ws/2004/09/policy"
	NsSP           = "http://docs.oasis-open.org/ws-sx/ws-securitypolicy/200702"

	ebMSNamespace = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
)

// DefaultPolicyName is the name the embedded policy is reported under.
const DefaultPolicyName = "policy.xml"

//go:embed policy.xml
var defaultPolicy []byte

// Policy document errors.
var (
	ErrNotPolicy             = errors.New("document is not a wsp:Policy")
	ErrNoBinding             = errors.New("no sp:AsymmetricBinding")
	ErrNoAlgorithmSuite      = errors.New("no sp:AlgorithmSuite")
	ErrUnsupportedSuite      = errors.New("unsupported algorithm suite")
	ErrNoSignedParts         = errors.New("no sp:SignedParts")
	ErrUnsupportedAssertions = errors.New("unsupported policy assertion")
)

type suite struct {
	sign   SignatureAlgorithm
	digest HashAlgorithm
	key    KeyEncryptionAlgorithm
	data   DataEncryptionAlgorithm
}

var suites = map[string]suite{
	"Basic128GCMSha256MgfSha256": {AlgoRSASHA256, HashSHA256, KeyAlgoRSAOAEP256, DataAlgoAES128GCM},
	"Basic256GCMSha256MgfSha256": {AlgoRSASHA256, HashSHA256, KeyAlgoRSAOAEP256, DataAlgoAES256GCM},
}

// PolicyLoader supplies the security policy for a transmission.
type PolicyLoader interface {
	Load(ctx context.Context) (*SecurityPolicy, error)
}

// FileLoader reads a WS-Policy document from disk on every Load.
type FileLoader struct {
	Path string
}

// Load reads and parses the policy file. Any failure is a PolicyLoadError.
func (l FileLoader) Load(ctx context.Context) (*SecurityPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, transmission.NewPolicyLoadError(err)
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, loadError(l.Path, err)
	}
	defer f.Close()

	p, err := ParsePolicy(f, l.Path)
	if err != nil {
		return nil, loadError(l.Path, err)
	}
	return p, nil
}

// BytesLoader parses an in-memory WS-Policy document.
type BytesLoader struct {
	Name string
	Data []byte
}

// Load parses the document. Any failure is a PolicyLoadError.
func (l BytesLoader) Load(ctx context.Context) (*SecurityPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, transmission.NewPolicyLoadError(err)
	}
	p, err := ParsePolicy(bytes.NewReader(l.Data), l.Name)
	if err != nil {
		return nil, loadError(l.Name, err)
	}
	return p, nil
}

// DefaultLoader returns the embedded AS4 policy: timestamp, sign with
// Basic128GCMSha256MgfSha256 and encrypt attachments.
func DefaultLoader() PolicyLoader {
	return BytesLoader{Name: DefaultPolicyName, Data: defaultPolicy}
}

func loadError(source string, err error) error {
	return transmission.NewPolicyLoadError(fmt.Errorf("unable to parse WS-Policy %q: %w", source, err))
}

// ParsePolicy reads a WS-SecurityPolicy document describing an asymmetric
// binding and returns the security actions it mandates.
func ParsePolicy(r io.Reader, source string) (*SecurityPolicy, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, err
	}

	root := doc.Root()
	if root == nil || root.Tag != "Policy" || !isPolicyNS(root.NamespaceURI()) {
		return nil, ErrNotPolicy
	}

	binding := findSP(root, "AsymmetricBinding")
	if binding == nil {
		if findSP(root, "SymmetricBinding") != nil || findSP(root, "TransportBinding") != nil {
			return nil, fmt.Errorf("%w: only sp:AsymmetricBinding is supported", ErrUnsupportedAssertions)
		}
		return nil, ErrNoBinding
	}

	suiteEl := findSP(binding, "AlgorithmSuite")
	if suiteEl == nil {
		return nil, ErrNoAlgorithmSuite
	}
	suiteName := ""
	for _, el := range descendants(suiteEl) {
		if el.NamespaceURI() == NsSP {
			suiteName = el.Tag
			break
		}
	}
	algs, ok := suites[suiteName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSuite, suiteName)
	}

	policy := &SecurityPolicy{
		Source: source,
		Suite:  suiteName,
	}

	if findSP(binding, "IncludeTimestamp") != nil {
		policy.Actions = append(policy.Actions, ActionTimestamp)
	}

	signed := findSP(root, "SignedParts")
	if signed == nil {
		return nil, ErrNoSignedParts
	}
	policy.Sign = &SignConfig{
		Algorithm:        algs.sign,
		HashFunction:     algs.digest,
		Canonicalization: C14NExclusive,
		TokenReference:   tokenReference(findSP(binding, "InitiatorToken"), TokenRefBinarySecurityToken),
		SignBody:         findSPChild(signed, "Body") != nil,
		SignMessaging:    signsMessagingHeader(signed),
		SignAttachments:  findSPChild(signed, "Attachments") != nil,
	}
	policy.Actions = append(policy.Actions, ActionSign)

	if encrypted := findSP(root, "EncryptedParts"); encrypted != nil && findSPChild(encrypted, "Attachments") != nil {
		policy.Encryption = &EncryptionConfig{
			Algorithm:          algs.key,
			MGF:                MGF1SHA256,
			KeyDigest:          HashSHA256,
			DataEncryption:     algs.data,
			CertReference:      tokenReference(findSP(binding, "RecipientToken"), TokenRefIssuerSerial),
			EncryptAttachments: true,
		}
		policy.Actions = append(policy.Actions, ActionEncrypt)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func isPolicyNS(ns string) bool {
	return ns == NsWSPolicy || ns == NsWSPolicy0409
}

func descendants(e *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		out = append(out, c)
		out = append(out, descendants(c)...)
	}
	return out
}

// findSP returns the first sp: element with the given local name below e.
func findSP(e *etree.Element, local string) *etree.Element {
	for _, el := range descendants(e) {
		if el.Tag == local && el.NamespaceURI() == NsSP {
			return el
		}
	}
	return nil
}

// findSPChild is findSP restricted to direct children.
func findSPChild(e *etree.Element, local string) *etree.Element {
	for _, el := range e.ChildElements() {
		if el.Tag == local && el.NamespaceURI() == NsSP {
			return el
		}
	}
	return nil
}

func signsMessagingHeader(signed *etree.Element) bool {
	for _, el := range signed.ChildElements() {
		if el.Tag != "Header" || el.NamespaceURI() != NsSP {
			continue
		}
		ns := el.SelectAttrValue("Namespace", "")
		name := el.SelectAttrValue("Name", "")
		if ns == ebMSNamespace && (name == "" || name == "Messaging") {
			return true
		}
	}
	return false
}

// tokenReference derives how a token is referenced from an
// sp:InitiatorToken or sp:RecipientToken assertion.
func tokenReference(token *etree.Element, fallback TokenReferenceMethod) TokenReferenceMethod {
	if token == nil {
		return fallback
	}
	x509 := findSP(token, "X509Token")
	if x509 == nil {
		return fallback
	}
	switch {
	case findSP(x509, "RequireIssuerSerialReference") != nil:
		return TokenRefIssuerSerial
	case findSP(x509, "RequireThumbprintReference") != nil:
		return TokenRefThumbprint
	case findSP(x509, "RequireKeyIdentifierReference") != nil:
		return TokenRefKeyIdentifier
	}
	include := ""
	for _, a := range x509.Attr {
		if a.Key == "IncludeToken" {
			include = a.Value
		}
	}
	if include != "" && !strings.HasSuffix(include, "/Never") {
		return TokenRefBinarySecurityToken
	}
	return fallback
}
