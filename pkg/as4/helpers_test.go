package as4

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/ShowKa/Oxalis-AS4/pkg/compression"
	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
	"github.com/ShowKa/Oxalis-AS4/pkg/security"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
	"github.com/ShowKa/Oxalis-AS4/pkg/transport"
)

const testInvoice = "<Invoice>X</Invoice>"

func newTestKey(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ski := sha1.Sum(key.PublicKey.N.Bytes())
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"Test Organization"}, CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SubjectKeyId:          ski[:],
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticKeys struct {
	key  crypto.Signer
	cert *x509.Certificate
}

func (s staticKeys) ResolveSigner(context.Context, string, string) (crypto.Signer, *x509.Certificate, error) {
	return s.key, s.cert, nil
}

// parties holds the key material of both sides of a test exchange.
type parties struct {
	senderKey  *rsa.PrivateKey
	senderCert *x509.Certificate
	peerKey    *rsa.PrivateKey
	peerCert   *x509.Certificate
}

func newParties(t *testing.T) *parties {
	t.Helper()
	p := &parties{}
	p.senderKey, p.senderCert = newTestKey(t, "sender-ap")
	p.peerKey, p.peerCert = newTestKey(t, "receiver-ap")
	return p
}

func (p *parties) request(address string) *transmission.Request {
	return &transmission.Request{
		Endpoint: transmission.Endpoint{Address: address, Certificate: p.peerCert},
		Payload:  bytes.NewReader([]byte(testInvoice)),
		Sender:   transmission.PartyID{Type: "urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088", Value: "5790000435968"},
		Receiver: transmission.PartyID{Type: "urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088", Value: "5790000435975"},
		Service:  transmission.Service{Type: "cenbii-procid-ubl", Value: "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"},
		Action:   "busdox-docid-qns::urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice",
	}
}

func (p *parties) configurator(opts ...security.Option) *security.Configurator {
	base := []security.Option{
		security.WithKeyResolver(staticKeys{key: p.senderKey, cert: p.senderCert}),
		security.WithSigningKey("sender-ap", "secret"),
		security.WithLogger(discardLogger()),
	}
	return security.NewConfigurator(append(base, opts...)...)
}

func (p *parties) sender(opts ...Option) *Sender {
	base := []Option{
		WithSecurity(p.configurator()),
		WithLogger(discardLogger()),
	}
	return NewSender(append(base, opts...)...)
}

// receiptMode selects what the stub peer answers.
type receiptMode int

const (
	receiptNRI receiptMode = iota
	receiptEcho
	receiptError
	receiptWrongRef
)

// signalParams describes a signal built by buildSignal.
type signalParams struct {
	mode      receiptMode
	refTo     string
	userMsg   []byte
	digests   []transmission.Digest
	signKey   *rsa.PrivateKey
	signCert  *x509.Certificate
	errorCode string
}

func nriXML(t *testing.T, digests []transmission.Digest) []byte {
	t.Helper()
	doc := etree.NewDocument()
	nri := doc.CreateElement("ebbp:NonRepudiationInformation")
	nri.CreateAttr("xmlns:ebbp", message.NsEbbp)
	nri.CreateAttr("xmlns:ds", message.NsDS)
	for _, d := range digests {
		ref := nri.CreateElement("ebbp:MessagePartNRInformation").CreateElement("ds:Reference")
		ref.CreateAttr("URI", d.URI)
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", d.Algorithm)
		ref.CreateElement("ds:DigestValue").SetText(d.Value)
	}
	out, err := doc.WriteToBytes()
	require.NoError(t, err)
	return out
}

// foreignNRI is non-repudiation information whose parts are outside the
// ebbp namespace.
func foreignNRI(t *testing.T, digests []transmission.Digest) []byte {
	t.Helper()
	doc := etree.NewDocument()
	nri := doc.CreateElement("ebbp:NonRepudiationInformation")
	nri.CreateAttr("xmlns:ebbp", message.NsEbbp)
	nri.CreateAttr("xmlns:ds", message.NsDS)
	nri.CreateAttr("xmlns:x", "urn:test:other")
	for _, d := range digests {
		ref := nri.CreateElement("x:MessagePartNRInformation").CreateElement("ds:Reference")
		ref.CreateAttr("URI", d.URI)
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", d.Algorithm)
		ref.CreateElement("ds:DigestValue").SetText(d.Value)
	}
	out, err := doc.WriteToBytes()
	require.NoError(t, err)
	return out
}

// wrapMessaging moves the signed eb:Messaging of envelope into a wrapper at
// the top of the header and appends a copy, same id included, that
// references refTo.
func wrapMessaging(t *testing.T, envelope []byte, refTo string) []byte {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(envelope))
	_, header, _, err := message.SOAPParts(doc)
	require.NoError(t, err)
	signed := message.FindChild(header, message.NsEbMS, "Messaging")
	require.NotNil(t, signed)

	forged := signed.Copy()
	header.RemoveChild(signed)
	wrapper := etree.NewElement("w:Wrapper")
	wrapper.CreateAttr("xmlns:w", "urn:test:wrapper")
	wrapper.AddChild(signed)
	header.InsertChildAt(0, wrapper)
	header.AddChild(forged)

	ref := message.FindDescendant(forged, message.NsEbMS, "RefToMessageId")
	require.NotNil(t, ref)
	ref.SetText(refTo)

	out, err := doc.WriteToBytes()
	require.NoError(t, err)
	return out
}

// buildSignal returns a SOAP envelope carrying a receipt or error signal.
func buildSignal(t *testing.T, sp signalParams) []byte {
	t.Helper()

	signal := &message.SignalMessage{
		MessageInfo: &message.MessageInfo{
			Timestamp:      time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
			MessageId:      "receipt-1@peer.test",
			RefToMessageId: sp.refTo,
		},
	}
	switch sp.mode {
	case receiptError:
		signal.Errors = []message.Error{{
			ErrorCode:           sp.errorCode,
			Severity:            "failure",
			ShortDescription:    "Other",
			Origin:              "ebMS",
			Category:            "Content",
			RefToMessageInError: sp.refTo,
			Description:         "PEPPOL:NOT_SERVICED",
		}}
	case receiptEcho:
		signal.Receipt = &message.Receipt{Any: sp.userMsg}
	default:
		signal.Receipt = &message.Receipt{Any: nriXML(t, sp.digests)}
	}

	el, err := message.Marshal(&message.Messaging{SignalMessage: signal})
	require.NoError(t, err)
	doc := message.NewEnvelope(el)

	if sp.signKey != nil {
		policy, err := pmode.DefaultLoader().Load(context.Background())
		require.NoError(t, err)
		_, err = security.AddTimestamp(doc, time.Now(), 0)
		require.NoError(t, err)
		signer, err := security.NewSwASigner(sp.signKey, sp.signCert, policy.Sign)
		require.NoError(t, err)
		_, err = signer.Sign(doc, nil)
		require.NoError(t, err)
	}

	out, err := doc.WriteToBytes()
	require.NoError(t, err)
	return out
}

// received is what the stub peer saw.
type received struct {
	messageID   string
	payload     []byte
	contentIDs  []string
	attachments []*mime.Attachment
	header      *message.UserMessage
	references  []transmission.Digest
}

// stubPeer is a receiving Access Point: it decrypts and verifies the
// message and answers with the configured signal.
type stubPeer struct {
	t       *testing.T
	parties *parties
	mode    receiptMode
	signed  bool

	mu       sync.Mutex
	requests []received
}

func newStubPeer(t *testing.T, p *parties, mode receiptMode) (*stubPeer, *httptest.Server) {
	t.Helper()
	peer := &stubPeer{t: t, parties: p, mode: mode}
	server := httptest.NewServer(peer)
	t.Cleanup(server.Close)
	return peer, server
}

func (s *stubPeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	in, err := mime.ReadMessage(r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	messaging, doc, err := message.ParseMessaging(in.Envelope)
	if err != nil || messaging.UserMessage == nil {
		http.Error(w, "no user message", http.StatusBadRequest)
		return
	}

	plain, err := security.NewSwADecryptor(s.parties.peerKey).Decrypt(doc, in.Attachments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	refs, err := security.NewVerifier(s.parties.senderCert).Verify(doc, plain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload []byte
	if len(plain) > 0 {
		payload, _ = compression.NewCompressor().Decompress(plain[0].Data)
	}

	um := messaging.UserMessage
	rec := received{
		messageID:   um.MessageInfo.MessageId,
		payload:     payload,
		contentIDs:  um.ContentIDs(),
		attachments: plain,
		header:      um,
		references:  refs,
	}
	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()

	sp := signalParams{mode: s.mode, refTo: rec.messageID, digests: refs, errorCode: "EBMS:0004"}
	switch s.mode {
	case receiptWrongRef:
		sp.refTo = "someone-else@peer.test"
	case receiptEcho:
		umXML, err := message.MarshalBytes(&message.Messaging{UserMessage: um})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sp.userMsg = userMessageOf(umXML)
	}
	if s.signed {
		sp.signKey, sp.signCert = s.parties.peerKey, s.parties.peerCert
	}

	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.Write(buildSignal(s.t, sp))
}

func (s *stubPeer) received() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.requests...)
}

// userMessageOf extracts the serialized eb:UserMessage from a serialized
// eb:Messaging element.
func userMessageOf(messaging []byte) []byte {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(messaging); err != nil {
		return nil
	}
	um := message.FindChild(doc.Root(), message.NsEbMS, "UserMessage")
	if um == nil {
		return nil
	}
	out := etree.NewDocument()
	out.SetRoot(message.DetachElement(um))
	data, _ := out.WriteToBytes()
	return data
}

// countingDispatcher counts Send calls and optionally records the message.
type countingDispatcher struct {
	transport.Dispatcher
	mu    sync.Mutex
	sends int
	last  *mime.Message
}

func (d *countingDispatcher) Send(ctx context.Context, exchange *transport.Exchange, msg *mime.Message) (*transport.RawResponse, error) {
	d.mu.Lock()
	d.sends++
	d.last = msg
	d.mu.Unlock()
	return d.Dispatcher.Send(ctx, exchange, msg)
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends
}
