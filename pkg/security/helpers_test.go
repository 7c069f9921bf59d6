package security

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
)

const testMessageID = "msg-1@as4.test"

// generateRSATestCert generates a self-signed test RSA certificate
func generateRSATestCert(t *testing.T, privateKey *rsa.PrivateKey, cn string) *x509.Certificate {
	t.Helper()

	ski := sha1.Sum(privateKey.PublicKey.N.Bytes())
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Organization"},
			CommonName:   cn,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SubjectKeyId:          ski[:],
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)
	return cert
}

func newTestKey(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key, generateRSATestCert(t, key, cn)
}

// testCA issues leaf certificates for validation tests.
type testCA struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCA{key: key, cert: cert}
}

func (ca *testCA) issue(t *testing.T, cn string, notAfter time.Time, ocspServer string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-2 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	if ocspServer != "" {
		template.OCSPServer = []string{ocspServer}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func (ca *testCA) pool() *x509.CertPool {
	p := x509.NewCertPool()
	p.AddCert(ca.cert)
	return p
}

func signConfig(ref pmode.TokenReferenceMethod) *pmode.SignConfig {
	return &pmode.SignConfig{
		Algorithm:        pmode.AlgoRSASHA256,
		HashFunction:     pmode.HashSHA256,
		Canonicalization: pmode.C14NExclusive,
		TokenReference:   ref,
		SignBody:         true,
		SignMessaging:    true,
		SignAttachments:  true,
	}
}

func encryptionConfig() *pmode.EncryptionConfig {
	return &pmode.EncryptionConfig{
		Algorithm:          pmode.KeyAlgoRSAOAEP256,
		MGF:                pmode.MGF1SHA256,
		KeyDigest:          pmode.HashSHA256,
		DataEncryption:     pmode.DataAlgoAES128GCM,
		CertReference:      pmode.TokenRefIssuerSerial,
		EncryptAttachments: true,
	}
}

// testMessage returns an unsigned envelope with two attachments.
func testMessage(t *testing.T) (*etree.Document, []*mime.Attachment) {
	t.Helper()

	atts := []*mime.Attachment{
		{
			PayloadRef: message.PayloadRef{ContentID: "part-1@as4.test", MimeType: "application/xml", CompressionType: "application/gzip"},
			Data:       []byte("first compressed payload"),
		},
		{
			PayloadRef: message.PayloadRef{ContentID: "part-2@as4.test", MimeType: "application/xml", CompressionType: "application/gzip"},
			Data:       []byte("second compressed payload"),
		},
	}

	payloadInfo := &message.PayloadInfo{}
	for _, a := range atts {
		payloadInfo.PartInfo = append(payloadInfo.PartInfo, message.NewPartInfo(a.PayloadRef))
	}
	el, err := message.Marshal(&message.Messaging{
		UserMessage: &message.UserMessage{
			MessageInfo: &message.MessageInfo{
				Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				MessageId: testMessageID,
			},
			CollaborationInfo: &message.CollaborationInfo{
				Service:        message.Service{Value: "urn:test:service"},
				Action:         "test-action",
				ConversationId: "conv-1",
			},
			PayloadInfo: payloadInfo,
		},
	})
	require.NoError(t, err)
	return message.NewEnvelope(el), atts
}

type staticKeys struct {
	key  crypto.Signer
	cert *x509.Certificate
	err  error
}

func (s staticKeys) ResolveSigner(_ context.Context, _, _ string) (crypto.Signer, *x509.Certificate, error) {
	return s.key, s.cert, s.err
}

type testExchange string

func (e testExchange) Address() string { return string(e) }
