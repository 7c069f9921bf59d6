package security

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

const signOnlyPolicy = `<wsp:Policy xmlns:wsp="http://www.w3.org/ns/ws-policy"
 xmlns:sp="http://docs.oasis-open.org/ws-sx/ws-securitypolicy/200702">
<sp:AsymmetricBinding><wsp:Policy>
<sp:AlgorithmSuite><wsp:Policy><sp:Basic128GCMSha256MgfSha256/></wsp:Policy></sp:AlgorithmSuite>
<sp:IncludeTimestamp/>
</wsp:Policy></sp:AsymmetricBinding>
<sp:SignedParts><sp:Body/>
<sp:Header Name="Messaging" Namespace="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"/>
<sp:Attachments/></sp:SignedParts>
</wsp:Policy>`

func testRequest(t *testing.T) *transmission.Request {
	t.Helper()
	_, endpointCert := newTestKey(t, "receiver.example.com")
	return &transmission.Request{
		Endpoint: transmission.Endpoint{Address: "https://ap.example.com/as4", Certificate: endpointCert},
	}
}

type failingValidator struct{ err error }

func (v failingValidator) ValidateCertificate(context.Context, *x509.Certificate, []*x509.Certificate, string) error {
	return v.err
}

type resolverFunc func()

func (f resolverFunc) ResolveSigner(context.Context, string, string) (crypto.Signer, *x509.Certificate, error) {
	f()
	return nil, nil, errors.New("not reached")
}

func TestConfigurator_Configure(t *testing.T) {
	key, cert := newTestKey(t, "sender.example.com")
	req := testRequest(t)

	c := NewConfigurator(
		WithKeyResolver(staticKeys{key: key, cert: cert}),
		WithSigningKey("ap", "secret"),
	)
	sc, err := c.Configure(context.Background(), req, testExchange("https://ap.example.com/as4"))
	require.NoError(t, err)

	assert.Equal(t, pmode.DefaultPolicyName, sc.Policy.Source)
	assert.Equal(t, "ap", sc.Alias)
	assert.Equal(t, cert, sc.Certificate)
	assert.Same(t, req.Endpoint.Certificate, sc.Recipient)
	assert.Equal(t, "https://ap.example.com/as4", sc.Address)
	assert.True(t, sc.EncryptionRequired())
}

func TestConfigurator_ConfigureErrors(t *testing.T) {
	key, cert := newTestKey(t, "sender.example.com")

	tests := []struct {
		name string
		opts []Option
		req  func(*transmission.Request)
		kind transmission.Kind
	}{
		{
			name: "missing policy",
			opts: []Option{WithPolicyLoader(pmode.FileLoader{Path: "/nonexistent/policy.xml"}), WithKeyResolver(staticKeys{key: key, cert: cert})},
			kind: transmission.KindPolicyLoad,
		},
		{
			name: "malformed policy",
			opts: []Option{WithPolicyLoader(pmode.BytesLoader{Name: "bad", Data: []byte("<wsp:Policy")}), WithKeyResolver(staticKeys{key: key, cert: cert})},
			kind: transmission.KindPolicyLoad,
		},
		{
			name: "no key resolver",
			kind: transmission.KindSigning,
		},
		{
			name: "key resolution fails",
			opts: []Option{WithKeyResolver(staticKeys{err: errors.New("wrong password")})},
			kind: transmission.KindSigning,
		},
		{
			name: "endpoint certificate rejected",
			opts: []Option{WithKeyResolver(staticKeys{key: key, cert: cert}), WithCertificateValidator(failingValidator{err: ErrCertificateExpired})},
			kind: transmission.KindSigning,
		},
		{
			name: "no endpoint certificate",
			opts: []Option{WithKeyResolver(staticKeys{key: key, cert: cert})},
			req:  func(r *transmission.Request) { r.Endpoint.Certificate = nil },
			kind: transmission.KindSigning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t)
			if tt.req != nil {
				tt.req(req)
			}
			_, err := NewConfigurator(tt.opts...).Configure(context.Background(), req, nil)
			require.Error(t, err)
			assert.True(t, transmission.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestConfigurator_PolicyBeforeKey(t *testing.T) {
	resolved := false
	keys := resolverFunc(func() { resolved = true })

	_, err := NewConfigurator(
		WithPolicyLoader(pmode.BytesLoader{Name: "bad", Data: []byte("not a policy")}),
		WithKeyResolver(keys),
	).Configure(context.Background(), testRequest(t), nil)

	assert.True(t, transmission.IsKind(err, transmission.KindPolicyLoad))
	assert.False(t, resolved)
}

func TestConfigurator_Secure(t *testing.T) {
	key, cert := newTestKey(t, "sender.example.com")
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("sign and encrypt", func(t *testing.T) {
		c := NewConfigurator(WithKeyResolver(staticKeys{key: key, cert: cert}), WithClock(func() time.Time { return created }))
		sc, err := c.Configure(context.Background(), testRequest(t), nil)
		require.NoError(t, err)

		doc, atts := testMessage(t)
		secured, err := c.Secure(context.Background(), sc, doc, atts)
		require.NoError(t, err)

		assert.Len(t, secured.References, 5)
		require.Len(t, secured.Attachments, 2)
		assert.NotEqual(t, atts[0].Data, secured.Attachments[0].Data)

		// signature covers the compressed plaintext
		_, err = NewVerifier(cert).Verify(doc, atts)
		assert.NoError(t, err)
	})

	t.Run("sign only", func(t *testing.T) {
		c := NewConfigurator(
			WithPolicyLoader(pmode.BytesLoader{Name: "sign-only", Data: []byte(signOnlyPolicy)}),
			WithKeyResolver(staticKeys{key: key, cert: cert}),
		)
		sc, err := c.Configure(context.Background(), testRequest(t), nil)
		require.NoError(t, err)
		assert.False(t, sc.EncryptionRequired())

		doc, atts := testMessage(t)
		secured, err := c.Secure(context.Background(), sc, doc, atts)
		require.NoError(t, err)
		assert.Equal(t, atts, secured.Attachments)

		_, err = NewVerifier(cert).Verify(doc, secured.Attachments)
		assert.NoError(t, err)
	})

	t.Run("unconfigured", func(t *testing.T) {
		doc, atts := testMessage(t)
		_, err := NewConfigurator().Secure(context.Background(), nil, doc, atts)
		assert.True(t, transmission.IsKind(err, transmission.KindSigning))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		doc, atts := testMessage(t)
		_, err := NewConfigurator().Secure(ctx, &Context{}, doc, atts)
		assert.True(t, transmission.IsKind(err, transmission.KindSigning))
	})
}
