package security

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// ErrNoKeyResolver is returned by Configure when no signing key source is set.
var ErrNoKeyResolver = errors.New("no key resolver configured")

// KeyResolver resolves a key alias and password to a signing key and its
// certificate.
type KeyResolver interface {
	ResolveSigner(ctx context.Context, alias, password string) (crypto.Signer, *x509.Certificate, error)
}

// Exchange is the part of a transport exchange the security stage binds to.
type Exchange interface {
	Address() string
}

// Context is the security state of one transmission: the loaded policy,
// the signing key and the encryption target.
type Context struct {
	Policy      *pmode.SecurityPolicy
	Alias       string
	Signer      crypto.Signer
	Certificate *x509.Certificate
	// Recipient is the receiving endpoint's certificate.
	Recipient *x509.Certificate
	Address   string
}

// EncryptionRequired reports whether attachments are encrypted for the
// recipient.
func (c *Context) EncryptionRequired() bool {
	return c.Policy != nil && c.Policy.EncryptionRequired()
}

// Secured is the result of applying a security context to a message.
type Secured struct {
	// Attachments are the parts to put on the wire, encrypted when the
	// policy requires it.
	Attachments []*mime.Attachment
	// References are the digests covered by the signature.
	References []transmission.Digest
}

// SecurityConfigurator prepares and applies message security.
type SecurityConfigurator interface {
	Configure(ctx context.Context, req *transmission.Request, exchange Exchange) (*Context, error)
	Secure(ctx context.Context, sc *Context, doc *etree.Document, attachments []*mime.Attachment) (*Secured, error)
}

// Configurator is the SecurityConfigurator driven by a WS-Policy document.
type Configurator struct {
	policies  pmode.PolicyLoader
	keys      KeyResolver
	alias     string
	password  string
	validator CertificateValidator
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

var _ SecurityConfigurator = (*Configurator)(nil)

// Option configures a Configurator.
type Option func(*Configurator)

// WithPolicyLoader sets the source of the security policy.
func WithPolicyLoader(l pmode.PolicyLoader) Option {
	return func(c *Configurator) {
		c.policies = l
	}
}

// WithKeyResolver sets the keystore the signing key is resolved from.
func WithKeyResolver(r KeyResolver) Option {
	return func(c *Configurator) {
		c.keys = r
	}
}

// WithSigningKey sets the alias and password of the signing key.
func WithSigningKey(alias, password string) Option {
	return func(c *Configurator) {
		c.alias = alias
		c.password = password
	}
}

// WithCertificateValidator validates endpoint certificates before use.
func WithCertificateValidator(v CertificateValidator) Option {
	return func(c *Configurator) {
		c.validator = v
	}
}

// WithTimestampTTL sets the lifetime of the wsu:Timestamp.
func WithTimestampTTL(ttl time.Duration) Option {
	return func(c *Configurator) {
		c.ttl = ttl
	}
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Configurator) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Configurator) {
		c.logger = l
	}
}

// NewConfigurator creates a Configurator. Without WithPolicyLoader the
// embedded default policy is used.
func NewConfigurator(opts ...Option) *Configurator {
	c := &Configurator{
		policies: pmode.DefaultLoader(),
		ttl:      pmode.DefaultTimestampTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure loads the policy, validates the endpoint certificate and
// resolves the signing key. Policy failures are PolicyLoadErrors, the
// rest are SigningErrors.
func (c *Configurator) Configure(ctx context.Context, req *transmission.Request, exchange Exchange) (*Context, error) {
	policy, err := c.policies.Load(ctx)
	if err != nil {
		if _, ok := transmission.KindOf(err); ok {
			return nil, err
		}
		return nil, transmission.NewPolicyLoadError(err)
	}

	if req == nil || req.Endpoint.Certificate == nil {
		return nil, transmission.NewSigningError(transmission.ErrMissingCertificate)
	}
	recipient := req.Endpoint.Certificate
	if c.validator != nil {
		if err := c.validator.ValidateCertificate(ctx, recipient, nil, PurposeEncryption); err != nil {
			return nil, transmission.NewSigningError(fmt.Errorf("endpoint certificate %q: %w", recipient.Subject.String(), err))
		}
	}

	if c.keys == nil {
		return nil, transmission.NewSigningError(ErrNoKeyResolver)
	}
	signer, cert, err := c.keys.ResolveSigner(ctx, c.alias, c.password)
	if err != nil {
		return nil, transmission.NewSigningError(fmt.Errorf("resolving signing key %q: %w", c.alias, err))
	}

	sc := &Context{
		Policy:      policy,
		Alias:       c.alias,
		Signer:      signer,
		Certificate: cert,
		Recipient:   recipient,
	}
	if exchange != nil {
		sc.Address = exchange.Address()
	}
	c.logger.Debug("security configured",
		slog.String("policy", policy.Source),
		slog.String("suite", policy.Suite),
		slog.String("alias", c.alias),
		slog.Bool("encrypt", sc.EncryptionRequired()),
		slog.String("endpoint", sc.Address))
	return sc, nil
}

// Secure applies the policy actions to doc in order. Attachments are
// signed in their compressed form and encrypted afterwards.
func (c *Configurator) Secure(ctx context.Context, sc *Context, doc *etree.Document, attachments []*mime.Attachment) (*Secured, error) {
	if err := ctx.Err(); err != nil {
		return nil, transmission.NewSigningError(err)
	}
	if sc == nil || sc.Policy == nil {
		return nil, transmission.NewSigningError(fmt.Errorf("security context is not configured"))
	}

	out := &Secured{Attachments: attachments}
	for _, action := range sc.Policy.Actions {
		switch action {
		case pmode.ActionTimestamp:
			if _, err := AddTimestamp(doc, c.now(), c.ttl); err != nil {
				return nil, transmission.NewSigningError(fmt.Errorf("adding timestamp: %w", err))
			}

		case pmode.ActionSign:
			signer, err := NewSwASigner(sc.Signer, sc.Certificate, sc.Policy.Sign)
			if err != nil {
				return nil, transmission.NewSigningError(err)
			}
			refs, err := signer.Sign(doc, attachments)
			if err != nil {
				return nil, transmission.NewSigningError(fmt.Errorf("signing message: %w", err))
			}
			out.References = refs

		case pmode.ActionEncrypt:
			if !sc.EncryptionRequired() {
				continue
			}
			enc, err := NewSwAEncryptor(sc.Recipient, sc.Policy.Encryption)
			if err != nil {
				return nil, transmission.NewSigningError(err)
			}
			encrypted, err := enc.Encrypt(doc, out.Attachments)
			if err != nil {
				return nil, transmission.NewSigningError(fmt.Errorf("encrypting attachments: %w", err))
			}
			out.Attachments = encrypted
		}
	}
	return out, nil
}
