package security

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCertificateExpired is returned when a certificate has expired
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned when a certificate is not yet valid
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrCertificateUntrusted is returned when a certificate does not chain to a trust anchor
	ErrCertificateUntrusted = errors.New("certificate is not trusted")
	// ErrCertificateRevoked is returned when a certificate has been revoked
	ErrCertificateRevoked = errors.New("certificate has been revoked")
	// ErrInvalidCertificate is returned for other certificate validation failures
	ErrInvalidCertificate = errors.New("certificate validation failed")
)

// Certificate purposes
const (
	PurposeEncryption = "encryption"
	PurposeSigning    = "signing"
	PurposeTLSServer  = "tls-server"
	PurposeTLSClient  = "tls-client"
)

// CertificateValidator decides whether a certificate may be used for a
// purpose. The receiving endpoint's certificate is validated before any
// message is encrypted for it.
type CertificateValidator interface {
	ValidateCertificate(ctx context.Context, cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error
}

// DefaultCertificateValidator implements traditional PKI validation against
// a pool of trust anchors.
type DefaultCertificateValidator struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewDefaultCertificateValidator creates a validator using traditional PKI
func NewDefaultCertificateValidator(roots *x509.CertPool) *DefaultCertificateValidator {
	return &DefaultCertificateValidator{
		roots: roots,
		now:   time.Now,
	}
}

// WithClock sets the time used for validity checks.
func (v *DefaultCertificateValidator) WithClock(now func() time.Time) *DefaultCertificateValidator {
	v.now = now
	return v
}

// Verify checks validity dates and builds the chains from cert to a trust
// anchor. The first chain is ordered leaf first.
func (v *DefaultCertificateValidator) Verify(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) ([][]*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: nil certificate", ErrInvalidCertificate)
	}
	now := v.now()
	if now.Before(cert.NotBefore) {
		return nil, ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return nil, ErrCertificateExpired
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		CurrentTime:   now,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	for _, intermediate := range intermediates {
		opts.Intermediates.AddCert(intermediate)
	}
	switch purpose {
	case PurposeTLSServer:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case PurposeTLSClient:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	chains, err := cert.Verify(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return chains, nil
}

// ValidateCertificate validates a single certificate against the trust store
func (v *DefaultCertificateValidator) ValidateCertificate(_ context.Context, cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	_, err := v.Verify(cert, intermediates, purpose)
	return err
}

// RevocationAwareCertValidator adds a revocation check to chain validation.
type RevocationAwareCertValidator struct {
	base    *DefaultCertificateValidator
	checker RevocationChecker
}

// NewRevocationAwareCertValidator creates a validator with revocation checking
func NewRevocationAwareCertValidator(base *DefaultCertificateValidator, checker RevocationChecker) *RevocationAwareCertValidator {
	return &RevocationAwareCertValidator{
		base:    base,
		checker: checker,
	}
}

// ValidateCertificate validates the chain, then checks the leaf against its
// issuer's revocation service.
func (v *RevocationAwareCertValidator) ValidateCertificate(ctx context.Context, cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	chains, err := v.base.Verify(cert, intermediates, purpose)
	if err != nil {
		return err
	}
	if v.checker == nil || len(chains) == 0 || len(chains[0]) < 2 {
		return nil
	}
	return v.checker.CheckRevocation(ctx, cert, chains[0][1])
}
