// Package keystore provides the signing key sources of the AS4 sender
//
// A key is addressed by an alias and unlocked with a password. Two
// backends are available:
//
//   - File: PKCS#12 bundles or PEM key and certificate files in a directory
//   - PKCS#11: Keys stored in hardware security modules (HSM) or smart cards
//
// Every Provider satisfies security.KeyResolver, so the security stage can
// sign messages without knowing the underlying key storage mechanism.
package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"time"
)

// Common errors
var (
	ErrKeyNotFound     = errors.New("signing key not found")
	ErrBadPassword     = errors.New("wrong keystore password")
	ErrNoAlias         = errors.New("key alias is required")
	ErrKeyCertMismatch = errors.New("private key does not match certificate")
	ErrUnsupportedKey  = errors.New("unsupported private key type")
	ErrPINRequired     = errors.New("PIN required to unlock key")
)

// Provider resolves signing keys.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// ResolveSigner returns the signing key and certificate stored under
	// alias, unlocked with password.
	ResolveSigner(ctx context.Context, alias, password string) (crypto.Signer, *x509.Certificate, error)

	// ListKeys returns all keys available to the provider.
	ListKeys(ctx context.Context) ([]KeyInfo, error)

	// Close releases any resources held by the provider.
	Close() error
}

// KeyInfo describes a signing key
type KeyInfo struct {
	// Alias is the unique identifier for this key
	Alias string

	// Algorithm is the key algorithm (e.g., "RSA", "EC")
	Algorithm string

	// KeySize is the key size in bits (e.g., 2048 for RSA, 256 for P-256)
	KeySize int

	// NotBefore is when the associated certificate becomes valid
	NotBefore time.Time

	// NotAfter is when the associated certificate expires
	NotAfter time.Time

	// CertificateSubject is the subject DN of the certificate
	CertificateSubject string
}

func newKeyInfo(alias string, cert *x509.Certificate) KeyInfo {
	return KeyInfo{
		Alias:              alias,
		Algorithm:          keyAlgorithmName(cert.PublicKey),
		KeySize:            keySize(cert.PublicKey),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		CertificateSubject: cert.Subject.String(),
	}
}

// checkPair verifies that key is the private half of cert's public key.
func checkPair(key crypto.Signer, cert *x509.Certificate) error {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := key.Public().(equaler)
	if !ok || !pub.Equal(cert.PublicKey) {
		return ErrKeyCertMismatch
	}
	return nil
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}
