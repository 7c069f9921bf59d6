package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/ShowKa/Oxalis-AS4/internal/config"
)

func selfSigned(t *testing.T, cn string, key *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func writePEMPair(t *testing.T, dir, alias string, key *rsa.PrivateKey, cert *x509.Certificate) {
	t.Helper()
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, alias+".key"), keyPEM, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, alias+".crt"), certPEM, 0644))
}

func writePKCS12(t *testing.T, dir, name string, key *rsa.PrivateKey, cert *x509.Certificate, password string) {
	t.Helper()
	pfx, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), pfx, 0600))
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestFileProvider_PEMPair(t *testing.T) {
	dir := t.TempDir()
	key := newRSAKey(t)
	cert := selfSigned(t, "sender", key)
	writePEMPair(t, dir, "sender", key, cert)

	p, err := NewFileProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	signer, got, err := p.ResolveSigner(context.Background(), "sender", "")
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))
	assert.Equal(t, cert.Raw, got.Raw)

	// Second resolve is served from the cache
	again, _, err := p.ResolveSigner(context.Background(), "sender", "")
	require.NoError(t, err)
	assert.Same(t, signer, again)
}

func TestFileProvider_PKCS12(t *testing.T) {
	dir := t.TempDir()
	key := newRSAKey(t)
	cert := selfSigned(t, "ap-sender", key)
	writePKCS12(t, dir, "ap.p12", key, cert, "changeit")

	p, err := NewFileProvider(dir)
	require.NoError(t, err)

	signer, got, err := p.ResolveSigner(context.Background(), "ap", "changeit")
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))
	assert.Equal(t, "ap-sender", got.Subject.CommonName)

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := p.ResolveSigner(context.Background(), "ap", "wrong")
		assert.ErrorIs(t, err, ErrBadPassword)
	})
}

func TestFileProvider_PFXExtension(t *testing.T) {
	dir := t.TempDir()
	key := newRSAKey(t)
	writePKCS12(t, dir, "legacy.pfx", key, selfSigned(t, "legacy", key), "secret")

	p, err := NewFileProvider(dir)
	require.NoError(t, err)

	_, cert, err := p.ResolveSigner(context.Background(), "legacy", "secret")
	require.NoError(t, err)
	assert.Equal(t, "legacy", cert.Subject.CommonName)
}

func TestFileProvider_Errors(t *testing.T) {
	dir := t.TempDir()
	key := newRSAKey(t)
	other := newRSAKey(t)
	writePEMPair(t, dir, "mismatch", key, selfSigned(t, "other", other))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.key"), []byte("not pem"), 0600))

	p, err := NewFileProvider(dir)
	require.NoError(t, err)

	tests := []struct {
		name  string
		alias string
		want  error
	}{
		{"empty alias", "", ErrNoAlias},
		{"missing", "nobody", ErrKeyNotFound},
		{"path traversal", "../etc", ErrKeyNotFound},
		{"hidden", ".hidden", ErrKeyNotFound},
		{"key does not match certificate", "mismatch", ErrKeyCertMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.ResolveSigner(context.Background(), tt.alias, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unparseable key", func(t *testing.T) {
		_, _, err := p.ResolveSigner(context.Background(), "garbage", "")
		assert.ErrorContains(t, err, "parsing private key")
	})
}

func TestFileProvider_ListKeys(t *testing.T) {
	dir := t.TempDir()
	key := newRSAKey(t)
	writePEMPair(t, dir, "pem", key, selfSigned(t, "pem-cn", key))
	writePKCS12(t, dir, "bundle.p12", key, selfSigned(t, "bundle", key), "pw")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.key"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0700))

	p, err := NewFileProvider(dir)
	require.NoError(t, err)

	keys, err := p.ListKeys(context.Background())
	require.NoError(t, err)

	byAlias := make(map[string]KeyInfo)
	for _, k := range keys {
		byAlias[k.Alias] = k
	}
	require.Len(t, byAlias, 2)
	assert.Equal(t, "RSA", byAlias["pem"].Algorithm)
	assert.Equal(t, 2048, byAlias["pem"].KeySize)
	assert.Equal(t, "CN=pem-cn", byAlias["pem"].CertificateSubject)
	assert.Contains(t, byAlias, "bundle")
}

func TestNewFileProvider_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	_, err := NewFileProvider(file)
	assert.Error(t, err)

	_, err = NewFileProvider(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewKeyInfo_EC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ec"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	info := newKeyInfo("ec", cert)
	assert.Equal(t, "EC", info.Algorithm)
	assert.Equal(t, 256, info.KeySize)
	assert.NoError(t, checkPair(key, cert))
}

func TestNewProvider(t *testing.T) {
	dir := t.TempDir()

	p, err := NewProvider(&config.KeystoreConfig{Type: "file", File: config.FileKeyConfig{Dir: dir}})
	require.NoError(t, err)
	assert.IsType(t, &FileProvider{}, p)
	assert.NoError(t, p.Close())

	_, err = NewProvider(&config.KeystoreConfig{Type: "vault"})
	assert.ErrorContains(t, err, "unknown keystore type")

	p, err = NewProvider(&config.KeystoreConfig{Type: "file", File: config.FileKeyConfig{Dir: filepath.Join(dir, "missing")}})
	assert.Error(t, err)
	assert.Nil(t, p)
}
