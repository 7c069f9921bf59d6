package keystore

import (
	"context"
	"crypto"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"software.sslmate.com/src/go-pkcs12"
)

// FileProvider implements Provider using key files on disk
//
// For an alias the provider looks for, in order:
//
//	{keyDir}/{alias}.p12 or {keyDir}/{alias}.pfx   PKCS#12, unlocked with the password
//	{keyDir}/{alias}.key and {keyDir}/{alias}.crt  unencrypted PEM
type FileProvider struct {
	keyDir string
	mu     sync.RWMutex
	keys   map[string]*fileKey
}

var _ Provider = (*FileProvider)(nil)

type fileKey struct {
	password string
	signer   crypto.Signer
	cert     *x509.Certificate
}

// NewFileProvider creates a new file-based key provider
func NewFileProvider(keyDir string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}

	return &FileProvider{
		keyDir: keyDir,
		keys:   make(map[string]*fileKey),
	}, nil
}

// ResolveSigner returns the key stored under alias
func (p *FileProvider) ResolveSigner(ctx context.Context, alias, password string) (crypto.Signer, *x509.Certificate, error) {
	if alias == "" {
		return nil, nil, ErrNoAlias
	}
	if filepath.Base(alias) != alias || strings.HasPrefix(alias, ".") {
		return nil, nil, fmt.Errorf("%w: invalid alias %q", ErrKeyNotFound, alias)
	}

	p.mu.RLock()
	k, ok := p.keys[alias]
	p.mu.RUnlock()
	if ok && subtle.ConstantTimeCompare([]byte(k.password), []byte(password)) == 1 {
		return k.signer, k.cert, nil
	}

	k, err := p.load(alias, password)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	p.keys[alias] = k
	p.mu.Unlock()

	return k.signer, k.cert, nil
}

// ListKeys returns all keys in the key directory. PKCS#12 entries only
// carry their alias since reading them needs the password.
func (p *FileProvider) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	entries, err := os.ReadDir(p.keyDir)
	if err != nil {
		return nil, fmt.Errorf("reading key directory: %w", err)
	}

	var keys []KeyInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		alias := strings.TrimSuffix(name, ext)
		switch ext {
		case ".p12", ".pfx":
			keys = append(keys, KeyInfo{Alias: alias})
		case ".key":
			cert, err := loadCertificate(filepath.Join(p.keyDir, alias+".crt"))
			if err != nil {
				continue // Skip keys without certificates
			}
			keys = append(keys, newKeyInfo(alias, cert))
		}
	}

	return keys, nil
}

// Close releases resources
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = make(map[string]*fileKey)
	return nil
}

func (p *FileProvider) load(alias, password string) (*fileKey, error) {
	for _, ext := range []string{".p12", ".pfx"} {
		data, err := os.ReadFile(filepath.Join(p.keyDir, alias+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading keystore file: %w", err)
		}
		return loadPKCS12(data, password)
	}

	keyPath := filepath.Join(p.keyDir, alias+".key")
	certPath := filepath.Join(p.keyDir, alias+".crt")

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	cert, err := loadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	if err := checkPair(key, cert); err != nil {
		return nil, err
	}

	return &fileKey{password: password, signer: key, cert: cert}, nil
}

func loadPKCS12(data []byte, password string) (*fileKey, error) {
	key, cert, _, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassword
		}
		return nil, fmt.Errorf("decoding PKCS#12: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	if err := checkPair(signer, cert); err != nil {
		return nil, err
	}
	return &fileKey{password: password, signer: signer, cert: cert}, nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrUnsupportedKey
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, block.Type)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}
