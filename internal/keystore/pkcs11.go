//go:build pkcs11

package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// PKCS11Provider implements Provider using a PKCS#11 token (HSM/smart card)
type PKCS11Provider struct {
	config          *crypto11.Config
	keyLabelPattern string
	mu              sync.RWMutex
	ctx             *crypto11.Context
	signers         map[string]*pkcs11Key // Cache of alias -> key
}

var _ Provider = (*PKCS11Provider)(nil)

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is provided)
	SlotID *uint

	// SlotLabel is the token label to search for (optional if SlotID is provided)
	SlotLabel string

	// PIN is the user PIN. When empty, the password of the first
	// ResolveSigner call is used to log in.
	PIN string

	// KeyLabelPattern is the pattern for key labels
	// Use {alias} as placeholder, e.g., "as4-{alias}-signing"
	KeyLabelPattern string
}

type pkcs11Key struct {
	signer crypto.Signer
	cert   *x509.Certificate
}

// NewPKCS11Provider creates a new PKCS#11 key provider. With a PIN the
// token session is opened immediately.
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}

	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	pattern := cfg.KeyLabelPattern
	if pattern == "" {
		pattern = "{alias}"
	}

	p := &PKCS11Provider{
		config:          config,
		keyLabelPattern: pattern,
		signers:         make(map[string]*pkcs11Key),
	}
	if cfg.PIN != "" {
		if _, err := p.session(""); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// session returns the token context, logging in with pin on first use.
func (p *PKCS11Provider) session(pin string) (*crypto11.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return p.ctx, nil
	}

	config := *p.config
	if config.Pin == "" {
		config.Pin = pin
	}
	if config.Pin == "" {
		return nil, ErrPINRequired
	}
	ctx, err := crypto11.Configure(&config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}
	p.ctx = ctx
	return ctx, nil
}

// ResolveSigner returns the key pair labelled for alias
func (p *PKCS11Provider) ResolveSigner(ctx context.Context, alias, password string) (crypto.Signer, *x509.Certificate, error) {
	if alias == "" {
		return nil, nil, ErrNoAlias
	}

	// Check cache first
	p.mu.RLock()
	if k, ok := p.signers[alias]; ok {
		p.mu.RUnlock()
		return k.signer, k.cert, nil
	}
	p.mu.RUnlock()

	token, err := p.session(password)
	if err != nil {
		return nil, nil, err
	}
	k, err := loadKeyPair(token, p.keyLabel(alias))
	if err != nil {
		return nil, nil, err
	}

	// Cache it
	p.mu.Lock()
	p.signers[alias] = k
	p.mu.Unlock()

	return k.signer, k.cert, nil
}

// ListKeys returns the keys resolved so far
func (p *PKCS11Provider) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	// PKCS#11 doesn't have a great way to enumerate by pattern,
	// so only keys that have been resolved are listed
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]KeyInfo, 0, len(p.signers))
	for alias, k := range p.signers {
		keys = append(keys, newKeyInfo(alias, k.cert))
	}
	return keys, nil
}

// Close releases PKCS#11 resources
func (p *PKCS11Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Close()
	p.ctx = nil
	p.signers = make(map[string]*pkcs11Key)
	return err
}

func (p *PKCS11Provider) keyLabel(alias string) string {
	return strings.ReplaceAll(p.keyLabelPattern, "{alias}", alias)
}

func loadKeyPair(token *crypto11.Context, label string) (*pkcs11Key, error) {
	// Find the private key by label
	key, err := token.FindKeyPair(nil, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, label)
	}

	// Find the associated certificate
	cert, err := token.FindCertificate(nil, []byte(label), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate labelled %s", ErrKeyNotFound, label)
	}
	if err := checkPair(key, cert); err != nil {
		return nil, err
	}

	return &pkcs11Key{signer: key, cert: cert}, nil
}
