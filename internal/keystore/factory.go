package keystore

import (
	"fmt"

	"github.com/ShowKa/Oxalis-AS4/internal/config"
)

// NewProvider creates a Provider based on the configuration
func NewProvider(cfg *config.KeystoreConfig) (Provider, error) {
	switch cfg.Type {
	case "pkcs11":
		return newPKCS11Provider(cfg)
	case "file":
		return newFileProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown keystore type: %s", cfg.Type)
	}
}

func newPKCS11Provider(cfg *config.KeystoreConfig) (Provider, error) {
	p11cfg := &PKCS11Config{
		ModulePath:      cfg.PKCS11.ModulePath,
		SlotLabel:       cfg.PKCS11.SlotLabel,
		PIN:             cfg.PKCS11.PIN,
		KeyLabelPattern: cfg.PKCS11.KeyLabelPattern,
	}
	if cfg.PKCS11.SlotID > 0 {
		slotID := cfg.PKCS11.SlotID
		p11cfg.SlotID = &slotID
	}
	p, err := NewPKCS11Provider(p11cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newFileProvider(cfg *config.KeystoreConfig) (Provider, error) {
	keyDir := cfg.File.Dir
	if keyDir == "" {
		keyDir = "./keys"
	}
	p, err := NewFileProvider(keyDir)
	if err != nil {
		return nil, err
	}
	return p, nil
}
