package pmode

import (
	"fmt"
	"time"
)

// Signature algorithms
type SignatureAlgorithm string

const (
	AlgoRSASHA256 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgoRSASHA384 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgoRSASHA512 SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

// Hash algorithms
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha256"
	HashSHA384 HashAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	HashSHA512 HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// Key transport algorithms
type KeyEncryptionAlgorithm string

const (
	KeyAlgoRSAOAEP    KeyEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	KeyAlgoRSAOAEP256 KeyEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#rsa-oaep"
)

// MGF1 with SHA-256, used with KeyAlgoRSAOAEP256
const MGF1SHA256 = "http://www.w3.org/2009/xmlenc11#mgf1sha256"

// Data encryption algorithms
type DataEncryptionAlgorithm string

const (
	DataAlgoAES128GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	DataAlgoAES256GCM DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
)

// KeySize returns the symmetric key length in bytes.
func (a DataEncryptionAlgorithm) KeySize() int {
	switch a {
	case DataAlgoAES128GCM:
		return 16
	case DataAlgoAES256GCM:
		return 32
	}
	return 0
}

// Canonicalization algorithms
type CanonicalizationAlgorithm string

const (
	C14NExclusive CanonicalizationAlgorithm = "http://www.w3.org/2001/10/xml-exc-c14n#"
)

// Token reference methods
type TokenReferenceMethod string

const (
	TokenRefBinarySecurityToken TokenReferenceMethod = "BinarySecurityToken"
	TokenRefKeyIdentifier       TokenReferenceMethod = "KeyIdentifier"
	TokenRefIssuerSerial        TokenReferenceMethod = "IssuerSerial"
	TokenRefThumbprint          TokenReferenceMethod = "Thumbprint"
)

// Action is one step of outbound security processing.
type Action string

const (
	ActionTimestamp Action = "Timestamp"
	ActionSign      Action = "Signature"
	ActionEncrypt   Action = "Encrypt"
)

// DefaultTimestampTTL is the lifetime of the wsu:Timestamp.
const DefaultTimestampTTL = 5 * time.Minute

// SignConfig contains signing configuration
type SignConfig struct {
	Algorithm        SignatureAlgorithm
	HashFunction     HashAlgorithm
	Canonicalization CanonicalizationAlgorithm
	TokenReference   TokenReferenceMethod
	SignBody         bool
	SignMessaging    bool
	SignAttachments  bool
}

// EncryptionConfig contains encryption configuration
type EncryptionConfig struct {
	Algorithm          KeyEncryptionAlgorithm
	MGF                string
	KeyDigest          HashAlgorithm
	DataEncryption     DataEncryptionAlgorithm
	CertReference      TokenReferenceMethod
	EncryptAttachments bool
}

// SecurityPolicy is a parsed security policy document. It is read-only
// once loaded and may be shared between concurrent transmissions.
type SecurityPolicy struct {
	// Source names the document the policy was loaded from.
	Source string
	// Suite is the WS-SecurityPolicy algorithm suite name.
	Suite string
	// Actions are applied in order.
	Actions    []Action
	Sign       *SignConfig
	Encryption *EncryptionConfig
}

// Has reports whether the policy mandates the action.
func (p *SecurityPolicy) Has(a Action) bool {
	for _, x := range p.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// EncryptionRequired reports whether attachments must be encrypted for the
// receiving endpoint.
func (p *SecurityPolicy) EncryptionRequired() bool {
	return p.Has(ActionEncrypt) && p.Encryption != nil && p.Encryption.EncryptAttachments
}

// Validate checks that the policy signs the whole message.
func (p *SecurityPolicy) Validate() error {
	if !p.Has(ActionSign) || p.Sign == nil {
		return fmt.Errorf("policy does not mandate a signature")
	}
	if !p.Sign.SignBody {
		return fmt.Errorf("policy does not sign the SOAP body")
	}
	if !p.Sign.SignMessaging {
		return fmt.Errorf("policy does not sign the eb:Messaging header")
	}
	if !p.Sign.SignAttachments {
		return fmt.Errorf("policy does not sign attachments")
	}
	if p.Has(ActionEncrypt) && p.Encryption == nil {
		return fmt.Errorf("policy mandates encryption without an encryption configuration")
	}
	return nil
}
