package security

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/beevik/etree"

	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
)

// Encryption errors
var (
	ErrNotRSAKey          = errors.New("certificate does not contain an RSA public key")
	ErrNoEncryptedKey     = errors.New("xenc:EncryptedKey not found")
	ErrCiphertextTooShort = errors.New("ciphertext shorter than the GCM nonce")
)

// SwAEncryptor encrypts attachments for a recipient following the WS-Security
// SOAP with Attachments profile. One content encryption key is generated per
// message and transported in a single xenc:EncryptedKey, wrapped with the
// recipient's RSA key. Each attachment gets its own xenc:EncryptedData whose
// CipherReference points at the MIME part.
type SwAEncryptor struct {
	recipient *x509.Certificate
	cfg       pmode.EncryptionConfig
}

// NewSwAEncryptor creates an encryptor for the recipient certificate.
func NewSwAEncryptor(recipient *x509.Certificate, cfg *pmode.EncryptionConfig) (*SwAEncryptor, error) {
	if recipient == nil {
		return nil, fmt.Errorf("recipient certificate is required")
	}
	if _, ok := recipient.PublicKey.(*rsa.PublicKey); !ok {
		return nil, ErrNotRSAKey
	}
	if cfg == nil {
		return nil, fmt.Errorf("encryption configuration is required")
	}
	if cfg.DataEncryption.KeySize() == 0 {
		return nil, fmt.Errorf("unsupported data encryption algorithm %q", cfg.DataEncryption)
	}
	if _, err := oaepHash(cfg.Algorithm); err != nil {
		return nil, err
	}
	return &SwAEncryptor{recipient: recipient, cfg: *cfg}, nil
}

func oaepHash(alg pmode.KeyEncryptionAlgorithm) (crypto.Hash, error) {
	switch alg {
	case pmode.KeyAlgoRSAOAEP256:
		return crypto.SHA256, nil
	case pmode.KeyAlgoRSAOAEP:
		return crypto.SHA1, nil
	}
	return 0, fmt.Errorf("unsupported key transport algorithm %q", alg)
}

func newOAEPHash(h crypto.Hash) hash.Hash {
	if h == crypto.SHA1 {
		return sha1.New()
	}
	return sha256.New()
}

// Encrypt returns encrypted copies of attachments and adds the matching
// xenc elements to the Security header of doc. The input attachments are
// not modified.
func (e *SwAEncryptor) Encrypt(doc *etree.Document, attachments []*mime.Attachment) ([]*mime.Attachment, error) {
	sec, err := securityHeader(doc, true)
	if err != nil {
		return nil, err
	}

	key := make([]byte, e.cfg.DataEncryption.KeySize())
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	h, _ := oaepHash(e.cfg.Algorithm)
	wrapped, err := rsa.EncryptOAEP(newOAEPHash(h), rand.Reader, e.recipient.PublicKey.(*rsa.PublicKey), key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt symmetric key: %w", err)
	}

	encKeyID := "EK-" + generateID()
	bstID := "X509-" + generateID()
	if e.cfg.CertReference == pmode.TokenRefBinarySecurityToken {
		bst := sec.CreateElement("wsse:BinarySecurityToken")
		bst.CreateAttr("EncodingType", EncodingTypeBase64)
		bst.CreateAttr("ValueType", ValueTypeX509v3)
		bst.CreateAttr("wsu:Id", bstID)
		bst.SetText(base64.StdEncoding.EncodeToString(e.recipient.Raw))
	}

	// EncryptedKey precedes the EncryptedData elements it references.
	ek := sec.CreateElement("xenc:EncryptedKey")
	ek.CreateAttr("xmlns:xenc", message.NsXENC)
	ek.CreateAttr("Id", encKeyID)
	method := ek.CreateElement("xenc:EncryptionMethod")
	method.CreateAttr("Algorithm", string(e.cfg.Algorithm))
	dm := method.CreateElement("ds:DigestMethod")
	dm.CreateAttr("xmlns:ds", message.NsDS)
	if h == crypto.SHA1 {
		dm.CreateAttr("Algorithm", "http://www.w3.org/2000/09/xmldsig#sha1")
	} else {
		dm.CreateAttr("Algorithm", AlgorithmSHA256)
		mgf := method.CreateElement("xenc11:MGF")
		mgf.CreateAttr("xmlns:xenc11", message.NsXENC11)
		mgf.CreateAttr("Algorithm", pmode.MGF1SHA256)
	}
	keyInfo := ek.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", message.NsDS)
	if err := addTokenReference(keyInfo, e.recipient, e.cfg.CertReference, bstID); err != nil {
		return nil, fmt.Errorf("failed to add certificate reference: %w", err)
	}
	ek.CreateElement("xenc:CipherData").CreateElement("xenc:CipherValue").SetText(base64.StdEncoding.EncodeToString(wrapped))
	refList := ek.CreateElement("xenc:ReferenceList")

	out := make([]*mime.Attachment, 0, len(attachments))
	for _, att := range attachments {
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		// nonce || ciphertext || tag
		sealed := gcm.Seal(nonce, nonce, att.Data, nil)

		edID := "ED-" + generateID()
		refList.CreateElement("xenc:DataReference").CreateAttr("URI", "#"+edID)

		ed := sec.CreateElement("xenc:EncryptedData")
		ed.CreateAttr("xmlns:xenc", message.NsXENC)
		ed.CreateAttr("Id", edID)
		ed.CreateAttr("MimeType", mime.ContentTypeOctetStream)
		ed.CreateAttr("Type", TypeAttachmentContentOnly)
		ed.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", string(e.cfg.DataEncryption))

		edKeyInfo := ed.CreateElement("ds:KeyInfo")
		edKeyInfo.CreateAttr("xmlns:ds", message.NsDS)
		str := edKeyInfo.CreateElement("wsse:SecurityTokenReference")
		str.CreateAttr("xmlns:wsse11", NsWSSE11)
		str.CreateAttr("wsse11:TokenType", TokenTypeEncryptedKey)
		str.CreateElement("wsse:Reference").CreateAttr("URI", "#"+encKeyID)

		cref := ed.CreateElement("xenc:CipherData").CreateElement("xenc:CipherReference")
		cref.CreateAttr("URI", att.Href())
		t := cref.CreateElement("xenc:Transforms").CreateElement("ds:Transform")
		t.CreateAttr("xmlns:ds", message.NsDS)
		t.CreateAttr("Algorithm", TransformAttachmentCiphertext)

		out = append(out, &mime.Attachment{PayloadRef: att.PayloadRef, Data: sealed})
	}
	return out, nil
}

// SwADecryptor reverses SwAEncryptor with the recipient's private key.
type SwADecryptor struct {
	key crypto.Decrypter
}

// NewSwADecryptor creates a decryptor. key is typically an *rsa.PrivateKey
// or an HSM backed crypto.Decrypter.
func NewSwADecryptor(key crypto.Decrypter) *SwADecryptor {
	return &SwADecryptor{key: key}
}

// Decrypt returns plaintext copies of the attachments referenced by the
// encryption elements in doc. Attachments that are not encrypted are
// returned unchanged.
func (d *SwADecryptor) Decrypt(doc *etree.Document, attachments []*mime.Attachment) ([]*mime.Attachment, error) {
	sec, err := securityHeader(doc, false)
	if err != nil {
		return nil, err
	}
	ek := message.FindChild(sec, message.NsXENC, "EncryptedKey")
	if ek == nil {
		return nil, ErrNoEncryptedKey
	}

	h := crypto.SHA256
	if m := message.FindChild(ek, message.NsXENC, "EncryptionMethod"); m != nil {
		if m.SelectAttrValue("Algorithm", "") == string(pmode.KeyAlgoRSAOAEP) {
			h = crypto.SHA1
		}
	}
	cv := message.FindDescendant(ek, message.NsXENC, "CipherValue")
	if cv == nil {
		return nil, fmt.Errorf("%w: no CipherValue", ErrNoEncryptedKey)
	}
	wrapped, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cv.Text()))
	if err != nil {
		return nil, fmt.Errorf("decoding encrypted key: %w", err)
	}
	key, err := d.key.Decrypt(rand.Reader, wrapped, &rsa.OAEPOptions{Hash: h, MGFHash: h})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt symmetric key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plain := make(map[string][]byte)
	for _, ed := range sec.ChildElements() {
		if ed.Tag != "EncryptedData" || ed.NamespaceURI() != message.NsXENC {
			continue
		}
		cref := message.FindDescendant(ed, message.NsXENC, "CipherReference")
		if cref == nil {
			continue
		}
		href := cref.SelectAttrValue("URI", "")
		var att *mime.Attachment
		for _, a := range attachments {
			if a.Href() == href {
				att = a
				break
			}
		}
		if att == nil {
			return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, href)
		}
		if len(att.Data) < gcm.NonceSize() {
			return nil, fmt.Errorf("%s: %w", href, ErrCiphertextTooShort)
		}
		nonce, ct := att.Data[:gcm.NonceSize()], att.Data[gcm.NonceSize():]
		data, err := gcm.Open(nil, nonce, ct, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", href, err)
		}
		plain[href] = data
	}

	out := make([]*mime.Attachment, 0, len(attachments))
	for _, a := range attachments {
		if data, ok := plain[a.Href()]; ok {
			out = append(out, &mime.Attachment{PayloadRef: a.PayloadRef, Data: data})
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
