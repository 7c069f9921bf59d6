// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements WS-Security for outbound AS4 messages sent with
SOAP with Attachments (SwA).

# Configuration

A Configurator turns a transmission request into a security Context: it
loads the WS-Policy document, validates the receiving endpoint's
certificate and resolves the signing key from a keystore.

	c := security.NewConfigurator(
	    security.WithPolicyLoader(pmode.FileLoader{Path: "policy.xml"}),
	    security.WithKeyResolver(keys),
	    security.WithSigningKey("ap", password),
	)
	sc, err := c.Configure(ctx, req, exchange)
	secured, err := c.Secure(ctx, sc, envelope, attachments)

# Digital Signatures

SwASigner signs with RSA-SHA256 using Exclusive XML Canonicalization with
an InclusiveNamespaces PrefixList of "env" on SignedInfo. The signature
references:
  - the SOAP Body
  - the eb:Messaging header
  - the wsu:Timestamp
  - every attachment, via the Attachment-Content-Signature-Transform

The signing certificate is carried as a BinarySecurityToken unless the
policy requires an issuer serial, key identifier or thumbprint reference.
Verifier recomputes every digest and the signature value.

# Encryption

SwAEncryptor encrypts attachments with AES-GCM under one key per message,
transported in an xenc:EncryptedKey wrapped with RSA-OAEP (MGF1 SHA-256)
for the endpoint certificate. Encryption runs after signing, so the
signature covers the compressed plaintext.

# Certificate Validation

DefaultCertificateValidator checks an endpoint certificate against a pool
of trust anchors. RevocationAwareCertValidator adds OCSP with CRL fallback.

# References

  - WS-Security 1.1.1: https://docs.oasis-open.org/wss-m/wss/v1.1.1/
  - WS-Security SwA Profile 1.1.1: https://docs.oasis-open.org/wss-m/wss/v1.1.1/wss-SwAProfile-v1.1.1.html
  - XML Signature: https://www.w3.org/TR/xmldsig-core1/
  - XML Encryption 1.1: https://www.w3.org/TR/xmlenc-core1/
*/
package security
