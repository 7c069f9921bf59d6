// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pmode provides the security part of the AS4 Processing Mode (P-Mode)
used for outbound transmissions.

The security settings are declared in a WS-SecurityPolicy document. The
policy is loaded per transmission and reduced to a SecurityPolicy:

	loader := pmode.FileLoader{Path: "/etc/as4/policy.xml"}
	policy, err := loader.Load(ctx)
	if err != nil {
	    // err is a transmission PolicyLoadError
	}
	if policy.EncryptionRequired() {
	    // encrypt attachments for the receiving endpoint
	}

When no policy file is configured, DefaultLoader supplies the embedded
policy: a timestamp, an RSA-SHA256 signature over the SOAP body, the
eb:Messaging header and every attachment, and AES-128-GCM encryption of
attachments with the key transported by RSA-OAEP (MGF1 SHA-256).

# Supported assertions

  - sp:AsymmetricBinding with sp:AlgorithmSuite Basic128GCMSha256MgfSha256
    or Basic256GCMSha256MgfSha256
  - sp:IncludeTimestamp
  - sp:InitiatorToken / sp:RecipientToken X509 token reference requirements
  - sp:SignedParts (Body, Header Messaging, Attachments), all mandatory
  - sp:EncryptedParts/sp:Attachments

# References

  - OASIS AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - WS-SecurityPolicy 1.3: https://docs.oasis-open.org/ws-sx/ws-securitypolicy/v1.3/
*/
package pmode
