// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package oxalisas4 is an outbound AS4 (ebMS 3.0) sender.

# Overview

One call transmits one business document to a receiving access point and
returns the peer's receipt. A transmission runs through a fixed pipeline:

	INIT -> ATTACHMENTS_READY -> HEADER_BUILT -> SECURED -> DISPATCHED -> CONVERTED
	                                                                   \-> FAILED

The payload is gzip-compressed into a MIME attachment, described by an
eb:Messaging header, signed and encrypted as the WS-Policy requires, posted
as SOAP with Attachments and the returned signal is checked against what
was sent.

# Standards Implemented

  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - WS-Security 1.1.1 with the SwA profile: https://docs.oasis-open.org/wss/v1.1/
  - XML Signature and XML Encryption 1.1
  - eDelivery BDXL and OASIS SMP 1.0 for endpoint discovery

# Package Structure

	github.com/ShowKa/Oxalis-AS4/pkg/as4          - Sender and ResponseConverter
	github.com/ShowKa/Oxalis-AS4/pkg/transmission - Request, Response, lifecycle states and typed errors
	github.com/ShowKa/Oxalis-AS4/pkg/message      - Message ids and the eb:Messaging header
	github.com/ShowKa/Oxalis-AS4/pkg/compression  - GZIP payload compression
	github.com/ShowKa/Oxalis-AS4/pkg/mime         - Attachments and multipart/related packaging
	github.com/ShowKa/Oxalis-AS4/pkg/pmode        - WS-Policy loading and security parameters
	github.com/ShowKa/Oxalis-AS4/pkg/security     - WS-Security signing, encryption and verification
	github.com/ShowKa/Oxalis-AS4/pkg/transport    - HTTPS dispatcher with connect and read timeouts
	github.com/ShowKa/Oxalis-AS4/pkg/discovery    - BDXL/SMP endpoint lookup

The as4send command in cmd/as4send wires these together from a YAML
configuration, a file or PKCS#11 keystore and optional Prometheus metrics.

# Quick Start

	sender := as4.NewSender(
	    as4.WithSecurity(security.NewConfigurator(
	        security.WithKeyResolver(keys),
	        security.WithSigningKey("ap", password),
	    )),
	)

	resp, err := sender.Send(ctx, &transmission.Request{
	    Endpoint: transmission.Endpoint{Address: "https://ap.example.com/as4", Certificate: peerCert},
	    Payload:  strings.NewReader("<Invoice>X</Invoice>"),
	    Sender:   transmission.PartyID{Value: "0088:sender"},
	    Receiver: transmission.PartyID{Value: "0088:receiver"},
	    Service:  transmission.Service{Value: "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"},
	    Action:   "busdox-docid-qns::Invoice",
	})
	if err != nil {
	    kind, _ := transmission.KindOf(err)
	    ...
	}

# Security Features

  - RSA-SHA256 signatures over the eb:Messaging header, the SOAP body, the
    timestamp and every attachment (Attachment-Content-Signature-Transform)
  - Exclusive XML Canonicalization
  - AES-GCM attachment encryption with RSA-OAEP key transport, applied
    after signing and only for the endpoint's own certificate
  - Endpoint certificate validation against trust anchors, with optional
    OCSP and CRL revocation checks
  - Receipt validation: RefToMessageId, signature and non-repudiation
    digests

# License

BSD-2-Clause License
*/
package oxalisas4
