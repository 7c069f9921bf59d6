// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as4 sends business documents to AS4 Access Points.

A Sender runs one transmission as a fixed pipeline:

	INIT -> ATTACHMENTS_READY -> HEADER_BUILT -> SECURED -> DISPATCHED -> CONVERTED

Any failure moves the transmission to FAILED and stops it. The payload is
gzip compressed into a single attachment, the eb:Messaging header
references it by Content-ID, the message is timestamped, signed and, when
the security policy asks for it, its attachments are encrypted for the
endpoint certificate. The signed SwA package is POSTed to the endpoint and
the synchronous signal is converted into a receipt or an error.

# Sending

	sender := as4.NewSender(
	    as4.WithSecurity(security.NewConfigurator(
	        security.WithKeyResolver(keys),
	        security.WithSigningKey("ap", password),
	    )),
	)

	resp, err := sender.Send(ctx, &transmission.Request{
	    Endpoint: transmission.Endpoint{Address: url, Certificate: peerCert},
	    Payload:  invoice,
	    Sender:   transmission.PartyID{Type: "iso6523-actorid-upis", Value: "0088:123"},
	    Receiver: transmission.PartyID{Type: "iso6523-actorid-upis", Value: "0088:456"},
	    Service:  transmission.Service{Value: "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"},
	    Action:   "busdox-docid-qns::urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice",
	})

Errors are *transmission.Error values. Their Kind tells local faults
(compression, header, policy, signing) from peer faults (network,
malformed response, application error), and they record the state the
pipeline failed in.

# Receipts

The ReceiptConverter accepts an eb:Receipt that references the sent
message and carries either non-repudiation information whose digests match
the references that were signed, or a copy of the sent UserMessage. A
signature on the receipt is verified against the endpoint certificate;
RequireSignedReceipt makes it mandatory. Peer eb:Error signals become
application errors carrying the peer's error codes.

# References

  - OASIS AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - eDelivery AS4 2.0: https://ec.europa.eu/digital-building-blocks/sites/spaces/DIGITAL/pages/845480153/
*/
package as4
