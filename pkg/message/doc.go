// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message provides the ebMS3 header model for outbound AS4 messages.

# Header

UserMessageBuilder turns a transmission.Request and the prepared payload
references into an eb:Messaging header:

	builder := message.NewUserMessageBuilder(
	    message.WithIDGenerator(message.NewUUIDGenerator("ap.example.com")),
	)
	messaging, err := builder.Build(req, []message.PayloadRef{ref})

The header carries MessageInfo (fresh id, UTC timestamp), PartyInfo with
the initiator and responder roles, CollaborationInfo and one PartInfo per
payload. Every PartInfo references its payload with href="cid:<content id>"
and carries the MimeType and CompressionType part properties.

# Wire form

Marshal renders the header with the eb: prefix and env:mustUnderstand,
and NewEnvelope places it in a SOAP 1.2 envelope with an empty body:

	el, err := message.Marshal(messaging)
	doc := message.NewEnvelope(el)

ParseMessaging reads an eb:Messaging header back from a received envelope,
typically a Receipt or Error signal.

# Identifiers

UUIDGenerator produces <uuid>@<domain> ids for message and content ids. It
is safe for concurrent use.

# References

  - OASIS ebMS 3.0 Core: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - ebCore Party ID Types: https://docs.oasis-open.org/ebcore/PartyIdType/v1.0/
*/
package message
