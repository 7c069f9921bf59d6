// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport delivers serialized AS4 messages to a peer over HTTP(S).

# Dispatching

The HTTPDispatcher POSTs a MIME package to the endpoint and returns the
peer's synchronous response, parsed into its SOAP envelope and attachments:

	d := transport.NewHTTPDispatcher(transport.DefaultHTTPSConfig())
	exchange, err := d.CreateExchange("https://ap.example.com/as4")
	resp, err := d.Send(ctx, exchange, msg)

Two timeouts apply. ConnectTimeout bounds TCP establishment and the TLS
handshake; ReadTimeout starts when the request is handed to the transport and
bounds the wait for the full response. Read timeouts are measured on the
dispatcher's Clock, which tests replace with a fake.

Failures are returned as transmission errors of kind NetworkError with a
timeout, connection-refused or other subkind. A 2xx response whose body is
not SOAP is a MalformedResponseError.

# TLS Configuration

The default configuration allows TLS 1.2 and 1.3. For TLS 1.2 the following
cipher suites are used:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# References

  - eDelivery AS4 Transport: https://ec.europa.eu/digital-building-blocks/sites/spaces/DIGITAL/
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
  - TLS 1.2 RFC 5246: https://datatracker.ietf.org/doc/html/rfc5246
*/
package transport
