// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime handles attachment preparation and MIME multipart packaging
for AS4.

# Attachments

A GzipAttachmentBuilder streams a payload through the compressor and tags
the result with a fresh Content-ID and the MimeType and CompressionType
values the ebMS header refers to:

	builder := mime.NewAttachmentBuilder()
	att, err := builder.Prepare(payload, "application/xml")

# MIME Structure

AS4 messages with attachments use multipart/related (SOAP with
Attachments):

	Content-Type: multipart/related;
	    type="application/soap+xml";
	    start="<soap-envelope>";
	    boundary="----=_Part_..."

	------=_Part_...
	Content-Type: application/soap+xml; charset=UTF-8
	Content-ID: <soap-envelope>

	[SOAP Envelope]

	------=_Part_...
	Content-Type: application/octet-stream
	Content-ID: <payload-1>
	Content-Transfer-Encoding: binary
	CompressionType: application/gzip
	MimeType: application/xml

	[Compressed payload]

Serialize produces the body and Content-Type header. ReadMessage parses a
received body that is either a bare SOAP envelope or a multipart/related
package.
*/
package mime
