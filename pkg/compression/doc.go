// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression provides streaming GZIP payload compression for AS4.

The AS4 profile compresses every payload part with GZIP and announces it
with the CompressionType part property "application/gzip". Payloads are read
as a stream, so the uncompressed document never has to be resident in
memory:

	compressor := compression.NewCompressor()
	var buf bytes.Buffer
	n, err := compressor.CompressStream(&buf, payload)

Small payloads can use the byte-slice helpers:

	compressed, err := compressor.Compress(data)
	original, err := compressor.Decompress(compressed)

# References

  - OASIS AS4 Compression: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - GZIP RFC 1952: https://datatracker.ietf.org/doc/html/rfc1952
*/
package compression
