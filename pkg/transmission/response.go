package transmission

import "time"

// Digest is one non-repudiation reference returned by the peer: the URI of
// a signed part of our message and the digest the peer computed over it.
type Digest struct {
	URI       string
	Algorithm string
	Value     string
}

// Response is the outcome of a successful transmission.
type Response struct {
	// MessageID is the id of the message we sent.
	MessageID string
	// ReceiptID is the id of the peer's receipt signal.
	ReceiptID string
	// Timestamp is the receipt timestamp set by the peer.
	Timestamp time.Time
	// Digests holds the non-repudiation evidence, empty for plain receipts.
	Digests []Digest
	// Signed reports whether the receipt carried a verified signature.
	Signed bool
	// Raw is the SOAP envelope of the receipt, kept for diagnostics.
	Raw []byte
}
