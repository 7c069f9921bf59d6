package message

import (
	"github.com/google/uuid"
)

// DefaultIDDomain is the right-hand side of generated ids.
const DefaultIDDomain = "oxalis-as4.local"

// IDGenerator produces message and content identifiers. Implementations
// must be safe for concurrent use and must never return an empty or
// repeated value within the process lifetime.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates RFC 2822 style ids of the form <uuid>@<domain>
// from random version 4 UUIDs.
type UUIDGenerator struct {
	domain string
}

var _ IDGenerator = (*UUIDGenerator)(nil)

// NewUUIDGenerator creates a generator for the given domain. An empty
// domain selects DefaultIDDomain.
func NewUUIDGenerator(domain string) *UUIDGenerator {
	if domain == "" {
		domain = DefaultIDDomain
	}
	return &UUIDGenerator{domain: domain}
}

// Generate returns a fresh id.
func (g *UUIDGenerator) Generate() string {
	return uuid.NewString() + "@" + g.domain
}
