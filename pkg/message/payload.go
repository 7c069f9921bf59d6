package message

import (
	"errors"
	"fmt"
	"strings"
)

// Payload reference errors.
var (
	ErrEmptyContentID     = errors.New("empty content id")
	ErrDuplicateContentID = errors.New("duplicate content id")
	ErrOrphanReference    = errors.New("payload reference without attachment")
	ErrUnreferencedPart   = errors.New("attachment not referenced by header")
)

// NormalizeContentID normalizes a Content-ID by removing angle brackets and cid: prefix
func NormalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

// NewPartInfo creates a PartInfo referencing the payload, carrying its
// MimeType and CompressionType part properties.
func NewPartInfo(ref PayloadRef) PartInfo {
	p := PartInfo{Href: ref.Href()}
	if ref.MimeType != "" {
		p.AddPartProperty(PropertyMimeType, ref.MimeType)
	}
	if ref.CompressionType != "" {
		p.AddPartProperty(PropertyCompressionType, ref.CompressionType)
	}
	return p
}

// AddPartProperty adds a property to PartInfo
func (p *PartInfo) AddPartProperty(name, value string) {
	if p.PartProperties == nil {
		p.PartProperties = &PartProperties{
			Property: make([]Property, 0),
		}
	}
	p.PartProperties.Property = append(p.PartProperties.Property, Property{
		Name:  name,
		Value: value,
	})
}

// Property returns a part property value by name.
func (p *PartInfo) Property(name string) string {
	if p == nil || p.PartProperties == nil {
		return ""
	}
	for _, prop := range p.PartProperties.Property {
		if prop.Name == name {
			return prop.Value
		}
	}
	return ""
}

// ContentIDs returns the normalized content ids referenced by the
// UserMessage, in header order.
func (u *UserMessage) ContentIDs() []string {
	if u == nil || u.PayloadInfo == nil {
		return nil
	}
	ids := make([]string, 0, len(u.PayloadInfo.PartInfo))
	for _, p := range u.PayloadInfo.PartInfo {
		ids = append(ids, NormalizeContentID(p.Href))
	}
	return ids
}

// CheckPayloadReferences verifies that the header references every payload
// exactly once and references nothing else.
func CheckPayloadReferences(u *UserMessage, refs []PayloadRef) error {
	parts := make(map[string]int, len(refs))
	for _, r := range refs {
		id := NormalizeContentID(r.ContentID)
		if id == "" {
			return ErrEmptyContentID
		}
		if _, dup := parts[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateContentID, id)
		}
		parts[id] = 0
	}

	for _, id := range u.ContentIDs() {
		if id == "" {
			return ErrEmptyContentID
		}
		n, ok := parts[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrOrphanReference, id)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateContentID, id)
		}
		parts[id] = n + 1
	}

	for id, n := range parts {
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrUnreferencedPart, id)
		}
	}
	return nil
}
