package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identifiers. The version suffix
// leaves room for an algorithm change.
const (
	DomainEvent    = "paywatch/event/v1"
	DomainEvidence = "paywatch/evidence/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The separator
// keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ID returns the content-addressed identifier of v under domain.
func ID(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical id: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// Digest hashes raw bytes under domain. Used for audit payloads whose
// bytes were produced elsewhere.
func Digest(domain string, raw []byte) string {
	return hashWithDomain(domain, raw)
}
