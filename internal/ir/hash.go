package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainResult   = "liveq/result/v1"
	DomainDocument = "liveq/document/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ResultHash identifies a result value. Live subscriptions compare hashes
// of consecutive results and skip emissions that did not change.
func ResultHash(result IRValue) (string, error) {
	canonical, err := MarshalCanonical(result)
	if err != nil {
		return "", fmt.Errorf("ResultHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResult, canonical), nil
}

// DocumentHash identifies raw query document text. The engine uses it as
// the key of its compiled-document cache.
func DocumentHash(text string) string {
	return hashWithDomain(DomainDocument, []byte(text))
}
