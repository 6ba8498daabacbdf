package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Domain prefixes for lineage hashing. The version suffix allows the
// algorithm to change without colliding with older hashes.
const (
	domainSequence  = "assay/lineage/sequence/v1"
	domainMutations = "assay/lineage/mutations/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// LineageHash fingerprints an entity's biological identity. A sequence fully
// determines identity, so entities with the same normalized sequence share a
// hash regardless of their declared mutations. Without a sequence the
// canonical mutation list is hashed.
func LineageHash(sequence string, mutations []string) string {
	if seq := NormalizeSequence(sequence); seq != "" {
		return hashWithDomain(domainSequence, []byte(seq))
	}
	tokens := append([]string(nil), mutations...)
	for i := range tokens {
		tokens[i] = strings.ToUpper(strings.TrimSpace(tokens[i]))
	}
	SortMutations(tokens)
	return hashWithDomain(domainMutations, []byte(MutationKey(tokens)))
}
