package changelog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainChangeset is the domain prefix of changeset checksums.
// Version suffix enables future algorithm migration.
const DomainChangeset = "graphmig/changeset/v1"

// Fingerprint computes the checksum of an ordered list of queries.
//
// Format: SHA256(domain + 0x00 + q1 + 0x00 + q2 + 0x00 ...), hex encoded.
// Queries are hashed as raw bytes, so any byte-level edit changes the
// checksum. The separator after every query keeps ["AB"] and ["A", "B"]
// apart; order is significant.
func Fingerprint(queries []string) string {
	h := sha256.New()
	h.Write([]byte(DomainChangeset))
	h.Write([]byte{0x00})
	for _, q := range queries {
		h.Write([]byte(q))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizationWarnings reports queries that are not in Unicode NFC form.
// Such text looks identical to its composed spelling but checksums
// differently, so an editor that renormalizes the file breaks the changeset.
func NormalizationWarnings(changesets []Changeset) []string {
	var warnings []string
	for _, cs := range changesets {
		for i, q := range cs.Queries() {
			if !norm.NFC.IsNormalString(q) {
				warnings = append(warnings, fmt.Sprintf("%s: query %d is not NFC-normalized", cs.Key(), i+1))
			}
		}
	}
	return warnings
}
