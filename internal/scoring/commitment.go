package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Commitment returns the hex-encoded SHA-256 digest binding one member's
// score quadruple. The payload format is fixed: four scores at exactly two
// decimal places joined by "|". Any reimplementation must reproduce it
// bit-for-bit, since published digests are compared against the
// ledger-anchored copy for verification.
func Commitment(code, timeScore, peer, final float64) string {
	payload := fmt.Sprintf("%.2f|%.2f|%.2f|%.2f", code, timeScore, peer, final)
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}

// VerifyCommitment recomputes the digest for a score quadruple and compares
// it with a previously published one.
func VerifyCommitment(code, timeScore, peer, final float64, published string) bool {
	return Commitment(code, timeScore, peer, final) == published
}
