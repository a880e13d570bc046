package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitmentDeterminism(t *testing.T) {
	a := Commitment(79.5, 70.0, 41.67, 65.21)
	b := Commitment(79.5, 70.0, 41.67, 65.21)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex-encoded 256-bit digest
}

func TestCommitmentSensitivity(t *testing.T) {
	base := Commitment(79.5, 70.0, 41.67, 65.21)

	variants := []string{
		Commitment(79.51, 70.0, 41.67, 65.21),
		Commitment(79.5, 70.01, 41.67, 65.21),
		Commitment(79.5, 70.0, 41.68, 65.21),
		Commitment(79.5, 70.0, 41.67, 65.22),
	}

	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d collided", i)
	}
}

func TestCommitmentPayloadFormat(t *testing.T) {
	// The wire format is pinned: "{code:.2f}|{time:.2f}|{peer:.2f}|{final:.2f}".
	// Any reimplementation must reproduce this digest bit-for-bit.
	expected := sha256.Sum256([]byte("80.00|60.00|100.00|78.00"))
	assert.Equal(t, hex.EncodeToString(expected[:]), Commitment(80, 60, 100, 78))
}

func TestVerifyCommitment(t *testing.T) {
	digest := Commitment(80, 60, 100, 78)
	assert.True(t, VerifyCommitment(80, 60, 100, 78, digest))
	assert.False(t, VerifyCommitment(80, 60, 100, 78.01, digest))
	assert.False(t, VerifyCommitment(80, 60, 100, 78, "tampered"))
}
