package manager

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pravinbhuari/archivestream/internal/archivetime"
)

// VerificationStatus represents the result of Merkle root verification.
type VerificationStatus int

const (
	VerificationSuccess VerificationStatus = iota + 1
	VerificationHashMismatch
	VerificationCorruptionDetected
)

func (vs VerificationStatus) String() string {
	switch vs {
	case VerificationSuccess:
		return "SUCCESS"
	case VerificationHashMismatch:
		return "HASH_MISMATCH"
	case VerificationCorruptionDetected:
		return "CORRUPTION_DETECTED"
	default:
		return "UNKNOWN"
	}
}

// VerificationResult is the outcome of verifying one manifest's Merkle
// root, optionally signed so a third party can trust it without
// recomputing the root itself.
type VerificationResult struct {
	SessionID          string
	Status             VerificationStatus
	MerkleRootComputed []byte
	MerkleRootExpected []byte
	Timestamp          time.Time
	Signature          []byte
	PublicKey          []byte
}

// ManifestVerifier checks a manifest's Merkle root against the one
// computed while reading an archive, and signs/verifies that check with
// Ed25519.
type ManifestVerifier struct{}

// NewManifestVerifier creates a new verifier.
func NewManifestVerifier() *ManifestVerifier {
	return &ManifestVerifier{}
}

// VerifyMerkleRoot compares a freshly computed Merkle root to the one
// recorded in the manifest.
func (mv *ManifestVerifier) VerifyMerkleRoot(computed, expected []byte) VerificationStatus {
	if len(computed) != len(expected) {
		return VerificationCorruptionDetected
	}

	for i := range computed {
		if computed[i] != expected[i] {
			return VerificationHashMismatch
		}
	}

	return VerificationSuccess
}

// canonicalJSON produces the exact bytes signed/verified for a result,
// so signing and verification always hash the same representation.
func canonicalJSON(result *VerificationResult) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"session_id":           result.SessionID,
		"status":               result.Status.String(),
		"merkle_root_computed": result.MerkleRootComputed,
		"merkle_root_expected": result.MerkleRootExpected,
		"timestamp":            result.Timestamp.Unix(),
	})
}

// SignVerificationResult signs result with privateKey, attaching the
// signature and the corresponding public key.
func (mv *ManifestVerifier) SignVerificationResult(result *VerificationResult, privateKey ed25519.PrivateKey) error {
	canonical, err := canonicalJSON(result)
	if err != nil {
		return fmt.Errorf("failed to marshal verification result: %w", err)
	}

	result.Signature = ed25519.Sign(privateKey, canonical)
	result.PublicKey = privateKey.Public().(ed25519.PublicKey)
	return nil
}

// VerifySignature checks result.Signature against result.PublicKey.
func (mv *ManifestVerifier) VerifySignature(result *VerificationResult) bool {
	canonical, err := canonicalJSON(result)
	if err != nil {
		return false
	}
	return ed25519.Verify(result.PublicKey, canonical, result.Signature)
}

// CreateVerificationResult builds an (unsigned) VerificationResult for
// sessionID from a computed and expected Merkle root.
func (mv *ManifestVerifier) CreateVerificationResult(sessionID string, computed, expected []byte) *VerificationResult {
	return &VerificationResult{
		SessionID:          sessionID,
		Status:             mv.VerifyMerkleRoot(computed, expected),
		MerkleRootComputed: computed,
		MerkleRootExpected: expected,
		Timestamp:          archivetime.ArchiveTSNow(),
	}
}
