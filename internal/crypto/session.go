package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// Domain separation string for archive key derivation.
	archiveInfoString = "archivestream-v1-chunk-keys"

	// Expected output length from HKDF: 32 (PayloadKey) + 32 (ControlKey) + 12 (IVBase) = 76 bytes
	hkdfOutputLength = 76
)

// DeriveArchiveKey derives the keys one archive write or read needs from
// a long-term master secret (typically the passphrase-unlocked key held
// in the keystore) and a 32-byte salt unique to the archive. Binding the
// salt to something archive-specific means two different archives never
// reuse the same PayloadKey/IVBase pair even when their secret is the
// same, without requiring any peer key exchange: this archive format has
// exactly one writer and no network counterpart to agree a shared secret
// with. The manifest's Merkle root is the strongest salt available, but
// it isn't known until every chunk is written; callers that must
// encrypt as they produce chunks bind to some other per-archive value
// instead (e.g. a hash of the session id) and accept the weaker
// property that the key no longer cryptographically commits to the
// final chunk list.
//
// Returns:
//   - SessionKeys containing PayloadKey, ControlKey, and IVBase
//   - error if salt has the wrong length or HKDF fails
func DeriveArchiveKey(masterSecret, salt []byte) (*SessionKeys, error) {
	if len(salt) != 32 {
		return nil, fmt.Errorf("salt must be 32 bytes, got %d", len(salt))
	}

	hkdfReader := hkdf.New(sha256.New, masterSecret, salt, []byte(archiveInfoString))

	keyMaterial := make([]byte, hkdfOutputLength)
	if _, err := io.ReadFull(hkdfReader, keyMaterial); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	var keys SessionKeys
	copy(keys.PayloadKey[:], keyMaterial[0:32])
	copy(keys.ControlKey[:], keyMaterial[32:64])
	copy(keys.IVBase[:], keyMaterial[64:76])

	return &keys, nil
}
