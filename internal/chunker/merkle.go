package chunker

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot computes the Merkle root over a chunk list's
// hex-encoded content hashes, bottom-up: each level pairs adjacent
// hashes and hashes their concatenation, duplicating a trailing odd
// element, until one hash remains.
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	hashes := make([][]byte, len(chunkHashes))
	for i, hashStr := range chunkHashes {
		decoded, err := hex.DecodeString(hashStr)
		if err != nil {
			return "", err
		}
		hashes[i] = decoded
	}

	for len(hashes) > 1 {
		var nextLevel [][]byte

		for i := 0; i < len(hashes); i += 2 {
			var combined []byte
			if i+1 < len(hashes) {
				combined = append(append([]byte{}, hashes[i]...), hashes[i+1]...)
			} else {
				combined = append(append([]byte{}, hashes[i]...), hashes[i]...)
			}

			hasher := blake3.New()
			hasher.Write(combined)
			nextLevel = append(nextLevel, hasher.Sum(nil))
		}

		hashes = nextLevel
	}

	return hex.EncodeToString(hashes[0]), nil
}
