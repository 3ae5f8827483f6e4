// Package chunker builds the durable manifest an archive write produces
// once its chunk buffer has flushed: the ordered, content-hashed chunk
// list a later read must fetch, in order, to reconstruct the record
// stream, plus a Merkle root that lets a reader verify the whole list
// arrived intact from a single digest.
package chunker

import (
	"time"

	"github.com/pravinbhuari/archivestream/internal/archivetime"
	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
)

// ChunkDescriptor is one chunk referenced by a manifest, in submission
// order.
type ChunkDescriptor struct {
	Index  int    `json:"index"`
	Hash   string `json:"hash"`   // hex-encoded content hash, as returned by the chunk sink
	Length int    `json:"length"` // chunk length in bytes as the sink reported it (size, not stored size)
}

// Manifest is the complete record of one archive write.
type Manifest struct {
	SessionID  string            `json:"session_id"`
	HashAlgo   string            `json:"hash_algo"`
	ChunkCount int               `json:"chunk_count"`
	Chunks     []ChunkDescriptor `json:"chunks"`
	MerkleRoot string            `json:"merkle_root"`
	CreatedAt  time.Time         `json:"created_at"`
}

// BuildManifest assembles a Manifest from the chunk descriptors a
// chunkbuffer.ChunkBuffer has accumulated in cb.Chunks, after its final
// flush. hashAlgo names the hash the sink used to produce each chunk id
// (e.g. "BLAKE3"); BuildManifest itself is hash-agnostic.
func BuildManifest(sessionID, hashAlgo string, chunks []chunkbuffer.ChunkDescriptor) (*Manifest, error) {
	descs := make([]ChunkDescriptor, len(chunks))
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		descs[i] = ChunkDescriptor{Index: i, Hash: c.ID, Length: c.Size}
		hashes[i] = c.ID
	}

	root, err := ComputeMerkleRoot(hashes)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		SessionID:  sessionID,
		HashAlgo:   hashAlgo,
		ChunkCount: len(descs),
		Chunks:     descs,
		MerkleRoot: root,
		CreatedAt:  archivetime.ArchiveTSNow(),
	}, nil
}
