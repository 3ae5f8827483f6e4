package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
)

// EncryptedSink wraps a chunkbuffer.Sink, encrypting each chunk with
// AES-256-GCM under keys.PayloadKey before it reaches the underlying
// sink, and authenticating the chunk's position in the stream as AAD so
// ciphertext chunks cannot be silently reordered.
//
// Encrypting before submission means the wrapped sink's content address
// is a hash of ciphertext, not plaintext: two chunks with identical
// plaintext no longer dedup against each other, since each is sealed
// with a different nonce (derived from its position, not its content).
// That tradeoff is inherent to encrypting before a content-addressed
// store rather than after; the chunk buffer's own dedup is unaffected,
// since from its perspective this sink is just another Sink.
type EncryptedSink struct {
	next   chunkbuffer.Sink
	key    [32]byte
	ivBase [12]byte
	index  uint32
}

// NewEncryptedSink returns a sink that encrypts every chunk submitted to
// it with keys before forwarding to next.
func NewEncryptedSink(next chunkbuffer.Sink, keys *SessionKeys) *EncryptedSink {
	return &EncryptedSink{next: next, key: keys.PayloadKey, ivBase: keys.IVBase}
}

// AddChunk implements chunkbuffer.Sink. The returned size is the
// plaintext length, matching what the chunk buffer's own accounting
// expects; storedSize reflects what actually landed in the sink
// (ciphertext, 16 bytes longer than plaintext for the GCM tag).
func (e *EncryptedSink) AddChunk(data []byte) (id string, storedSize, size int, err error) {
	nonce := DeriveChunkNonce(e.ivBase, e.index)

	aad := make([]byte, 4)
	binary.BigEndian.PutUint32(aad, e.index)

	ciphertext, err := Seal(e.key[:], nonce[:], aad, data)
	if err != nil {
		return "", 0, 0, fmt.Errorf("encrypt chunk %d: %w", e.index, err)
	}
	e.index++

	id, storedSize, _, err = e.next.AddChunk(ciphertext)
	if err != nil {
		return "", 0, 0, err
	}
	return id, storedSize, len(data), nil
}

// DecryptChunk reverses EncryptedSink.AddChunk for the chunk at
// position index in the original stream, given the same keys.
func DecryptChunk(keys *SessionKeys, index uint32, ciphertext []byte) ([]byte, error) {
	nonce := DeriveChunkNonce(keys.IVBase, index)

	aad := make([]byte, 4)
	binary.BigEndian.PutUint32(aad, index)

	plaintext, err := Open(keys.PayloadKey[:], nonce[:], aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt chunk %d: %w", index, err)
	}
	return plaintext, nil
}
