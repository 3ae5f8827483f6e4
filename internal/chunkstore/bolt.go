// Package chunkstore holds chunk sinks: collaborators that implement
// chunkbuffer.Sink, the destination a ChunkBuffer hands completed,
// whole-record-aligned byte ranges to.
package chunkstore

import (
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"
)

var bucketChunks = []byte("chunks")

// BoltSink is a content-addressed chunk sink backed by BoltDB: the chunk
// id is the hex-encoded BLAKE3 hash of its bytes, so submitting identical
// content twice is a no-op the second time.
type BoltSink struct {
	db *bolt.DB
}

// OpenBoltSink opens (creating if absent) a BoltDB file at path as a chunk
// store.
func OpenBoltSink(path string) (*BoltSink, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketChunks)
		return e
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSink{db: db}, nil
}

func (b *BoltSink) Close() error { return b.db.Close() }

// HasChunk reports whether a chunk with the given content hash is already
// stored.
func (b *BoltSink) HasChunk(id string) bool {
	var ok bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		ok = bk.Get([]byte(id)) != nil
		return nil
	})
	return ok
}

// encodeRecord builds the on-disk value: the Unix time the chunk was first
// stored followed by the chunk's bytes. GC does not read the timestamp.
func encodeRecord(data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().Unix()))
	copy(buf[8:], data)
	return buf
}

// AddChunk implements chunkbuffer.Sink. It hashes data with BLAKE3,
// stores it under the hex-encoded hash if not already present, and
// returns that hash as the chunk id.
func (b *BoltSink) AddChunk(data []byte) (id string, storedSize, size int, err error) {
	hasher := blake3.New()
	hasher.Write(data)
	id = hex.EncodeToString(hasher.Sum(nil))

	err = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		if bk.Get([]byte(id)) != nil {
			return nil // already stored under this content hash
		}
		return bk.Put([]byte(id), encodeRecord(data))
	})
	if err != nil {
		return "", 0, 0, err
	}
	return id, len(data), len(data), nil
}

// GetChunk returns the stored bytes for a chunk id, or false if absent.
func (b *BoltSink) GetChunk(id string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		v := bk.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		out = make([]byte, len(v)-8)
		copy(out, v[8:])
		return nil
	})
	return out, found, err
}

// GC deletes stored chunks whose ids are not present in live. This is a
// reference-counted sweep driven by the set of chunk ids still referenced
// by at least one retained manifest, rather than pure age: a chunk is
// live exactly as long as something still points to it.
func (b *BoltSink) GC(live map[string]struct{}) (removed int, err error) {
	err = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		c := bk.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if _, ok := live[string(k)]; ok {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
