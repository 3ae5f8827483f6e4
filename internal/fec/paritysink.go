package fec

import (
	"fmt"

	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
)

// ParityGroup records one group of k data chunks and the r parity chunks
// Reed-Solomon computed over them: if up to r of the k+r total shards
// are lost or found corrupt, the rest are enough to reconstruct them.
type ParityGroup struct {
	DataIDs   []string
	ParityIDs []string
	ShardLen  int // every shard (data, zero-padded, and parity) is this long
}

// ParitySink wraps a chunkbuffer.Sink, adding storage-level redundancy:
// every chunk submitted through it is forwarded to the wrapped sink
// immediately and unchanged (so ordinary dedup/read-back is untouched),
// while also being grouped in batches of k with r parity chunks computed
// over the group and submitted as additional chunks. A completed
// ParityGroup is appended to Groups once its parity has been written,
// mirroring how chunkbuffer.ChunkBuffer accumulates ChunkDescriptors.
type ParitySink struct {
	next chunkbuffer.Sink
	k, r int
	enc  *Encoder

	groupData [][]byte
	groupIDs  []string

	Groups []ParityGroup
}

// NewParitySink returns a sink grouping every k chunks submitted to it
// with r Reed-Solomon parity chunks, forwarding everything to next.
func NewParitySink(next chunkbuffer.Sink, k, r int) (*ParitySink, error) {
	enc, err := NewEncoder(k, r)
	if err != nil {
		return nil, fmt.Errorf("parity sink: %w", err)
	}
	return &ParitySink{next: next, k: k, r: r, enc: enc}, nil
}

// AddChunk implements chunkbuffer.Sink.
func (p *ParitySink) AddChunk(data []byte) (id string, storedSize, size int, err error) {
	id, storedSize, size, err = p.next.AddChunk(data)
	if err != nil {
		return "", 0, 0, err
	}

	p.groupData = append(p.groupData, append([]byte(nil), data...))
	p.groupIDs = append(p.groupIDs, id)

	if len(p.groupData) == p.k {
		if err := p.flushGroup(); err != nil {
			return "", 0, 0, err
		}
	}
	return id, storedSize, size, nil
}

// Close flushes any partial trailing group (fewer than k chunks
// accumulated since the last full group), padding it out with empty
// shards so Reed-Solomon still has k data shards to encode over.
func (p *ParitySink) Close() error {
	if len(p.groupData) == 0 {
		return nil
	}
	return p.flushGroup()
}

func (p *ParitySink) flushGroup() error {
	shardLen := 0
	for _, s := range p.groupData {
		if len(s) > shardLen {
			shardLen = len(s)
		}
	}

	shards := make([][]byte, p.k)
	for i := 0; i < p.k; i++ {
		shards[i] = make([]byte, shardLen)
		if i < len(p.groupData) {
			copy(shards[i], p.groupData[i])
		}
	}

	parity, err := p.enc.Encode(shards)
	if err != nil {
		return fmt.Errorf("parity sink: encode group: %w", err)
	}

	parityIDs := make([]string, len(parity))
	for i, shard := range parity {
		id, _, _, err := p.next.AddChunk(shard)
		if err != nil {
			return fmt.Errorf("parity sink: submit parity shard %d: %w", i, err)
		}
		parityIDs[i] = id
	}

	p.Groups = append(p.Groups, ParityGroup{
		DataIDs:   append([]string(nil), p.groupIDs...),
		ParityIDs: parityIDs,
		ShardLen:  shardLen,
	})

	p.groupData = nil
	p.groupIDs = nil
	return nil
}

// ShardFetcher retrieves one chunk's stored bytes by id, or reports it
// missing/corrupt via err.
type ShardFetcher func(id string) ([]byte, error)

// Reconstruct fetches every data and parity shard of group via fetch,
// treating a fetch error as a missing shard, and reconstructs any
// missing data shards in place. It returns the group's k data shards,
// still padded to group.ShardLen: callers that need the original
// pre-padding chunk lengths must track and trim those themselves (the
// manifest's chunk descriptors already record each chunk's real size).
func Reconstruct(k, r int, group ParityGroup, fetch ShardFetcher) ([][]byte, error) {
	dec, err := NewDecoder(k, r)
	if err != nil {
		return nil, err
	}

	shards := make([][]byte, k+r)
	for i, id := range group.DataIDs {
		if data, err := fetch(id); err == nil {
			shards[i] = data
		}
	}
	for i, id := range group.ParityIDs {
		if data, err := fetch(id); err == nil {
			shards[k+i] = data
		}
	}

	if err := dec.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstruct parity group: %w", err)
	}

	return shards[:k], nil
}
