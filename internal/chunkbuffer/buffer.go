// Package chunkbuffer implements the chunk buffer (CB): it stages encoded
// records in memory and hands whole-record-aligned byte ranges off to a
// chunk sink once enough has accumulated, producing an ordered chunk id
// list that the robust unpacker can later resynchronize against at chunk
// granularity.
package chunkbuffer

import "errors"

// ErrInvariantViolation reports a programming error a caller must treat
// as fatal rather than retriable. ChunkBuffer itself never returns it;
// it is exported for sinks that enforce their own usage restrictions
// (e.g. rejecting writes after being closed) to signal through the same
// error class Add/Flush propagate.
var ErrInvariantViolation = errors.New("chunkbuffer: invariant violation")

// ChunkDescriptor records one chunk submitted to the sink.
type ChunkDescriptor struct {
	ID         string
	Size       int
	StoredSize int
}

// Sink is the collaborator a ChunkBuffer submits completed chunks to. It
// is assumed idempotent by content: submitting identical bytes twice may
// return the same id both times.
type Sink interface {
	AddChunk(data []byte) (id string, storedSize, size int, err error)
}

// ChunkBuffer accumulates already-encoded records and flushes
// record-aligned prefixes to a Sink once the buffered length crosses
// Target. It is not safe for concurrent use; callers needing concurrency
// must serialize their own access.
type ChunkBuffer struct {
	sink   Sink
	target int

	records [][]byte
	size    int

	Chunks []ChunkDescriptor
}

// New returns a ChunkBuffer that submits to sink once buffered bytes
// reach target. target is a soft threshold: a single record larger than
// target is still submitted whole, as its own chunk.
func New(sink Sink, target int) *ChunkBuffer {
	return &ChunkBuffer{sink: sink, target: target}
}

// Add appends one already-encoded record to the buffer. It never itself
// submits a chunk. Add may be called again after a final Flush: that
// begins a new logical stream, per the chunk buffer's reuse invariant.
func (cb *ChunkBuffer) Add(encodedRecord []byte) error {
	rec := make([]byte, len(encodedRecord))
	copy(rec, encodedRecord)
	cb.records = append(cb.records, rec)
	cb.size += len(rec)
	return nil
}

// Pending returns the number of buffered, not-yet-submitted bytes.
func (cb *ChunkBuffer) Pending() int { return cb.size }

// Flush submits buffered records to the sink. With final=false it
// greedily packs the largest run of whole records not exceeding Target
// into one chunk, repeating while the remaining buffer is still at least
// Target bytes, and leaves any shorter remainder buffered. A single
// record longer than Target is submitted alone, since it cannot be
// split without violating record alignment. With final=true every
// remaining record is submitted, including a final chunk possibly
// smaller than Target, and the buffer ends empty.
func (cb *ChunkBuffer) Flush(final bool) error {
	for len(cb.records) > 0 {
		if !final && cb.size < cb.target {
			return nil
		}

		cut := 1
		chunkSize := len(cb.records[0])
		for cut < len(cb.records) {
			next := chunkSize + len(cb.records[cut])
			if next > cb.target {
				break
			}
			chunkSize = next
			cut++
		}

		data := make([]byte, 0, chunkSize)
		for _, r := range cb.records[:cut] {
			data = append(data, r...)
		}

		id, storedSize, size, err := cb.sink.AddChunk(data)
		if err != nil {
			return err
		}
		cb.Chunks = append(cb.Chunks, ChunkDescriptor{ID: id, Size: size, StoredSize: storedSize})

		cb.records = cb.records[cut:]
		cb.size -= len(data)
	}

	return nil
}
