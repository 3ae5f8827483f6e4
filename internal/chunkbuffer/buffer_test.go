package chunkbuffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/pravinbhuari/archivestream/internal/record"
)

// memSink is a trivial content-addressed sink used only for tests.
type memSink struct {
	byID map[string][]byte
	ids  []string
}

func newMemSink() *memSink { return &memSink{byID: make(map[string][]byte)} }

func (s *memSink) AddChunk(data []byte) (string, int, int, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])
	cp := make([]byte, len(data))
	copy(cp, data)
	if _, exists := s.byID[id]; !exists {
		s.byID[id] = cp
		s.ids = append(s.ids, id)
	}
	return id, len(cp), len(cp), nil
}

func encodeMap(t *testing.T, pairs ...record.MapEntry) []byte {
	t.Helper()
	data, err := record.Marshal(record.Map(pairs...))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func decodeAll(t *testing.T, data []byte) []record.Value {
	t.Helper()
	dec := record.NewDecoder()
	dec.Feed(data)
	var out []record.Value
	for {
		res := dec.Next()
		if res.Status == record.NeedMore {
			break
		}
		if res.Status == record.Malformed {
			t.Fatalf("unexpected malformed decode")
		}
		out = append(out, res.Value)
	}
	return out
}

// S1: small records each force their own flush boundary; final chunk list
// has one chunk per record and the concatenation round-trips.
func TestSmallRecordsEachForceAFlush(t *testing.T) {
	records := []record.Value{
		record.Map(record.Entry(record.String("foo"), record.Int(1))),
		record.Map(record.Entry(record.String("bar"), record.Int(2))),
	}

	sink := newMemSink()
	cb := New(sink, 1) // target of 1 byte: any non-empty record crosses it

	var allEncoded []byte
	for _, r := range records {
		enc, err := record.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		allEncoded = append(allEncoded, enc...)
		if err := cb.Add(enc); err != nil {
			t.Fatal(err)
		}
		if err := cb.Flush(false); err != nil {
			t.Fatal(err)
		}
	}
	if err := cb.Flush(true); err != nil {
		t.Fatal(err)
	}

	if len(cb.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d, want 2", len(cb.Chunks))
	}
	if cb.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", cb.Pending())
	}

	var concatenated []byte
	for _, c := range cb.Chunks {
		concatenated = append(concatenated, sink.byID[c.ID]...)
	}
	if !bytes.Equal(concatenated, allEncoded) {
		t.Fatalf("concatenated chunk bytes do not match encoded records")
	}

	got := decodeAll(t, concatenated)
	if len(got) != len(records) {
		t.Fatalf("decoded %d values, want %d", len(got), len(records))
	}
	for i := range records {
		if !record.Equal(got[i], records[i]) {
			t.Errorf("record %d = %v, want %v", i, got[i], records[i])
		}
	}
}

// S2 (adapted): records carrying a large payload, with a target much
// smaller than a single record. A non-final flush packs whole records
// into target-sized chunks and leaves a genuine trailing remainder
// buffered; a final flush drains that remainder as one more chunk,
// possibly under target. No chunk ever contains a partial record.
func TestLargePayloadPartialThenFinalFlush(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789"), 10000) // 100,000 bytes

	recs := []record.Value{
		record.Map(record.Entry(record.String("full"), record.Bytes(big))),
		record.Map(record.Entry(record.String("partial"), record.Bytes(big))),
		record.Map(record.Entry(record.String("more"), record.Bytes(big))),
	}

	sink := newMemSink()
	const target = 150_000 // smaller than two records, bigger than one
	cb := New(sink, target)

	var allEncoded []byte
	var encodedLens []int
	for _, r := range recs {
		enc, err := record.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		allEncoded = append(allEncoded, enc...)
		encodedLens = append(encodedLens, len(enc))
		if err := cb.Add(enc); err != nil {
			t.Fatal(err)
		}
	}

	if err := cb.Flush(false); err != nil {
		t.Fatal(err)
	}
	if cb.Pending() == 0 {
		t.Fatalf("expected a non-empty remainder after non-final flush")
	}
	chunksAfterPartial := len(cb.Chunks)
	if chunksAfterPartial == 0 {
		t.Fatalf("expected at least one chunk submitted by the non-final flush")
	}

	if err := cb.Flush(true); err != nil {
		t.Fatal(err)
	}
	if cb.Pending() != 0 {
		t.Fatalf("Pending() = %d after final flush, want 0", cb.Pending())
	}
	if len(cb.Chunks) != chunksAfterPartial+1 {
		t.Fatalf("final flush added %d chunks, want exactly 1 more", len(cb.Chunks)-chunksAfterPartial)
	}

	var concatenated []byte
	for _, c := range cb.Chunks {
		chunkBytes := sink.byID[c.ID]
		concatenated = append(concatenated, chunkBytes...)
		// verify record alignment: every chunk boundary lands on a sum
		// of whole encoded-record lengths, i.e. decoding each chunk in
		// isolation never yields NeedMore/Malformed.
		dec := record.NewDecoder()
		dec.Feed(chunkBytes)
		for dec.Pending() > 0 {
			res := dec.Next()
			if res.Status != record.OK {
				t.Fatalf("chunk %s contains a partial record (status %v)", c.ID, res.Status)
			}
		}
	}
	if !bytes.Equal(concatenated, allEncoded) {
		t.Fatalf("concatenated chunk bytes do not match encoded records")
	}

	got := decodeAll(t, concatenated)
	if len(got) != len(recs) {
		t.Fatalf("decoded %d values, want %d", len(got), len(recs))
	}
	for i := range recs {
		if !record.Equal(got[i], recs[i]) {
			t.Errorf("record %d mismatch", i)
		}
	}
}

func TestFlushWithNothingBufferedIsANoOp(t *testing.T) {
	sink := newMemSink()
	cb := New(sink, 1024)
	if err := cb.Flush(false); err != nil {
		t.Fatal(err)
	}
	if err := cb.Flush(true); err != nil {
		t.Fatal(err)
	}
	if len(cb.Chunks) != 0 {
		t.Fatalf("len(Chunks) = %d, want 0", len(cb.Chunks))
	}
}

func TestAddAfterFinalFlushStartsNewStream(t *testing.T) {
	sink := newMemSink()
	cb := New(sink, 1)

	enc1, _ := record.Marshal(record.Int(1))
	if err := cb.Add(enc1); err != nil {
		t.Fatal(err)
	}
	if err := cb.Flush(true); err != nil {
		t.Fatal(err)
	}
	if len(cb.Chunks) != 1 {
		t.Fatalf("len(Chunks) = %d, want 1", len(cb.Chunks))
	}

	enc2, _ := record.Marshal(record.Int(2))
	if err := cb.Add(enc2); err != nil {
		t.Fatal(err)
	}
	if err := cb.Flush(true); err != nil {
		t.Fatal(err)
	}
	if len(cb.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d after second stream, want 2", len(cb.Chunks))
	}
}
