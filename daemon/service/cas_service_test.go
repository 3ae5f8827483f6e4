package service

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pravinbhuari/archivestream/internal/chunker"
	"github.com/pravinbhuari/archivestream/internal/record"
	"github.com/pravinbhuari/archivestream/internal/unpacker"
)

// memSink is a minimal in-memory chunkbuffer.Sink double for exercising
// the orchestrator without a real chunk store.
type memSink struct {
	chunks  map[string][]byte
	failN   int // fail the next failN calls, then start succeeding
}

func newMemSink() *memSink { return &memSink{chunks: make(map[string][]byte)} }

func (m *memSink) AddChunk(data []byte) (string, int, int, error) {
	if m.failN > 0 {
		m.failN--
		return "", 0, 0, errors.New("injected sink failure")
	}
	id := hex.EncodeToString(data) // hex, as chunker.ComputeMerkleRoot requires; unique per content
	m.chunks[id] = data
	return id, len(data), len(data), nil
}

func TestRetryingSinkRetriesUntilSuccess(t *testing.T) {
	inner := newMemSink()
	inner.failN = 2

	policy := RetryPolicy{MaxAttempts: 3, Backoff: 0}
	sink := NewRetryingSink(inner, policy, nil, "session-1")

	id, _, _, err := sink.AddChunk([]byte("payload"))
	if err != nil {
		t.Fatalf("AddChunk() after retries: %v", err)
	}
	if want := hex.EncodeToString([]byte("payload")); id != want {
		t.Errorf("AddChunk() id = %q, want %q", id, want)
	}
}

func TestRetryingSinkGivesUpAfterMaxAttempts(t *testing.T) {
	inner := newMemSink()
	inner.failN = 10

	policy := RetryPolicy{MaxAttempts: 2, Backoff: 0}
	sink := NewRetryingSink(inner, policy, nil, "session-1")

	if _, _, _, err := sink.AddChunk([]byte("payload")); err == nil {
		t.Fatal("expected AddChunk to fail once retries are exhausted")
	}
}

func TestArchiveWriterProducesManifestCoveringAllRecords(t *testing.T) {
	inner := newMemSink()
	w := NewArchiveWriter("session-1", inner, 8)

	for _, s := range []string{"alpha", "bravo", "charlie"} {
		if err := w.WriteRecord(record.String(s)); err != nil {
			t.Fatalf("WriteRecord(%q): %v", s, err)
		}
	}

	m, err := w.Close()
	if err != nil {
		t.Fatalf("Close(): %v", err)
	}
	if m.ChunkCount == 0 {
		t.Fatal("expected at least one chunk in the manifest")
	}
	if m.MerkleRoot == "" {
		t.Fatal("expected a non-empty merkle root")
	}
}

func TestArchiveReaderFeedsChunksInOrderAndTracksPresence(t *testing.T) {
	inner := newMemSink()
	w := NewArchiveWriter("session-1", inner, 1024)
	for _, s := range []string{"one", "two", "three"} {
		if err := w.WriteRecord(record.String(s)); err != nil {
			t.Fatal(err)
		}
	}
	m, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}

	r := NewArchiveReader("session-1", nil, int64(m.ChunkCount), DefaultRetryPolicy(), nil)
	fetch := func(id string) ([]byte, error) { return inner.chunks[id], nil }

	for _, c := range m.Chunks {
		if err := r.FetchChunk(int64(c.Index), c.Hash, fetch); err != nil {
			t.Fatalf("FetchChunk(%d): %v", c.Index, err)
		}
	}

	var got []string
	for {
		v, ok := r.Next()
		if !ok {
			break
		}
		got = append(got, v.Str)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("decoded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}

	fetched, total := r.Presence().GetProgress()
	if fetched != total {
		t.Errorf("GetProgress() = %d/%d, want all fetched", fetched, total)
	}
}

func TestArchiveReaderResyncsOnExhaustedChunkFetch(t *testing.T) {
	r := NewArchiveReader("session-1", nil, 2, RetryPolicy{MaxAttempts: 1, Backoff: 0}, nil)
	fetch := func(id string) ([]byte, error) { return nil, errors.New("chunk gone") }

	if err := r.FetchChunk(0, "missing-chunk", fetch); err == nil {
		t.Fatal("expected FetchChunk to report the exhausted retry")
	}
	if r.Presence().HasChunk(0) {
		t.Fatal("a chunk that failed to fetch must not be marked present")
	}
	if got := r.u.State(); got != unpacker.Resyncing {
		t.Errorf("unpacker state after exhausted fetch = %v, want %v", got, unpacker.Resyncing)
	}
}

func TestCollectLiveChunkIDsUnionsAllRetainedManifests(t *testing.T) {
	dir := t.TempDir()

	m1 := &chunker.Manifest{
		SessionID: "s1",
		Chunks:    []chunker.ChunkDescriptor{{Index: 0, Hash: "hash-a"}, {Index: 1, Hash: "hash-b"}},
	}
	m2 := &chunker.Manifest{
		SessionID: "s2",
		Chunks:    []chunker.ChunkDescriptor{{Index: 0, Hash: "hash-b"}, {Index: 1, Hash: "hash-c"}},
	}
	if err := PersistManifest(dir, m1); err != nil {
		t.Fatal(err)
	}
	if err := PersistManifest(dir, m2); err != nil {
		t.Fatal(err)
	}

	live, err := CollectLiveChunkIDs(dir)
	if err != nil {
		t.Fatalf("CollectLiveChunkIDs: %v", err)
	}
	for _, want := range []string{"hash-a", "hash-b", "hash-c"} {
		if _, ok := live[want]; !ok {
			t.Errorf("live set missing %q", want)
		}
	}
	if len(live) != 3 {
		t.Errorf("live set has %d entries, want 3", len(live))
	}
}

func TestCollectLiveChunkIDsToleratesMissingDirectory(t *testing.T) {
	live, err := CollectLiveChunkIDs(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("CollectLiveChunkIDs on absent directory: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("expected an empty live set, got %d entries", len(live))
	}
}

func TestPersistManifestWritesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	m := &chunker.Manifest{SessionID: "s1", Chunks: []chunker.ChunkDescriptor{{Index: 0, Hash: "h"}}}
	if err := PersistManifest(dir, m); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.json")); err != nil {
		t.Fatalf("expected manifest file to exist: %v", err)
	}
}
