package chunkstore

import (
	"path/filepath"
	"testing"
)

func openTestSink(t *testing.T) *BoltSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.db")
	sink, err := OpenBoltSink(path)
	if err != nil {
		t.Fatalf("OpenBoltSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestAddChunkIsContentAddressedAndDeduplicates(t *testing.T) {
	sink := openTestSink(t)

	id1, stored1, size1, err := sink.AddChunk([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	id2, stored2, size2, err := sink.AddChunk([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("identical content produced different ids: %q vs %q", id1, id2)
	}
	if stored1 != stored2 || size1 != size2 {
		t.Fatalf("sizes differ across dedup: (%d,%d) vs (%d,%d)", stored1, size1, stored2, size2)
	}

	idOther, _, _, err := sink.AddChunk([]byte("world"))
	if err != nil {
		t.Fatal(err)
	}
	if idOther == id1 {
		t.Fatalf("different content produced the same id")
	}
}

func TestHasChunkReflectsStoredState(t *testing.T) {
	sink := openTestSink(t)
	id, _, _, err := sink.AddChunk([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !sink.HasChunk(id) {
		t.Errorf("HasChunk(%q) = false, want true after AddChunk", id)
	}
	if sink.HasChunk("0000") {
		t.Errorf("HasChunk of an unknown id = true, want false")
	}
}

func TestGetChunkRoundTrips(t *testing.T) {
	sink := openTestSink(t)
	want := []byte("round trip me")
	id, _, _, err := sink.AddChunk(want)
	if err != nil {
		t.Fatal(err)
	}

	got, found, err := sink.GetChunk(id)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("GetChunk(%q) not found", id)
	}
	if string(got) != string(want) {
		t.Errorf("GetChunk = %q, want %q", got, want)
	}
}

func TestGCRemovesChunksNotInLiveSet(t *testing.T) {
	sink := openTestSink(t)
	keepID, _, _, err := sink.AddChunk([]byte("keep"))
	if err != nil {
		t.Fatal(err)
	}
	dropID, _, _, err := sink.AddChunk([]byte("drop"))
	if err != nil {
		t.Fatal(err)
	}

	removed, err := sink.GC(map[string]struct{}{keepID: {}})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !sink.HasChunk(keepID) {
		t.Errorf("GC removed a live chunk")
	}
	if sink.HasChunk(dropID) {
		t.Errorf("GC left an unreferenced chunk in place")
	}
}
