package unpacker

import (
	"testing"

	"github.com/pravinbhuari/archivestream/internal/record"
)

// itemValidator accepts only 2-element arrays whose first element is the
// string "ITEM", mimicking the shape check a real record stream would use
// to tell a genuine record from a decode that merely happened to succeed.
func itemValidator(v record.Value) bool {
	if v.Kind != record.KindArray || len(v.Array) != 2 {
		return false
	}
	return v.Array[0].Kind == record.KindString && v.Array[0].Str == "ITEM"
}

func item(name string) record.Value {
	return record.Array(record.String("ITEM"), record.String(name))
}

func marshal(t *testing.T, v record.Value) []byte {
	t.Helper()
	data, err := record.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

// S3: a correct, uninterrupted stream decodes completely even when fed two
// bytes at a time.
func TestCorrectStreamTinyFeeds(t *testing.T) {
	items := []record.Value{item("a"), item("b"), item("c")}
	var all []byte
	for _, it := range items {
		all = append(all, marshal(t, it)...)
	}

	u := New(itemValidator)
	var got []record.Value
	for i := 0; i < len(all); i += 2 {
		end := i + 2
		if end > len(all) {
			end = len(all)
		}
		u.Feed(all[i:end])
		for {
			v, ok := u.Next()
			if !ok {
				break
			}
			got = append(got, v)
		}
	}

	if len(got) != len(items) {
		t.Fatalf("got %d items, want %d", len(got), len(items))
	}
	for i := range items {
		if !record.Equal(got[i], items[i]) {
			t.Errorf("item %d = %v, want %v", i, got[i], items[i])
		}
	}
	if u.State() != Synced {
		t.Errorf("final state = %v, want Synced", u.State())
	}
}

// S4: a chunk is known to be missing (e.g. never arrived). The caller
// calls Resync() explicitly between two valid items with no intervening
// garbage bytes at all; the unpacker must still recover at the next item.
func TestMissingChunkExplicitResync(t *testing.T) {
	u := New(itemValidator)
	u.Feed(marshal(t, item("a")))

	v, ok := u.Next()
	if !ok || !record.Equal(v, item("a")) {
		t.Fatalf("first item = %v, %v", v, ok)
	}

	u.Resync()
	if u.State() != Resyncing {
		t.Fatalf("state after Resync() = %v, want Resyncing", u.State())
	}

	u.Feed(marshal(t, item("b")))
	v, ok = u.Next()
	if !ok {
		t.Fatalf("expected item after resync")
	}
	if !record.Equal(v, item("b")) {
		t.Errorf("recovered item = %v, want %v", v, item("b"))
	}
	if u.State() != Synced {
		t.Errorf("state after recovery = %v, want Synced", u.State())
	}
}

// S5: a chunk's bytes are corrupted (replaced with garbage) in the middle
// of the stream; after an explicit Resync the unpacker must skip the
// garbage byte-by-byte and recover at the next well-formed, validator-
// accepted item.
func TestCorruptChunkResync(t *testing.T) {
	u := New(itemValidator)
	u.Feed(marshal(t, item("a")))
	v, ok := u.Next()
	if !ok || !record.Equal(v, item("a")) {
		t.Fatalf("first item = %v, %v", v, ok)
	}

	u.Resync()
	garbage := []byte("not valid msgpack boundaries xx")
	u.Feed(garbage)
	u.Feed(marshal(t, item("c")))

	v, ok = u.Next()
	if !ok {
		t.Fatalf("expected recovery after corrupt chunk")
	}
	if !record.Equal(v, item("c")) {
		t.Errorf("recovered item = %v, want %v", v, item("c"))
	}
}

// S6: without ever calling Resync, the stream stays Synced throughout.
// Garbage bytes embedded in an otherwise Synced stream decode as raw
// msgpack values (here, single ASCII bytes of "garbage" decode as
// positive fixints) and are emitted unconditionally — the validator is
// never consulted while Synced, even though it would reject these values.
func TestExtraGarbageNoResync(t *testing.T) {
	u := New(itemValidator)
	u.Feed(marshal(t, item("a")))
	u.Feed([]byte("garbage"))
	u.Feed(marshal(t, item("b")))

	var got []record.Value
	for {
		v, ok := u.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}

	want := []int64{103, 97, 114, 98, 97, 103, 101} // ASCII codes of "garbage"
	if len(got) != 2+len(want) {
		t.Fatalf("got %d values, want %d", len(got), 2+len(want))
	}
	if !record.Equal(got[0], item("a")) {
		t.Errorf("got[0] = %v, want item a", got[0])
	}
	for i, w := range want {
		gv := got[1+i]
		if gv.Kind != record.KindInt || gv.Int != w {
			t.Errorf("garbage byte %d: got %v, want int %d", i, gv, w)
		}
	}
	if !record.Equal(got[len(got)-1], item("b")) {
		t.Errorf("last item = %v, want item b", got[len(got)-1])
	}
	if u.State() != Synced {
		t.Errorf("state = %v, want Synced (Resync was never called)", u.State())
	}
}
