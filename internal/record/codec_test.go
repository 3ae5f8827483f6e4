package record

import "testing"

func TestMarshalRoundTrip(t *testing.T) {
	values := []Value{
		Nil(),
		Bool(true),
		Bool(false),
		Int(0),
		Int(-1),
		Int(103),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
		Array(Int(1), Int(2), String("three")),
		Map(Entry(String("k"), Int(1)), Entry(String("k2"), Bool(true))),
	}

	for _, v := range values {
		data, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", v, err)
		}

		dec := NewDecoder()
		dec.Feed(data)
		res := dec.Next()
		if res.Status != OK {
			t.Fatalf("Next() status = %v, want OK", res.Status)
		}
		if !Equal(res.Value, v) {
			t.Errorf("round trip mismatch: got %v, want %v", res.Value, v)
		}
		if dec.Pending() != 0 {
			t.Errorf("Pending() = %d, want 0 after consuming the only value", dec.Pending())
		}
	}
}

func TestDecoderNeedMoreOnPartialFeed(t *testing.T) {
	data, err := Marshal(String("a reasonably long string to span bytes"))
	if err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder()
	for i := 0; i < len(data)-1; i++ {
		dec.Feed(data[i : i+1])
		res := dec.Next()
		if res.Status != NeedMore {
			t.Fatalf("byte %d: status = %v, want NeedMore", i, res.Status)
		}
	}
	dec.Feed(data[len(data)-1:])
	res := dec.Next()
	if res.Status != OK {
		t.Fatalf("final byte: status = %v, want OK", res.Status)
	}
	if res.Value.Str != "a reasonably long string to span bytes" {
		t.Errorf("decoded string = %q", res.Value.Str)
	}
}

func TestDecoderMalformedLeavesCursorInPlace(t *testing.T) {
	dec := NewDecoder()
	// 0xc1 is a reserved msgpack code, never valid.
	dec.Feed([]byte{0xc1, 0xc1, 0xc1})
	res := dec.Next()
	if res.Status != Malformed {
		t.Fatalf("status = %v, want Malformed", res.Status)
	}
	if dec.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3 (untouched)", dec.Pending())
	}
}

func TestSequentialValuesOnSharedStream(t *testing.T) {
	a, _ := Marshal(Int(1))
	b, _ := Marshal(String("two"))
	c, _ := Marshal(Bool(true))

	dec := NewDecoder()
	dec.Feed(a)
	dec.Feed(b)
	dec.Feed(c)

	var got []Value
	for i := 0; i < 3; i++ {
		res := dec.Next()
		if res.Status != OK {
			t.Fatalf("value %d: status = %v", i, res.Status)
		}
		got = append(got, res.Value)
	}

	if !Equal(got[0], Int(1)) || !Equal(got[1], String("two")) || !Equal(got[2], Bool(true)) {
		t.Errorf("got %v", got)
	}
	if dec.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", dec.Pending())
	}
}
