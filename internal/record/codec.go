package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpack format bytes relevant to classifying a peeked code. Only the
// ranges this package actually emits or must tolerate during resync are
// named; extension types are rejected as malformed.
const (
	codeNil         = 0xc0
	codeFalse       = 0xc2
	codeTrue        = 0xc3
	codeBin8        = 0xc4
	codeBin32       = 0xc6
	codeFloat32     = 0xca
	codeFloat64     = 0xcb
	codeUint8       = 0xcc
	codeUint64      = 0xcf
	codeInt8        = 0xd0
	codeInt64       = 0xd3
	codeFixStrLow   = 0xa0
	codeFixStrHigh  = 0xbf
	codeStr8        = 0xd9
	codeStr32       = 0xdb
	codeFixArrLow   = 0x90
	codeFixArrHigh  = 0x9f
	codeArr16       = 0xdc
	codeArr32       = 0xdd
	codeFixMapLow   = 0x80
	codeFixMapHigh  = 0x8f
	codeMap16       = 0xde
	codeMap32       = 0xdf
	codeNegFixLow   = 0xe0
	codePosFixHigh  = 0x7f
)

// Marshal encodes v as a single self-delimiting msgpack value.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.Kind {
	case KindNil:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.Bool)
	case KindInt:
		return enc.EncodeInt64(v.Int)
	case KindFloat:
		return enc.EncodeFloat64(v.Float)
	case KindBytes:
		return enc.EncodeBytes(v.Bytes)
	case KindString:
		return enc.EncodeString(v.Str)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.Array)); err != nil {
			return err
		}
		for _, e := range v.Array {
			if err := encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.Map)); err != nil {
			return err
		}
		for _, e := range v.Map {
			if err := encodeValue(enc, e.Key); err != nil {
				return err
			}
			if err := encodeValue(enc, e.Value); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("record: encode: unknown kind %v", v.Kind)
	}
}

// Status is the outcome of a single Decoder.Next call.
type Status int

const (
	// OK means Value holds a fully decoded record and the consumed bytes
	// have been dropped from the decoder's internal buffer.
	OK Status = iota
	// NeedMore means the buffered bytes are a valid prefix of some value
	// but more input is required before anything can be decoded. The
	// buffer is left untouched.
	NeedMore
	// Malformed means the buffered bytes cannot begin a valid value at
	// the current position. The buffer is left untouched; callers that
	// want to resynchronize must drop bytes from the front themselves
	// (see internal/unpacker), one at a time, and retry.
	Malformed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case NeedMore:
		return "NeedMore"
	case Malformed:
		return "Malformed"
	default:
		return "unknown"
	}
}

// Result is the return value of Decoder.Next.
type Result struct {
	Value  Value
	Status Status
}

// Decoder incrementally decodes a stream of self-delimiting values fed to
// it via Feed. It never blocks and never reads ahead of what has been fed.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty incremental decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends more bytes to the decoder's pending input.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Pending returns the number of unconsumed buffered bytes.
func (d *Decoder) Pending() int { return len(d.buf) }

// Drop discards n bytes from the front of the pending buffer without
// attempting to decode them. Used by internal/unpacker while resyncing.
func (d *Decoder) Drop(n int) {
	if n <= 0 {
		return
	}
	if n > len(d.buf) {
		n = len(d.buf)
	}
	d.buf = d.buf[n:]
}

// Next attempts to decode one value from the front of the pending buffer,
// consuming it on success. On NeedMore or Malformed the buffer is left
// untouched.
func (d *Decoder) Next() Result {
	v, status, consumed := d.decodeAt()
	if status == OK {
		d.buf = d.buf[consumed:]
	}
	return Result{Value: v, Status: status}
}

// PeekNext behaves like Next but never mutates the pending buffer, even on
// OK; it returns the number of bytes the value occupied so the caller can
// decide whether to commit that consumption (Advance) or reject the value
// and advance by a different amount (as internal/unpacker does while
// resyncing).
func (d *Decoder) PeekNext() (Result, int) {
	v, status, consumed := d.decodeAt()
	return Result{Value: v, Status: status}, consumed
}

// Advance discards n bytes from the front of the pending buffer. It is the
// counterpart to PeekNext: call it with the returned consumed count to
// commit a decode, or with any other value to reject it.
func (d *Decoder) Advance(n int) { d.Drop(n) }

func (d *Decoder) decodeAt() (Value, Status, int) {
	if len(d.buf) == 0 {
		return Value{}, NeedMore, 0
	}

	r := bytes.NewReader(d.buf)
	dec := msgpack.NewDecoder(r)

	v, err := decodeValue(dec)
	if err != nil {
		if isIncomplete(err) {
			return Value{}, NeedMore, 0
		}
		return Value{}, Malformed, 0
	}

	consumed := len(d.buf) - r.Len()
	return v, OK, consumed
}

func isIncomplete(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return Value{}, err
	}

	switch {
	case code == codeNil:
		if err := dec.DecodeNil(); err != nil {
			return Value{}, err
		}
		return Nil(), nil

	case code == codeFalse || code == codeTrue:
		b, err := dec.DecodeBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil

	case code <= codePosFixHigh, code >= codeNegFixLow,
		code == codeInt8, (code > codeInt8 && code <= codeInt64),
		code == codeUint8, (code > codeUint8 && code <= codeUint64):
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil

	case code == codeFloat32 || code == codeFloat64:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil

	case code == codeBin8 || (code > codeBin8 && code <= codeBin32):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil

	case (code >= codeFixStrLow && code <= codeFixStrHigh),
		code == codeStr8, (code > codeStr8 && code <= codeStr32):
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil

	case (code >= codeFixArrLow && code <= codeFixArrHigh), code == codeArr16 || code == codeArr32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			e, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, e)
		}
		return Value{Kind: KindArray, Array: elems}, nil

	case (code >= codeFixMapLow && code <= codeFixMapHigh), code == codeMap16 || code == codeMap32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return Value{}, err
		}
		entries := make([]MapEntry, 0, n)
		for i := 0; i < n; i++ {
			k, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			v, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return Value{Kind: KindMap, Map: entries}, nil

	default:
		return Value{}, fmt.Errorf("record: unsupported format code 0x%02x", code)
	}
}
