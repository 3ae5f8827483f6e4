// Package unpacker implements the robust unpacker (RU): a wrapper around
// internal/record's incremental codec that can recover from corrupted or
// missing bytes in the middle of a record stream by resynchronizing to the
// next byte offset at which well-formed, semantically acceptable records
// resume.
package unpacker

import "github.com/pravinbhuari/archivestream/internal/record"

// State is the unpacker's synchronization state.
type State int

const (
	// Synced is the normal state: every value the underlying codec
	// decodes is emitted, without being checked by the Validator. This
	// mirrors the reference implementation's behavior and is required so
	// that a fully-synced stream containing byte sequences a validator
	// would reject (e.g. stray small integers from the codec's own
	// self-delimiting format) still round-trips instead of being
	// silently dropped.
	Synced State = iota
	// Resyncing is entered after a decode failure or an explicit Resync
	// call. While resyncing, the buffer is advanced one byte at a time
	// and a value is only accepted, and the state returned to Synced,
	// once the codec decodes it AND the Validator accepts it.
	Resyncing
)

func (s State) String() string {
	if s == Synced {
		return "Synced"
	}
	return "Resyncing"
}

// Validator inspects a decoded value during Resyncing and reports whether
// it looks like a genuine record (as opposed to a coincidental decode of
// garbage bytes). It is never consulted while Synced.
type Validator func(v record.Value) bool

// AcceptAll is a Validator that accepts every value; useful for streams
// with no extra structural knowledge to check against.
func AcceptAll(record.Value) bool { return true }

// Unpacker is the robust unpacker. It is not safe for concurrent use.
type Unpacker struct {
	dec       *record.Decoder
	validator Validator
	state     State
}

// New returns an Unpacker in the Synced state. A nil validator defaults to
// AcceptAll.
func New(validator Validator) *Unpacker {
	if validator == nil {
		validator = AcceptAll
	}
	return &Unpacker{
		dec:       record.NewDecoder(),
		validator: validator,
		state:     Synced,
	}
}

// Feed appends bytes to the unpacker's pending input.
func (u *Unpacker) Feed(b []byte) {
	u.dec.Feed(b)
}

// State returns the unpacker's current synchronization state.
func (u *Unpacker) State() State { return u.state }

// Resync forces the unpacker into Resyncing state without discarding any
// pending bytes. Callers use this when they know, from context outside
// the stream itself, that the next expected record is missing (e.g. a
// chunk failed to arrive).
func (u *Unpacker) Resync() {
	u.state = Resyncing
}

// Next pulls the next accepted value out of the stream, if any is
// available yet. ok is false when more input is needed before a value can
// be produced; it is never false because of malformed data — malformed
// data instead advances the resync cursor and Next keeps trying
// internally until it either produces a value or exhausts the buffer.
func (u *Unpacker) Next() (v record.Value, ok bool) {
	for {
		res, consumed := u.dec.PeekNext()

		switch res.Status {
		case record.NeedMore:
			return record.Value{}, false

		case record.Malformed:
			// The byte at the front of the buffer cannot begin a valid
			// value. Drop exactly one byte and, if we were synced,
			// announce that we are no longer in a known-good position.
			u.state = Resyncing
			u.dec.Advance(1)
			continue

		case record.OK:
			if u.state == Synced {
				u.dec.Advance(consumed)
				return res.Value, true
			}
			// Resyncing: only accept a decoded value if the validator
			// agrees it looks genuine. Rejecting it does not mean the
			// bytes were malformed msgpack — they decoded fine — it
			// means they are not trusted as the start of a real record,
			// so we still only advance by one byte (not by the decoded
			// value's length) and keep scanning from there.
			if u.validator(res.Value) {
				u.state = Synced
				u.dec.Advance(consumed)
				return res.Value, true
			}
			u.dec.Advance(1)
			continue
		}
	}
}
