// Package codec converts values between their domain representation and the
// representation a document store accepts on the wire.
//
// Two codecs exist. Instant maps a time.Time to a wire Timestamp and back and
// is lossless for persisted values. WriteTime is a one-way codec for audit
// fields that the store stamps at write time: every Encode returns the
// ServerTimestamp sentinel regardless of the input, and Decode cannot recover
// the original value. Never use WriteTime to round-trip data.
//
// Codecs perform no I/O. Malformed wire input is not handled here; the schema
// package reports it as a validation error.
package codec

import "time"

// Codec is a pair of pure transformations between a domain type D and a wire type W.
type Codec[D, W any] interface {
	Encode(D) W
	Decode(W) D
	// Nullable reports whether an absent wire value defaults to null.
	Nullable() bool
}

// Timestamp is the wire representation of a stored instant.
type Timestamp struct {
	Seconds int64 `json:"seconds" bson:"seconds"`
	Nanos   int32 `json:"nanos" bson:"nanos"`
}

// Time converts the wire timestamp to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// TimestampOf converts a time.Time to its wire timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Sentinel is an opaque placeholder the store resolves at write time.
type Sentinel struct {
	kind string
}

// String implements fmt.Stringer.
func (s Sentinel) String() string {
	return "sentinel(" + s.kind + ")"
}

// ServerTimestamp asks the store to stamp the field with its own clock at write time.
var ServerTimestamp = Sentinel{kind: "server_timestamp"}

// IsSentinel reports whether v is a write sentinel.
func IsSentinel(v any) bool {
	switch s := v.(type) {
	case Sentinel:
		return s.kind != ""
	case *Sentinel:
		return s != nil && s.kind != ""
	}
	return false
}

// Instant is the read/write codec for already-persisted instants.
var Instant Codec[time.Time, Timestamp] = instantCodec{}

type instantCodec struct{}

func (instantCodec) Encode(t time.Time) Timestamp { return TimestampOf(t) }
func (instantCodec) Decode(ts Timestamp) time.Time { return ts.Time() }
func (instantCodec) Nullable() bool               { return true }

// WriteTime is the write-sentinel codec. Encode ignores its argument.
// Decode returns the zero time: a sentinel carries no instant until the store resolves it.
var WriteTime Codec[time.Time, Sentinel] = writeTimeCodec{}

type writeTimeCodec struct{}

func (writeTimeCodec) Encode(time.Time) Sentinel { return ServerTimestamp }
func (writeTimeCodec) Decode(Sentinel) time.Time { return time.Time{} }
func (writeTimeCodec) Nullable() bool            { return true }
