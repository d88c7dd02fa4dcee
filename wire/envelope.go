package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	destinationSize = 16
	sourceSize      = 16
	signatureSize   = 64
	headerSize      = destinationSize + sourceSize + signatureSize
)

// Envelope is the signed, addressed framing of a message, bit-exact with the
// wire format: 16B destination, 16B source, 64B signature, then a
// MessagePack array [ts_seconds, title, content, fields|nil, stamp?].
type Envelope struct {
	Destination [destinationSize]byte
	Source      [sourceSize]byte
	Signature   [signatureSize]byte
	Timestamp   float64
	Title       []byte
	Content     []byte
	Fields      Value // Null or Map
	Stamp       []byte
}

// payloadWithoutStamp returns the MessagePack-encoded 4-element array used
// both for message_id hashing and for the signed preimage. Per design note
// (c), stamp bytes never participate in either.
func (e *Envelope) payloadWithoutStamp() ([]byte, error) {
	fields := interface{}(nil)
	if !e.Fields.IsNull() {
		fields = toInterface(e.Fields)
	}
	arr := []interface{}{e.Timestamp, e.Title, e.Content, fields}
	b, err := msgpack.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return b, nil
}

// fullPayload returns the 4- or 5-element array, including the stamp when
// present, for the bytes actually transmitted on the wire.
func (e *Envelope) fullPayload() ([]byte, error) {
	fields := interface{}(nil)
	if !e.Fields.IsNull() {
		fields = toInterface(e.Fields)
	}
	var arr []interface{}
	if len(e.Stamp) > 0 {
		arr = []interface{}{e.Timestamp, e.Title, e.Content, fields, e.Stamp}
	} else {
		arr = []interface{}{e.Timestamp, e.Title, e.Content, fields}
	}
	b, err := msgpack.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return b, nil
}

// MessageID computes SHA-256(destination || source || payload-without-stamp),
// content-addressed and stable across wire, paper, and propagated shapes.
func (e *Envelope) MessageID() ([32]byte, error) {
	payload, err := e.payloadWithoutStamp()
	if err != nil {
		return [32]byte{}, err
	}
	return hashMessage(e.Destination, e.Source, payload), nil
}

func hashMessage(dest, src [16]byte, payloadNoStamp []byte) [32]byte {
	h := sha256.New()
	h.Write(dest[:])
	h.Write(src[:])
	h.Write(payloadNoStamp)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SignPreimage returns destination || source || payload-without-stamp, the
// exact bytes both hashed for message_id and signed.
func (e *Envelope) SignPreimage() ([]byte, error) {
	payload, err := e.payloadWithoutStamp()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(payload))
	out = append(out, e.Destination[:]...)
	out = append(out, e.Source[:]...)
	out = append(out, payload...)
	return out, nil
}

// Sign fills in e.Signature using signFn over the canonical preimage.
func (e *Envelope) Sign(signFn func(msg []byte) []byte) error {
	preimage, err := e.SignPreimage()
	if err != nil {
		return err
	}
	sig := signFn(preimage)
	if len(sig) != signatureSize {
		return fmt.Errorf("wire: signature must be %d bytes, got %d", signatureSize, len(sig))
	}
	copy(e.Signature[:], sig)
	return nil
}

// VerifyFn verifies a signature over msg against the envelope's source
// identity; callers supply this since the wire package doesn't resolve
// identities itself.
type VerifyFn func(msg, sig []byte) bool

// Verify reports whether the envelope's signature is valid per verifyFn.
func (e *Envelope) Verify(verifyFn VerifyFn) bool {
	preimage, err := e.SignPreimage()
	if err != nil {
		return false
	}
	return verifyFn(preimage, e.Signature[:])
}

// Encode produces the full wire bytes: 16B dest || 16B src || 64B sig ||
// msgpack payload (with stamp, if present).
func (e *Envelope) Encode() ([]byte, error) {
	payload, err := e.fullPayload()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, e.Destination[:]...)
	out = append(out, e.Source[:]...)
	out = append(out, e.Signature[:]...)
	out = append(out, payload...)
	return out, nil
}

// Decode parses raw wire bytes into an Envelope: the payload must be a
// well-formed msgpack array of 4 or 5 elements. The timestamp may be an int,
// uint or float, and title/content may be binary or string. The fields map
// is decoded as it is; attachment shapes are not normalized.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("wire: envelope too short: %d bytes", len(raw))
	}
	var e Envelope
	copy(e.Destination[:], raw[0:16])
	copy(e.Source[:], raw[16:32])
	copy(e.Signature[:], raw[32:96])

	var arr []interface{}
	if err := msgpack.Unmarshal(raw[headerSize:], &arr); err != nil {
		return nil, fmt.Errorf("wire: decode payload: %w", err)
	}
	if len(arr) != 4 && len(arr) != 5 {
		return nil, fmt.Errorf("wire: payload must have 4 or 5 elements, got %d", len(arr))
	}

	ts, err := decodeTimestamp(arr[0])
	if err != nil {
		return nil, err
	}
	e.Timestamp = ts

	title, err := decodeBinary(arr[1])
	if err != nil {
		return nil, fmt.Errorf("wire: title: %w", err)
	}
	e.Title = title

	content, err := decodeBinary(arr[2])
	if err != nil {
		return nil, fmt.Errorf("wire: content: %w", err)
	}
	e.Content = content

	if arr[3] == nil {
		e.Fields = Null()
	} else {
		fv, err := fromInterface(arr[3])
		if err != nil {
			return nil, fmt.Errorf("wire: fields: %w", err)
		}
		e.Fields = fv
	}

	if len(arr) == 5 && arr[4] != nil {
		stamp, err := decodeBinary(arr[4])
		if err != nil {
			return nil, fmt.Errorf("wire: stamp: %w", err)
		}
		e.Stamp = stamp
	}

	return &e, nil
}

// decodeTimestamp accepts int, uint, or float per the wire backward
// compatibility design note, always normalizing to float64 seconds.
func decodeTimestamp(x interface{}) (float64, error) {
	switch t := x.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case int8, int16, int32, uint8, uint16, uint32:
		v, err := fromInterface(t)
		if err != nil {
			return 0, err
		}
		return float64(v.Int), nil
	default:
		return 0, fmt.Errorf("wire: unsupported timestamp type %T", x)
	}
}

func decodeBinary(x interface{}) ([]byte, error) {
	switch t := x.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("wire: expected binary, got %T", x)
	}
}
