package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func marshalTestArray(arr []interface{}) ([]byte, error) {
	return msgpack.Marshal(arr)
}

func testEnvelope(t *testing.T, stamp []byte) (*Envelope, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e := &Envelope{
		Timestamp: 1700000000.5,
		Title:     []byte("hello"),
		Content:   []byte("world"),
		Fields: Map(map[MapKey]Value{
			IntKey(5): Array([]Value{
				Array([]Value{Str("notes.txt"), Bytes([]byte("payload"))}),
			}),
			StrKey("custom"): Str("value"),
		}),
		Stamp: stamp,
	}
	copy(e.Destination[:], bytes.Repeat([]byte{0xAA}, 16))
	copy(e.Source[:], bytes.Repeat([]byte{0xBB}, 16))
	if err := e.Sign(func(msg []byte) []byte { return ed25519.Sign(priv, msg) }); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e, pub, priv
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig, pub, _ := testEnvelope(t, []byte("stamp-bytes"))

	raw, err := orig.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Destination != orig.Destination {
		t.Fatalf("destination mismatch")
	}
	if decoded.Source != orig.Source {
		t.Fatalf("source mismatch")
	}
	if decoded.Signature != orig.Signature {
		t.Fatalf("signature mismatch")
	}
	if decoded.Timestamp != orig.Timestamp {
		t.Fatalf("timestamp mismatch: %v vs %v", decoded.Timestamp, orig.Timestamp)
	}
	if !bytes.Equal(decoded.Title, orig.Title) {
		t.Fatalf("title mismatch")
	}
	if !bytes.Equal(decoded.Content, orig.Content) {
		t.Fatalf("content mismatch")
	}
	if !bytes.Equal(decoded.Stamp, orig.Stamp) {
		t.Fatalf("stamp mismatch")
	}
	if !Equal(decoded.Fields, orig.Fields) {
		t.Fatalf("fields mismatch: %+v vs %+v", decoded.Fields, orig.Fields)
	}

	if !decoded.Verify(func(msg, sig []byte) bool { return ed25519.Verify(pub, msg, sig) }) {
		t.Fatalf("expected signature to verify after round trip")
	}
}

func TestMessageIDStableAcrossStampPresence(t *testing.T) {
	withStamp, _, _ := testEnvelope(t, []byte("stamp-bytes"))
	withoutStamp := *withStamp
	withoutStamp.Stamp = nil

	idWith, err := withStamp.MessageID()
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	idWithout, err := withoutStamp.MessageID()
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	if idWith != idWithout {
		t.Fatalf("message_id must be stable regardless of stamp presence: %x vs %x", idWith, idWithout)
	}
}

func TestMessageIDStableAcrossReencoding(t *testing.T) {
	orig, _, _ := testEnvelope(t, nil)
	id1, err := orig.MessageID()
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}

	raw, err := orig.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id2, err := decoded.MessageID()
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("message_id changed across re-encode/decode: %x vs %x", id1, id2)
	}

	reencoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, reencoded) {
		t.Fatalf("wire bytes not stable across decode/encode round trip")
	}
}

func TestDecodeRejectsShortEnvelope(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err == nil {
		t.Fatalf("expected error decoding short envelope")
	}
}

func TestDecodeAcceptsIntegerTimestamp(t *testing.T) {
	arr := []interface{}{int64(1700000000), []byte("t"), []byte("c"), nil}
	payload, err := marshalTestArray(arr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := make([]byte, 0, headerSize+len(payload))
	raw = append(raw, make([]byte, headerSize)...)
	raw = append(raw, payload...)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Timestamp != 1700000000.0 {
		t.Fatalf("expected integer timestamp normalized to float, got %v", decoded.Timestamp)
	}
}
