package rpcserver

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes bounds a single request frame to guard against a runaway
// length prefix before any allocation happens.
const maxFrameBytes = 8 << 20

// readFrame reads a 4-byte big-endian length prefix followed by that many
// bytes of msgpack payload, and unmarshals it into v.
func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return errors.New("rpcserver: frame exceeds maximum size")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return msgpack.Unmarshal(body, v)
}

// writeFrame marshals v to msgpack and writes it prefixed with its
// big-endian uint32 length.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
