package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

// rpcEnvelope mirrors rpcserver's wire shape for the /rpc POST body.
type rpcEnvelope struct {
	Method string                 `msgpack:"method"`
	Params map[string]interface{} `msgpack:"params"`
}

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

func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return msgpack.Unmarshal(body, v)
}

// call issues one RPC to addr's /rpc endpoint and returns the decoded
// result, or an error built from the response's error frame.
func call(addr, method string, params map[string]interface{}) (map[string]interface{}, error) {
	var framed bytes.Buffer
	if err := writeFrame(&framed, rpcEnvelope{Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post("http://"+addr+"/rpc", "application/msgpack", &framed)
	if err != nil {
		return nil, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("unknown rpc method %q", method)
	}

	var decoded map[string]interface{}
	if err := readFrame(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if errBody, ok := decoded["error"].(map[string]interface{}); ok {
		return nil, fmt.Errorf("%s: %s", errBody["machine_code"], errBody["message"])
	}
	result, _ := decoded["result"].(map[string]interface{})
	return result, nil
}
