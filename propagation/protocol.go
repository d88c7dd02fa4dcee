package propagation

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/FreeTAKTeam/lxmf-go/identity"
)

// requestPath values for the single relay method this sync speaks.
const requestPathGet = "/get"

// encodeRequest builds the wire shape for a propagation request: the
// requester's address (so a relay replying over an unrelated channel knows
// where to send the response), a request id for correlation, a path, and an
// argument list.
func encodeRequest(requester identity.AddressHash, requestID, path string, args []interface{}) ([]byte, error) {
	frame := []interface{}{requester[:], requestID, path, args}
	return msgpack.Marshal(frame)
}

func decodeRequest(data []byte) (requester identity.AddressHash, requestID, path string, args []interface{}, err error) {
	var frame []interface{}
	if err = msgpack.Unmarshal(data, &frame); err != nil {
		return
	}
	if len(frame) != 4 {
		err = fmt.Errorf("propagation: malformed request frame, want 4 elements got %d", len(frame))
		return
	}
	addrBytes, ok := frame[0].([]byte)
	if !ok || len(addrBytes) != len(requester) {
		err = fmt.Errorf("propagation: malformed requester address in request frame")
		return
	}
	copy(requester[:], addrBytes)
	requestID, ok = frame[1].(string)
	if !ok {
		err = fmt.Errorf("propagation: malformed request id")
		return
	}
	path, ok = frame[2].(string)
	if !ok {
		err = fmt.Errorf("propagation: malformed request path")
		return
	}
	argArr, ok := frame[3].([]interface{})
	if !ok {
		err = fmt.Errorf("propagation: malformed request arguments")
		return
	}
	args = argArr
	return
}

// encodeResponse builds the wire shape for a propagation response: the
// request id it answers and an opaque data payload.
func encodeResponse(requestID string, data interface{}) ([]byte, error) {
	frame := []interface{}{requestID, data}
	return msgpack.Marshal(frame)
}

func decodeResponse(data []byte) (requestID string, payload interface{}, err error) {
	var frame []interface{}
	if err = msgpack.Unmarshal(data, &frame); err != nil {
		return
	}
	if len(frame) != 2 {
		err = fmt.Errorf("propagation: malformed response frame, want 2 elements got %d", len(frame))
		return
	}
	requestID, ok := frame[0].(string)
	if !ok {
		err = fmt.Errorf("propagation: malformed response request id")
		return
	}
	payload = frame[1]
	return
}

func asByteSlices(v interface{}) ([][]byte, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([][]byte, 0, len(arr))
	for _, el := range arr {
		b, ok := el.([]byte)
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

func toInterfaceByteSlices(bs [][]byte) []interface{} {
	out := make([]interface{}, len(bs))
	for i, b := range bs {
		out[i] = b
	}
	return out
}
