package eventlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// CursorVersion is the contract version embedded in every encoded cursor.
const CursorVersion = 1

// Cursor is a decoded position in a runtime's event stream, scoped to a
// specific runtime and stream so a cursor from elsewhere is never accepted.
type Cursor struct {
	Version   int
	RuntimeID string
	StreamID  string
	SeqNo     int64
}

// String encodes the cursor as v{VERSION}:{runtime_id}:{stream_id}:{seq_no}.
func (c Cursor) String() string {
	return fmt.Sprintf("v%d:%s:%s:%d", c.Version, c.RuntimeID, c.StreamID, c.SeqNo)
}

// ParseCursor decodes a cursor string, rejecting any scope mismatch against
// the owning log's runtime_id/stream_id.
func ParseCursor(raw, runtimeID, streamID string) (Cursor, error) {
	if !strings.HasPrefix(raw, "v") {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "cursor missing version prefix", nil)
	}
	fields := strings.SplitN(raw[1:], ":", 4)
	if len(fields) != 4 {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "cursor must have 4 colon-separated fields", nil)
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "cursor version not numeric", nil)
	}
	if version != CursorVersion {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "unsupported cursor version", nil)
	}

	gotRuntimeID, gotStreamID, seqStr := fields[1], fields[2], fields[3]
	seqNo, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "cursor seq_no not numeric", nil)
	}

	if gotRuntimeID != runtimeID || gotStreamID != streamID {
		return Cursor{}, sdkerr.New(sdkerr.RuntimeInvalidCursor, "cursor scoped to a different runtime or stream", nil)
	}

	return Cursor{Version: version, RuntimeID: gotRuntimeID, StreamID: gotStreamID, SeqNo: seqNo}, nil
}
