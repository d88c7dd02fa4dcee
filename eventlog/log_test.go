package eventlog

import (
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestDepthTracksRetainedEvents(t *testing.T) {
	l := New("runtime-1", "default", 4, fixedNow)
	for i := 0; i < 3; i++ {
		l.Publish("note", wire.Null())
	}
	if got := l.Depth(); got != 3 {
		t.Fatalf("expected depth 3, got %d", got)
	}
	for i := 0; i < 10; i++ {
		l.Publish("note", wire.Null())
	}
	if got := l.Depth(); got != 4 {
		t.Fatalf("expected depth capped at capacity 4, got %d", got)
	}
}

func TestCursorMonotonicityAndGap(t *testing.T) {
	l := New("runtime-1", "default", 1024, fixedNow)
	for i := 0; i < 1040; i++ {
		l.Publish("note", wire.Null())
	}

	res, err := l.PollEvents("", 4, 256)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}
	if res.DroppedCount != 16 {
		t.Fatalf("expected dropped_count 16, got %d", res.DroppedCount)
	}
	first := res.Events[0]
	if first.Type != EventTypeStreamGap {
		t.Fatalf("expected first event to be a stream gap, got %s", first.Type)
	}
	if first.Severity != SeverityWarn {
		t.Fatalf("expected stream gap severity warn, got %s", first.Severity)
	}
	gapMap := first.Payload.Map
	if gapMap[wire.StrKey("expected_seq_no")].Int != 0 {
		t.Fatalf("expected expected_seq_no=0")
	}
	if gapMap[wire.StrKey("observed_seq_no")].Int != 16 {
		t.Fatalf("expected observed_seq_no=16")
	}
	if gapMap[wire.StrKey("dropped_count")].Int != 16 {
		t.Fatalf("expected dropped_count=16 in payload")
	}
	if res.Events[1].SeqNo != 16 {
		t.Fatalf("expected first real event at seq_no=16, got %d", res.Events[1].SeqNo)
	}

	res2, err := l.PollEvents(res.NextCursor, 4, 256)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(res2.Events) == 0 {
		t.Fatalf("expected events on second poll")
	}
	if res2.Events[0].SeqNo <= res.Events[len(res.Events)-1].SeqNo {
		t.Fatalf("expected strictly increasing seq_no across polls")
	}
	if res2.DroppedCount != 0 {
		t.Fatalf("expected dropped_count=0 on a drained cursor poll, got %d", res2.DroppedCount)
	}
}

func TestPollRejectsZeroMax(t *testing.T) {
	l := New("runtime-1", "default", 64, fixedNow)
	_, err := l.PollEvents("", 0, 256)
	if !sdkerr.Is(err, sdkerr.ValidationInvalidArgument) {
		t.Fatalf("expected ValidationInvalidArgument, got %v", err)
	}
}

func TestPollRejectsMaxAboveEffectiveLimit(t *testing.T) {
	l := New("runtime-1", "default", 64, fixedNow)
	_, err := l.PollEvents("", 300, 256)
	if !sdkerr.Is(err, sdkerr.ValidationMaxPollEventsExceeded) {
		t.Fatalf("expected ValidationMaxPollEventsExceeded, got %v", err)
	}
}

func TestExpiredCursorDegradesStream(t *testing.T) {
	l := New("runtime-1", "default", 8, fixedNow)
	for i := 0; i < 20; i++ {
		l.Publish("note", wire.Null())
	}
	stale := Cursor{Version: CursorVersion, RuntimeID: "runtime-1", StreamID: "default", SeqNo: 0}

	_, err := l.PollEvents(stale.String(), 4, 256)
	if !sdkerr.Is(err, sdkerr.RuntimeCursorExpired) {
		t.Fatalf("expected RuntimeCursorExpired, got %v", err)
	}

	_, err = l.PollEvents(stale.String(), 4, 256)
	if !sdkerr.Is(err, sdkerr.RuntimeStreamDegraded) {
		t.Fatalf("expected RuntimeStreamDegraded on second poll with a cursor, got %v", err)
	}

	if _, err := l.PollEvents("", 4, 256); err != nil {
		t.Fatalf("expected recovery poll with cursor=null to succeed, got %v", err)
	}
}

func TestCursorRejectsForeignScope(t *testing.T) {
	l := New("runtime-1", "default", 8, fixedNow)
	l.Publish("note", wire.Null())
	foreign := Cursor{Version: CursorVersion, RuntimeID: "other-runtime", StreamID: "default", SeqNo: 0}
	_, err := l.PollEvents(foreign.String(), 4, 256)
	if !sdkerr.Is(err, sdkerr.RuntimeInvalidCursor) {
		t.Fatalf("expected RuntimeInvalidCursor, got %v", err)
	}
}

func TestEveryNonEvictedEventEventuallyDelivered(t *testing.T) {
	l := New("runtime-1", "default", 1024, fixedNow)
	for i := 0; i < 50; i++ {
		l.Publish("note", wire.Null())
	}

	seen := map[int64]bool{}
	cursor := ""
	for i := 0; i < 20; i++ {
		res, err := l.PollEvents(cursor, 4, 256)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if len(res.Events) == 0 {
			break
		}
		for _, e := range res.Events {
			if seen[e.SeqNo] {
				t.Fatalf("event %d delivered twice", e.SeqNo)
			}
			seen[e.SeqNo] = true
		}
		cursor = res.NextCursor
	}
	for i := int64(0); i < 50; i++ {
		if !seen[i] {
			t.Fatalf("event %d never delivered", i)
		}
	}
}
