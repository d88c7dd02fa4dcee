// Package eventlog implements the bounded, monotonically numbered event
// stream each runtime exposes through poll_events: a ring buffer of domain
// events plus cursor encode/decode and gap detection across eviction.
package eventlog

import (
	"sync"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

// Severity classifies an event for log/metrics consumers.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// EventTypeStreamGap is the synthetic event type injected ahead of the first
// drain after the log has evicted unread events.
const EventTypeStreamGap = "stream_gap"

// Event is one published entry in the stream.
type Event struct {
	SeqNo     int64
	Type      string
	Payload   wire.Value
	Severity  Severity
	Timestamp time.Time
}

func severityFor(eventType string) Severity {
	switch eventType {
	case EventTypeStreamGap:
		return SeverityWarn
	case "error", "delivery_failed":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// StreamGapPayload is the payload carried by a synthetic StreamGap event.
type StreamGapPayload struct {
	ExpectedSeqNo int64
	ObservedSeqNo int64
	DroppedCount  int64
}

func (p StreamGapPayload) toValue() wire.Value {
	return wire.Map(map[wire.MapKey]wire.Value{
		wire.StrKey("expected_seq_no"): wire.Int(p.ExpectedSeqNo),
		wire.StrKey("observed_seq_no"): wire.Int(p.ObservedSeqNo),
		wire.StrKey("dropped_count"):   wire.Int(p.DroppedCount),
	})
}

// PollResult is the response to a poll_events call.
type PollResult struct {
	Events       []Event
	NextCursor   string
	DroppedCount int64
}

// Log is a bounded FIFO of domain events with cursor-based replay.
type Log struct {
	mu sync.Mutex

	runtimeID string
	streamID  string
	capacity  int
	now       func() time.Time

	events                []Event // oldest first
	nextSeqNo             int64
	droppedSinceLastDrain int64
	degraded              bool
}

// New creates an event log scoped to runtimeID/streamID with the given
// retention capacity (recommended 1024).
func New(runtimeID, streamID string, capacity int, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		runtimeID: runtimeID,
		streamID:  streamID,
		capacity:  capacity,
		now:       now,
	}
}

// Publish appends an event, evicting the oldest on overflow and incrementing
// dropped_since_last_drain when it does.
func (l *Log) Publish(eventType string, payload wire.Value) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publishLocked(eventType, payload)
}

func (l *Log) publishLocked(eventType string, payload wire.Value) Event {
	e := Event{
		SeqNo:     l.nextSeqNo,
		Type:      eventType,
		Payload:   payload,
		Severity:  severityFor(eventType),
		Timestamp: l.now(),
	}
	l.nextSeqNo++
	l.events = append(l.events, e)
	if len(l.events) > l.capacity {
		l.events = l.events[1:]
		l.droppedSinceLastDrain++
	}
	return e
}

// Depth reports the number of events currently retained in the ring buffer.
func (l *Log) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// oldestSeqNoLocked reports the seq_no of the oldest retained event, or
// next_seq_no if the log is empty (nothing has been evicted or retained).
func (l *Log) oldestSeqNoLocked() int64 {
	if len(l.events) == 0 {
		return l.nextSeqNo
	}
	return l.events[0].SeqNo
}

// PollEvents implements the poll_events contract: cursor validation, gap
// synthesis, and degraded-stream gating.
func (l *Log) PollEvents(cursorStr string, max, effectiveMaxPollEvents int) (PollResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max == 0 {
		return PollResult{}, sdkerr.New(sdkerr.ValidationInvalidArgument, "max must be greater than zero", nil)
	}
	if max > effectiveMaxPollEvents {
		return PollResult{}, sdkerr.New(sdkerr.ValidationMaxPollEventsExceeded, "max exceeds effective max_poll_events", nil)
	}

	if l.degraded && cursorStr != "" {
		return PollResult{}, sdkerr.New(sdkerr.RuntimeStreamDegraded, "stream is degraded; poll with cursor=null to recover", nil)
	}

	var cursor *Cursor
	if cursorStr != "" {
		c, err := ParseCursor(cursorStr, l.runtimeID, l.streamID)
		if err != nil {
			return PollResult{}, err
		}
		cursor = &c
	}

	oldest := l.oldestSeqNoLocked()

	var start int64
	if cursor != nil {
		start = cursor.SeqNo + 1
		if start < oldest {
			l.degraded = true
			return PollResult{}, sdkerr.New(sdkerr.RuntimeCursorExpired, "cursor is older than the retained window", nil)
		}
	} else {
		start = oldest
	}

	droppedCount := int64(0)
	var out []Event

	if cursor == nil && l.droppedSinceLastDrain > 0 {
		droppedCount = l.droppedSinceLastDrain
		l.droppedSinceLastDrain = 0
		gap := StreamGapPayload{
			ExpectedSeqNo: oldest - droppedCount,
			ObservedSeqNo: oldest,
			DroppedCount:  droppedCount,
		}
		out = append(out, Event{
			SeqNo:     oldest - 1,
			Type:      EventTypeStreamGap,
			Payload:   gap.toValue(),
			Severity:  SeverityWarn,
			Timestamp: l.now(),
		})
	}

	lastEmittedSeq := int64(-1)
	if cursor != nil {
		lastEmittedSeq = cursor.SeqNo
	}
	for _, e := range l.events {
		if len(out) >= max {
			break
		}
		if e.SeqNo < start {
			continue
		}
		out = append(out, e)
		lastEmittedSeq = e.SeqNo
	}

	nextCursor := Cursor{Version: CursorVersion, RuntimeID: l.runtimeID, StreamID: l.streamID, SeqNo: lastEmittedSeq}

	if cursor == nil {
		l.degraded = false
	}

	return PollResult{
		Events:       out,
		NextCursor:   nextCursor.String(),
		DroppedCount: droppedCount,
	}, nil
}
