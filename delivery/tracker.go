// Package delivery tracks per-message delivery state with sticky terminal
// statuses and a bounded, append-only trace history.
package delivery

import (
	"strings"
	"sync"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// Status is a coarse classification of a delivery receipt's lifecycle stage.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDispatching Status = "dispatching"
	StatusInFlight    Status = "inflight"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
	StatusRejected    Status = "rejected"
	StatusUnknown     Status = "unknown"
)

var terminalStatuses = map[Status]bool{
	StatusDelivered: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusExpired:   true,
	StatusRejected:  true,
}

// reasonVocabulary is matched case-insensitively, in order, against a raw
// receipt status string to derive its reason_code.
var reasonVocabulary = []string{
	"receipt_timeout",
	"timeout",
	"no_path",
	"relay_unset",
	"retry_budget_exhausted",
}

// classify maps a raw receipt status string (e.g. "sent: direct",
// "failed: timeout") to its coarse Status by taking the text before the
// first colon and matching it case-insensitively against the known set.
func classify(raw string) Status {
	head := raw
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		head = raw[:i]
	}
	switch strings.ToLower(strings.TrimSpace(head)) {
	case string(StatusQueued):
		return StatusQueued
	case string(StatusDispatching):
		return StatusDispatching
	case string(StatusInFlight), "in_flight":
		return StatusInFlight
	case string(StatusSent):
		return StatusSent
	case string(StatusDelivered):
		return StatusDelivered
	case string(StatusFailed):
		return StatusFailed
	case string(StatusCancelled):
		return StatusCancelled
	case string(StatusExpired):
		return StatusExpired
	case string(StatusRejected):
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// reasonCode derives a reason_code from a raw status string by case
// insensitive substring match over the fixed vocabulary.
func reasonCode(raw string) string {
	lower := strings.ToLower(raw)
	for _, candidate := range reasonVocabulary {
		if strings.Contains(lower, candidate) {
			return candidate
		}
	}
	return ""
}

// TraceEntry is one append-only delivery trace record.
type TraceEntry struct {
	Status      string
	TimestampMs int64
	ReasonCode  string
}

// Record is the tracked delivery state for a single message.
type Record struct {
	MessageID string
	RawStatus string
	Status    Status
	Trace     []TraceEntry
}

const (
	maxTracePerMessage = 32
	maxTrackedMessages = 2048
)

// Tracker holds delivery state for many messages under delivery_status_lock.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	records map[string]*Record
	touched []string // message IDs in least-recently-touched-first order
}

// NewTracker creates an empty tracker; now defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		records: make(map[string]*Record),
	}
}

// Get returns a copy of the current record for messageID, if tracked.
func (t *Tracker) Get(messageID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[messageID]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(rec), true
}

func cloneRecord(rec *Record) Record {
	out := *rec
	out.Trace = append([]TraceEntry(nil), rec.Trace...)
	return out
}

// Update applies a raw receipt status to messageID under the sticky-terminal
// rule: once the tracked status is terminal, later updates are ignored and
// no trace entry is appended. Returns whether the update was applied.
func (t *Tracker) Update(messageID, rawStatus string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(messageID, rawStatus)
}

func (t *Tracker) updateLocked(messageID, rawStatus string) bool {
	rec, ok := t.records[messageID]
	if !ok {
		rec = &Record{MessageID: messageID, Status: StatusUnknown}
		t.records[messageID] = rec
		t.touched = append(t.touched, messageID)
		t.evictOverflowLocked(messageID)
	} else if terminalStatuses[rec.Status] {
		t.touchLocked(messageID)
		return false
	}

	rec.RawStatus = rawStatus
	rec.Status = classify(rawStatus)
	entry := TraceEntry{
		Status:      rawStatus,
		TimestampMs: t.now().UnixMilli(),
		ReasonCode:  reasonCode(rawStatus),
	}
	rec.Trace = append(rec.Trace, entry)
	if len(rec.Trace) > maxTracePerMessage {
		rec.Trace = rec.Trace[len(rec.Trace)-maxTracePerMessage:]
	}
	t.touchLocked(messageID)
	return true
}

// touchLocked moves messageID to the most-recently-touched end of the
// eviction order so it is preserved over other messages' traces.
func (t *Tracker) touchLocked(messageID string) {
	for i, id := range t.touched {
		if id == messageID {
			t.touched = append(t.touched[:i], t.touched[i+1:]...)
			break
		}
	}
	t.touched = append(t.touched, messageID)
}

// evictOverflowLocked drops the oldest *other* message's record once the
// tracked set exceeds its cap, so the message currently receiving an update
// is never the one evicted.
func (t *Tracker) evictOverflowLocked(current string) {
	for len(t.records) > maxTrackedMessages {
		victim := ""
		for _, id := range t.touched {
			if id != current {
				victim = id
				break
			}
		}
		if victim == "" {
			return
		}
		delete(t.records, victim)
		for i, id := range t.touched {
			if id == victim {
				t.touched = append(t.touched[:i], t.touched[i+1:]...)
				break
			}
		}
	}
}

// CancelOutcome is the result of a cancel(message_id) call.
type CancelOutcome string

const (
	CancelAccepted        CancelOutcome = "accepted"
	CancelTooLateToCancel CancelOutcome = "too_late_to_cancel"
	CancelNotFound        CancelOutcome = "not_found"
	CancelAlreadyTerminal CancelOutcome = "already_terminal"
)

// Cancel implements cancel(message_id): NotFound for an untracked message,
// TooLateToCancel once any prior state or trace entry starts with "sent"
// (case-insensitive), AlreadyTerminal once the record has reached a
// terminal status other than Failed, otherwise persists cancelled and
// returns Accepted.
func (t *Tracker) Cancel(messageID string) CancelOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[messageID]
	if !ok {
		return CancelNotFound
	}

	if strings.HasPrefix(strings.ToLower(rec.RawStatus), "sent") {
		return CancelTooLateToCancel
	}
	for _, entry := range rec.Trace {
		if strings.HasPrefix(strings.ToLower(entry.Status), "sent") {
			return CancelTooLateToCancel
		}
	}

	if terminalStatuses[rec.Status] && rec.Status != StatusFailed {
		return CancelAlreadyTerminal
	}

	t.updateLocked(messageID, "cancelled")
	return CancelAccepted
}

// DeliveryError builds the SDK_DELIVERY_FAILED error surfaced to a caller
// after a send-pipeline step fails outright.
func DeliveryError(reason string) *sdkerr.Error {
	return sdkerr.New(sdkerr.DeliveryFailed, "delivery failed: "+reason, map[string]any{
		"reason_code": reasonCode(reason),
	})
}
