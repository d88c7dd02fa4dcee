package delivery

import (
	"strconv"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestStickyTerminal(t *testing.T) {
	tr := NewTracker(fixedNow)

	if !tr.Update("m1", "queued") {
		t.Fatalf("expected first update to apply")
	}
	if !tr.Update("m1", "delivered") {
		t.Fatalf("expected transition to delivered to apply")
	}

	rec, ok := tr.Get("m1")
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if rec.Status != StatusDelivered {
		t.Fatalf("expected status delivered, got %s", rec.Status)
	}
	traceLenBefore := len(rec.Trace)

	if tr.Update("m1", "sent: direct") {
		t.Fatalf("expected update after terminal to be ignored")
	}

	rec2, _ := tr.Get("m1")
	if rec2.Status != StatusDelivered {
		t.Fatalf("status must not change after terminal, got %s", rec2.Status)
	}
	if len(rec2.Trace) != traceLenBefore {
		t.Fatalf("trace length must be unchanged after ignored update: %d vs %d", len(rec2.Trace), traceLenBefore)
	}
}

func TestCancelAfterSentIsTooLate(t *testing.T) {
	tr := NewTracker(fixedNow)
	tr.Update("m1", "queued")
	tr.Update("m1", "sent: link")

	outcome := tr.Cancel("m1")
	if outcome != CancelTooLateToCancel {
		t.Fatalf("expected TooLateToCancel, got %s", outcome)
	}

	rec, _ := tr.Get("m1")
	if rec.Status == StatusCancelled {
		t.Fatalf("state must be unchanged after a too-late cancel")
	}
}

func TestCancelBeforeSentIsAccepted(t *testing.T) {
	tr := NewTracker(fixedNow)
	tr.Update("m1", "queued")
	tr.Update("m1", "dispatching")

	outcome := tr.Cancel("m1")
	if outcome != CancelAccepted {
		t.Fatalf("expected Accepted, got %s", outcome)
	}

	rec, _ := tr.Get("m1")
	if rec.Status != StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", rec.Status)
	}
}

func TestCancelUnknownMessageIsNotFound(t *testing.T) {
	tr := NewTracker(fixedNow)

	outcome := tr.Cancel("does-not-exist")
	if outcome != CancelNotFound {
		t.Fatalf("expected NotFound, got %s", outcome)
	}
	if _, ok := tr.Get("does-not-exist"); ok {
		t.Fatalf("cancelling an unknown message must not create a record")
	}
}

func TestCancelAlreadyTerminalNonFailed(t *testing.T) {
	tr := NewTracker(fixedNow)
	tr.Update("m1", "queued")
	tr.Update("m1", "delivered")

	outcome := tr.Cancel("m1")
	if outcome != CancelAlreadyTerminal {
		t.Fatalf("expected AlreadyTerminal, got %s", outcome)
	}

	rec, _ := tr.Get("m1")
	if rec.Status != StatusDelivered {
		t.Fatalf("status must be unchanged after an already-terminal cancel, got %s", rec.Status)
	}
}

func TestReasonCodeDerivedFromStatusText(t *testing.T) {
	tr := NewTracker(fixedNow)
	tr.Update("m1", "failed: receipt_timeout while waiting on link")

	rec, _ := tr.Get("m1")
	last := rec.Trace[len(rec.Trace)-1]
	if last.ReasonCode != "receipt_timeout" {
		t.Fatalf("expected reason_code receipt_timeout, got %q", last.ReasonCode)
	}
}

func TestPerMessageTraceCapEvictsOldest(t *testing.T) {
	tr := NewTracker(fixedNow)
	for i := 0; i < maxTracePerMessage+10; i++ {
		tr.Update("m1", "dispatching")
	}
	rec, _ := tr.Get("m1")
	if len(rec.Trace) != maxTracePerMessage {
		t.Fatalf("expected trace capped at %d, got %d", maxTracePerMessage, len(rec.Trace))
	}
}

func TestGlobalTrackedMessagesCapPreservesCurrent(t *testing.T) {
	tr := NewTracker(fixedNow)
	for i := 0; i < maxTrackedMessages+50; i++ {
		tr.Update(messageIDFor(i), "queued")
	}
	if len(tr.records) > maxTrackedMessages {
		t.Fatalf("expected at most %d tracked messages, got %d", maxTrackedMessages, len(tr.records))
	}
	last := messageIDFor(maxTrackedMessages + 49)
	if _, ok := tr.Get(last); !ok {
		t.Fatalf("expected the most recently updated message to survive eviction")
	}
}

func messageIDFor(i int) string {
	return "msg-" + strconv.Itoa(i)
}
