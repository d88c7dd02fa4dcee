package filestore

import (
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/store"
)

func TestInsertGetUpdateRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	rec := store.Record{
		ID:            "msg-1",
		Source:        "src",
		Destination:   "dst",
		Title:         []byte("hi"),
		Content:       []byte("there"),
		Timestamp:     time.Unix(1700000000, 0),
		Direction:     store.DirectionOut,
		ReceiptStatus: "queued",
	}
	if err := s.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := s.Get("msg-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ReceiptStatus != "queued" {
		t.Fatalf("expected queued, got %s", got.ReceiptStatus)
	}

	if err := s.UpdateReceiptStatus("msg-1", "delivered"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _, _ = s.Get("msg-1")
	if got.ReceiptStatus != "delivered" {
		t.Fatalf("expected delivered after update, got %s", got.ReceiptStatus)
	}
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Insert(store.Record{ID: "m1", Timestamp: time.Unix(1, 0)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertAnnounce(store.Announce{AddressHash: "peer-1", ObservedAt: time.Unix(1, 0)}); err != nil {
		t.Fatalf("insert announce: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok, _ := reopened.Get("m1"); !ok {
		t.Fatalf("expected message to survive reopen")
	}
	announces, err := reopened.ListAnnounces(10)
	if err != nil || len(announces) != 1 {
		t.Fatalf("expected 1 announce after reopen, got %d (err=%v)", len(announces), err)
	}
}

func TestCountMessageBuckets(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Insert(store.Record{ID: "a", ReceiptStatus: "queued", Timestamp: time.Unix(1, 0)})
	s.Insert(store.Record{ID: "b", ReceiptStatus: "sending", Timestamp: time.Unix(2, 0)})
	s.Insert(store.Record{ID: "c", ReceiptStatus: "delivered", Timestamp: time.Unix(3, 0)})

	queued, inFlight, err := s.CountMessageBuckets()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if queued != 1 || inFlight != 1 {
		t.Fatalf("expected queued=1 inFlight=1, got queued=%d inFlight=%d", queued, inFlight)
	}
}
