package sendpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/delivery"
	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/store/filestore"
	"github.com/FreeTAKTeam/lxmf-go/transport/memnet"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

type noRelay struct{}

func (noRelay) HasRelay() bool { return false }
func (noRelay) Enqueue(ctx context.Context, destination identity.AddressHash, envelope []byte) error {
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *identity.Identity, *identity.Identity) {
	t.Helper()
	hub := memnet.NewHub()

	senderID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate sender identity: %v", err)
	}
	destID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate dest identity: %v", err)
	}

	senderPeer := hub.NewPeer(senderID.Address, senderID.Public)
	hub.NewPeer(destID.Address, destID.Public)

	fs, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open filestore: %v", err)
	}
	tracker := delivery.NewTracker(nil)
	log := eventlog.New("runtime-1", "default", 1024, nil)

	p := New(senderPeer, fs, tracker, log, noRelay{}, senderID, time.Hour, 1024)
	p.LinkTimeout = time.Second
	return p, senderID, destID
}

func TestSendSucceedsViaLink(t *testing.T) {
	p, senderID, destID := newTestPipeline(t)

	res, err := p.Send(context.Background(), Request{
		Source:      senderID.Address,
		Destination: destID.Address,
		Timestamp:   1700000000,
		Title:       []byte("hi"),
		Content:     []byte("there"),
		Fields:      wire.Null(),
		Method:      MethodDirect,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID == "" {
		t.Fatalf("expected a message id")
	}

	rec, ok := p.Tracker.Get(res.MessageID)
	if !ok {
		t.Fatalf("expected tracked delivery record")
	}
	if rec.Status != delivery.StatusSent {
		t.Fatalf("expected status sent, got %s", rec.Status)
	}
}

func TestSendIsIdempotentWithinTTL(t *testing.T) {
	p, senderID, destID := newTestPipeline(t)

	req := Request{
		Source:         senderID.Address,
		Destination:    destID.Address,
		Timestamp:      1700000000,
		Title:          []byte("hi"),
		Content:        []byte("there"),
		Fields:         wire.Null(),
		Method:         MethodDirect,
		IdempotencyKey: "idem-key-1",
	}

	res1, err := p.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	res2, err := p.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if res1.MessageID != res2.MessageID {
		t.Fatalf("expected same message_id for repeated idempotency key, got %s vs %s", res1.MessageID, res2.MessageID)
	}

	queued, inFlight, err := p.Store.CountMessageBuckets()
	if err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if queued+inFlight > 1 {
		t.Fatalf("expected idempotent send to not enqueue a duplicate record, got queued=%d inFlight=%d", queued, inFlight)
	}
}

func TestSendRequiresMatchingSourceAddress(t *testing.T) {
	p, _, destID := newTestPipeline(t)
	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = p.Send(context.Background(), Request{
		Source:      other.Address,
		Destination: destID.Address,
		Timestamp:   1700000000,
		Fields:      wire.Null(),
		Method:      MethodDirect,
	})
	if err == nil {
		t.Fatalf("expected error when source does not match runtime identity")
	}
}

func TestSendFailsWhenDestinationUnreachable(t *testing.T) {
	p, senderID, _ := newTestPipeline(t)
	unknown, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = p.Send(context.Background(), Request{
		Source:      senderID.Address,
		Destination: unknown.Address,
		Timestamp:   1700000000,
		Fields:      wire.Null(),
		Method:      MethodDirect,
	})
	if err == nil {
		t.Fatalf("expected delivery failure for an unreachable destination")
	}
}
