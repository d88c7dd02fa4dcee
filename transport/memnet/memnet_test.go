package memnet

import (
	"context"
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/transport"
)

func addrOf(b byte) identity.AddressHash {
	var a identity.AddressHash
	a[0] = b
	return a
}

func TestLinkSendAndReceive(t *testing.T) {
	hub := NewHub()
	alice := hub.NewPeer(addrOf(1), []byte("alice-pub"))
	bob := hub.NewPeer(addrOf(2), []byte("bob-pub"))

	ctx := context.Background()
	if err := alice.RequestPath(ctx, bob.address); err != nil {
		t.Fatalf("request_path: %v", err)
	}

	link, err := alice.OpenLink(ctx, bob.address)
	if err != nil {
		t.Fatalf("open_link: %v", err)
	}
	if err := alice.AwaitActivation(ctx, link, time.Second); err != nil {
		t.Fatalf("await_activation: %v", err)
	}
	if !link.Activated {
		t.Fatalf("expected link activated")
	}

	if _, err := alice.SendLinkData(ctx, link, []byte("hello")); err != nil {
		t.Fatalf("send_link_data: %v", err)
	}

	select {
	case ev := <-bob.RecvDataEvents():
		if string(ev.Data) != "hello" {
			t.Fatalf("expected payload 'hello', got %q", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for data event")
	}
}

func TestSendPacketNoRoute(t *testing.T) {
	hub := NewHub()
	alice := hub.NewPeer(addrOf(1), nil)

	outcome, err := alice.SendPacket(context.Background(), addrOf(99), []byte("x"))
	if err != nil {
		t.Fatalf("send_packet: %v", err)
	}
	if outcome != transport.DroppedNoRoute {
		t.Fatalf("expected DroppedNoRoute, got %s", outcome)
	}
}

func TestDeliverAnnounceBroadcasts(t *testing.T) {
	hub := NewHub()
	alice := hub.NewPeer(addrOf(1), []byte("alice-pub"))
	bob := hub.NewPeer(addrOf(2), []byte("bob-pub"))

	if err := alice.DeliverAnnounce(context.Background(), identity.AddressHash{}, []byte("app")); err != nil {
		t.Fatalf("deliver_announce: %v", err)
	}

	select {
	case ev := <-bob.RecvAnnounceEvents():
		if ev.Address != alice.address {
			t.Fatalf("expected announce from alice")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for announce")
	}
}
