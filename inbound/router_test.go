package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/store/filestore"
	"github.com/FreeTAKTeam/lxmf-go/transport/memnet"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func buildSignedEnvelope(t *testing.T, src, dst *identity.Identity) []byte {
	t.Helper()
	env := &wire.Envelope{
		Timestamp: 1700000000,
		Title:     []byte("hi"),
		Content:   []byte("there"),
		Fields:    wire.Null(),
	}
	env.Destination = dst.Address
	env.Source = src.Address
	if err := env.Sign(func(msg []byte) []byte { return src.Sign(msg) }); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestRouterDecodesAndDedupesInbound(t *testing.T) {
	hub := memnet.NewHub()
	src, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate src: %v", err)
	}
	dst, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate dst: %v", err)
	}
	dstPeer := hub.NewPeer(dst.Address, dst.Public)

	fs, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open filestore: %v", err)
	}
	log := eventlog.New("runtime-1", "default", 1024, fixedNow)
	router := NewRouter(dstPeer, fs, log, fixedNow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	raw := buildSignedEnvelope(t, src, dst)
	outcome, err := hub.NewPeer(src.Address, src.Public).SendPacket(context.Background(), dst.Address, raw)
	if err != nil {
		t.Fatalf("send_packet: %v", err)
	}
	if outcome == "" {
		t.Fatalf("expected an outcome")
	}

	// Deliver the same payload a second time; it must be deduped.
	if _, err := hub.NewPeer(src.Address, src.Public).SendPacket(context.Background(), dst.Address, raw); err != nil {
		t.Fatalf("second send_packet: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		queued, inFlight, err := fs.CountMessageBuckets()
		_ = queued
		_ = inFlight
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		all, err := fs.List(10, time.Time{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for inbound message to persist, got %d records", len(all))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExtractDisplayNameFromRawUTF8(t *testing.T) {
	name, source := extractDisplayName([]byte("field-node-7"))
	if name != "field-node-7" || source != "raw_utf8" {
		t.Fatalf("expected raw_utf8 name extraction, got %q/%q", name, source)
	}
}

func TestPeerCacheTracksFirstAndLastSeen(t *testing.T) {
	cache := NewPeerCache()
	var addr identity.AddressHash
	addr[0] = 7

	first := time.Unix(100, 0)
	second := time.Unix(200, 0)
	cache.Observe(addr, "node-a", "raw_utf8", first)
	entry := cache.Observe(addr, "", "", second)

	if entry.FirstSeen != first {
		t.Fatalf("expected first_seen preserved across updates")
	}
	if entry.LastSeen != second {
		t.Fatalf("expected last_seen updated")
	}
	if entry.SeenCount != 2 {
		t.Fatalf("expected seen_count=2, got %d", entry.SeenCount)
	}
	if entry.Name != "node-a" {
		t.Fatalf("expected name preserved when a later observe has no name, got %q", entry.Name)
	}
}
