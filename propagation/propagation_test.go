package propagation

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/inbound"
	"github.com/FreeTAKTeam/lxmf-go/store/filestore"
	"github.com/FreeTAKTeam/lxmf-go/transport/memnet"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

// runRelayStub answers the two-request propagation protocol on behalf of a
// relay peer: a nil/nil list request returns the stored transient IDs, and a
// wants/haves/nil body request returns the matching payloads. The
// nil/haves acknowledge is accepted and ignored.
func runRelayStub(ctx context.Context, relay *memnet.Peer, messages map[string][]byte) {
	data := relay.RecvDataEvents()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-data:
				if !ok {
					return
				}
				requester, requestID, path, args, err := decodeRequest(ev.Data)
				if err != nil || path != requestPathGet {
					continue
				}
				switch {
				case len(args) == 2 && args[0] == nil && args[1] == nil:
					ids := make([]interface{}, 0, len(messages))
					for idHex := range messages {
						idBytes, _ := hex.DecodeString(idHex)
						ids = append(ids, idBytes)
					}
					resp, encErr := encodeResponse(requestID, ids)
					if encErr == nil {
						_, _ = relay.SendPacket(ctx, requester, resp)
					}
				case len(args) == 3:
					wants, ok := args[0].([]interface{})
					if !ok {
						continue
					}
					bodies := make([]interface{}, 0, len(wants))
					for _, w := range wants {
						wb, ok := w.([]byte)
						if !ok {
							continue
						}
						if payload, ok := messages[hex.EncodeToString(wb)]; ok {
							bodies = append(bodies, payload)
						}
					}
					resp, encErr := encodeResponse(requestID, bodies)
					if encErr == nil {
						_, _ = relay.SendPacket(ctx, requester, resp)
					}
				}
			}
		}
	}()
}

func buildStoredEnvelope(t *testing.T, src, dst *identity.Identity, content string) []byte {
	t.Helper()
	env := &wire.Envelope{
		Timestamp: 1700000000,
		Title:     []byte("propagated"),
		Content:   []byte(content),
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

func TestPropagationFetchThreeMessages(t *testing.T) {
	hub := memnet.NewHub()

	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client: %v", err)
	}
	relayID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate relay: %v", err)
	}
	senderID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}

	clientPeer := hub.NewPeer(clientID.Address, clientID.Public)
	relayPeer := hub.NewPeer(relayID.Address, relayID.Public)

	fs, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open filestore: %v", err)
	}
	log := eventlog.New("runtime-1", "default", 1024, nil)
	router := inbound.NewRouter(clientPeer, fs, log, nil)

	ps := New(clientPeer, fs, router, log, clientID.Address, nil)
	ps.SetRelay(relayID.Address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	messages := map[string][]byte{}
	for i := 0; i < 3; i++ {
		payload := buildStoredEnvelope(t, senderID, clientID, "queued-while-offline")
		id := transientIDFor(payload)
		messages[hex.EncodeToString(id)] = payload
	}
	runRelayStub(ctx, relayPeer, messages)

	if err := ps.Run(ctx, 256); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := ps.State()
	if final.State != StateComplete {
		t.Fatalf("expected state complete, got %s", final.State)
	}
	if final.MessagesReceived != 3 {
		t.Fatalf("expected messages_received=3, got %d", final.MessagesReceived)
	}

	deadline := time.After(2 * time.Second)
	for {
		all, err := fs.List(10, time.Time{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for propagated messages to persist, got %d", len(all))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPropagationRunWithoutRelayFails(t *testing.T) {
	hub := memnet.NewHub()
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	clientPeer := hub.NewPeer(clientID.Address, clientID.Public)

	fs, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open filestore: %v", err)
	}
	ps := New(clientPeer, fs, nil, nil, clientID.Address, nil)

	if err := ps.Run(context.Background(), 256); err == nil {
		t.Fatalf("expected an error when no relay is configured")
	}
	if ps.State().LastError != ErrNoPropagationNode {
		t.Fatalf("expected last_error=%s, got %s", ErrNoPropagationNode, ps.State().LastError)
	}
}

func TestPropagationRunFailsOnUnreachableRelay(t *testing.T) {
	hub := memnet.NewHub()
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	unreachable, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	clientPeer := hub.NewPeer(clientID.Address, clientID.Public)

	fs, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open filestore: %v", err)
	}
	ps := New(clientPeer, fs, nil, nil, clientID.Address, nil)
	ps.SetRelay(unreachable.Address)

	if err := ps.Run(context.Background(), 256); err == nil {
		t.Fatalf("expected an error for an unreachable relay")
	}
	if ps.State().State != StateNoPath {
		t.Fatalf("expected state no_path, got %s", ps.State().State)
	}
	if ps.State().LastError != ErrNoPath {
		t.Fatalf("expected last_error=%s, got %s", ErrNoPath, ps.State().LastError)
	}
}
