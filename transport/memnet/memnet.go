// Package memnet is an in-process reference transport.Adapter: peers
// communicate over Go channels keyed by address hash, sufficient to
// exercise the send pipeline, propagation sync, and inbound router in
// tests and in a single-process demo.
package memnet

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/transport"
	"github.com/google/uuid"
)

// Hub is the shared in-process registry every Peer in a test or demo joins.
type Hub struct {
	mu    sync.Mutex
	peers map[identity.AddressHash]*Peer
}

// NewHub creates an empty peer registry.
func NewHub() *Hub {
	return &Hub{peers: make(map[identity.AddressHash]*Peer)}
}

// NewPeer registers and returns a Peer bound to this hub at address.
func (h *Hub) NewPeer(address identity.AddressHash, pub []byte) *Peer {
	p := &Peer{
		hub:        h,
		address:    address,
		public:     pub,
		dataCh:     make(chan transport.DataEvent, 64),
		announceCh: make(chan transport.AnnounceEvent, 64),
		receiptCh:  make(chan transport.DeliveryReceipt, 64),
		links:      make(map[string]*transport.Link),
	}
	h.mu.Lock()
	h.peers[address] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) lookup(address identity.AddressHash) (*Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[address]
	return p, ok
}

func (h *Hub) all() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

// Peer is one address hash's view of the hub, implementing transport.Adapter.
type Peer struct {
	hub     *Hub
	address identity.AddressHash
	public  []byte

	mu    sync.Mutex
	links map[string]*transport.Link

	dataCh     chan transport.DataEvent
	announceCh chan transport.AnnounceEvent
	receiptCh  chan transport.DeliveryReceipt
}

var _ transport.Adapter = (*Peer)(nil)

// ResolveIdentity reports the public key material the hub has on file for
// address, if any peer has joined under that hash.
func (p *Peer) ResolveIdentity(ctx context.Context, address identity.AddressHash) (*identity.Identity, bool) {
	peer, ok := p.hub.lookup(address)
	if !ok {
		return nil, false
	}
	return &identity.Identity{Public: peer.public, Address: address}, true
}

// RequestPath succeeds iff the destination peer has joined the hub.
func (p *Peer) RequestPath(ctx context.Context, address identity.AddressHash) error {
	if _, ok := p.hub.lookup(address); !ok {
		return fmt.Errorf("memnet: no path to %s", address)
	}
	return nil
}

// OpenLink allocates a link handle addressed to destination; reachability is
// re-checked on AwaitActivation since membership can change between calls.
func (p *Peer) OpenLink(ctx context.Context, destination identity.AddressHash) (*transport.Link, error) {
	link := &transport.Link{ID: uuid.NewString(), Destination: destination}
	p.mu.Lock()
	p.links[link.ID] = link
	p.mu.Unlock()
	return link, nil
}

// AwaitActivation marks link activated immediately if the destination peer
// is present; an in-process peer has no real network delay to wait out.
func (p *Peer) AwaitActivation(ctx context.Context, link *transport.Link, timeout time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, ok := p.hub.lookup(link.Destination); !ok {
		<-deadline.Done()
		return fmt.Errorf("memnet: link to %s never activated", link.Destination)
	}
	link.Activated = true
	return nil
}

// SendLinkData delivers data to the link's destination peer as a DataEvent,
// returning a content-addressed packet hash for receipt bookkeeping.
func (p *Peer) SendLinkData(ctx context.Context, link *transport.Link, data []byte) (string, error) {
	dest, ok := p.hub.lookup(link.Destination)
	if !ok {
		return "", fmt.Errorf("memnet: destination %s no longer reachable", link.Destination)
	}
	hash := packetHash(data)
	select {
	case dest.dataCh <- transport.DataEvent{Destination: link.Destination, Data: data}:
	default:
		return "", fmt.Errorf("memnet: destination %s data channel full", link.Destination)
	}
	return hash, nil
}

// SendPacket is the one-shot opportunistic path: deliver directly if the
// destination has joined the hub, else report no route.
func (p *Peer) SendPacket(ctx context.Context, destination identity.AddressHash, data []byte) (transport.SendPacketOutcome, error) {
	dest, ok := p.hub.lookup(destination)
	if !ok {
		return transport.DroppedNoRoute, nil
	}
	select {
	case dest.dataCh <- transport.DataEvent{Destination: destination, Data: data}:
	default:
		return transport.DroppedNoRoute, nil
	}
	return transport.SentDirect, nil
}

// RecvDataEvents exposes this peer's inbound data channel.
func (p *Peer) RecvDataEvents() <-chan transport.DataEvent { return p.dataCh }

// RecvAnnounceEvents exposes this peer's inbound announce channel.
func (p *Peer) RecvAnnounceEvents() <-chan transport.AnnounceEvent { return p.announceCh }

// RecvDeliveryReceipts exposes this peer's inbound delivery receipt channel.
func (p *Peer) RecvDeliveryReceipts() <-chan transport.DeliveryReceipt { return p.receiptCh }

// DeliverAnnounce broadcasts this peer's presence to every other peer in the
// hub; destination is accepted for interface symmetry with directed
// transports but is not otherwise used by a broadcast-style reference
// implementation.
func (p *Peer) DeliverAnnounce(ctx context.Context, destination identity.AddressHash, appData []byte) error {
	for _, other := range p.hub.all() {
		if other.address == p.address {
			continue
		}
		select {
		case other.announceCh <- transport.AnnounceEvent{Address: p.address, Public: p.public, AppData: appData}:
		default:
		}
	}
	return nil
}

func packetHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}
