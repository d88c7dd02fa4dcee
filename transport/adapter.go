// Package transport defines the narrow interface the send pipeline,
// propagation sync, and inbound router consume to reach the mesh, plus a
// reference in-process implementation under transport/memnet.
package transport

import (
	"context"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/identity"
)

// SendPacketOutcome is the result of a one-shot opportunistic send.
type SendPacketOutcome string

const (
	SentDirect                          SendPacketOutcome = "sent_direct"
	SentBroadcast                       SendPacketOutcome = "sent_broadcast"
	DroppedNoRoute                      SendPacketOutcome = "dropped_no_route"
	DroppedMissingDestinationIdentity   SendPacketOutcome = "dropped_missing_destination_identity"
	DroppedCiphertextTooLarge           SendPacketOutcome = "dropped_ciphertext_too_large"
	DroppedEncryptFailed                SendPacketOutcome = "dropped_encrypt_failed"
)

// Link is an activated, addressable channel to a single destination.
type Link struct {
	ID          string
	Destination identity.AddressHash
	Activated   bool
}

// DataEvent is an inbound raw payload observed on a link or broadcast.
type DataEvent struct {
	Destination identity.AddressHash
	Data        []byte
}

// AnnounceEvent is an observed peer announce on the mesh.
type AnnounceEvent struct {
	Address identity.AddressHash
	Public  []byte
	AppData []byte
}

// DeliveryReceipt reports that a previously sent packet was acknowledged.
type DeliveryReceipt struct {
	PacketHash string
}

// Adapter is the set of operations the runtime expects from a transport.
type Adapter interface {
	ResolveIdentity(ctx context.Context, address identity.AddressHash) (*identity.Identity, bool)
	RequestPath(ctx context.Context, address identity.AddressHash) error
	OpenLink(ctx context.Context, destination identity.AddressHash) (*Link, error)
	AwaitActivation(ctx context.Context, link *Link, timeout time.Duration) error
	SendLinkData(ctx context.Context, link *Link, data []byte) (packetHash string, err error)
	SendPacket(ctx context.Context, destination identity.AddressHash, data []byte) (SendPacketOutcome, error)
	RecvDataEvents() <-chan DataEvent
	RecvAnnounceEvents() <-chan AnnounceEvent
	RecvDeliveryReceipts() <-chan DeliveryReceipt
	DeliverAnnounce(ctx context.Context, destination identity.AddressHash, appData []byte) error
}
