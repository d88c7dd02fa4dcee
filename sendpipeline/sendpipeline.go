// Package sendpipeline mediates every outbound send through idempotency,
// envelope construction, and a link/opportunistic/propagation delivery
// fallback chain.
package sendpipeline

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/FreeTAKTeam/lxmf-go/delivery"
	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/FreeTAKTeam/lxmf-go/store"
	"github.com/FreeTAKTeam/lxmf-go/transport"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

// Method selects how a send attempts delivery.
type Method string

const (
	MethodAuto          Method = "auto"
	MethodDirect        Method = "direct"
	MethodOpportunistic Method = "opportunistic"
	MethodPropagated    Method = "propagated"
)

// Request is the input to Send.
type Request struct {
	Source                  identity.AddressHash
	Destination              identity.AddressHash
	Timestamp               float64
	Title                   []byte
	Content                 []byte
	Fields                  wire.Value
	IdempotencyKey          string
	TTLMs                   int64
	CorrelationID           string
	Method                  Method
	StampCost               []byte
	IncludeTicket           bool
	TryPropagationOnFail    bool
	SourcePrivateKey        []byte // optional, overrides the runtime identity as signer
}

// Result is the output of a successful Send.
type Result struct {
	MessageID string
	Method    Method
}

// PropagationRelay abstracts away the §4.F hand-off so sendpipeline need not
// import the propagation package's full state machine for the common case
// of enqueueing a message for later sync.
type PropagationRelay interface {
	HasRelay() bool
	Enqueue(ctx context.Context, destination identity.AddressHash, envelope []byte) error
}

// Pipeline runs sends against a transport, message store, and delivery
// tracker, resolving the runtime's own signing identity from its address.
type Pipeline struct {
	Transport  transport.Adapter
	Store      store.MessageStore
	Tracker    *delivery.Tracker
	EventLog   *eventlog.Log
	Relay      PropagationRelay
	Identity   *identity.Identity
	Now        func() time.Time
	LinkTimeout time.Duration

	AnnounceMinInterval time.Duration
	lastAnnounce        time.Time

	idempotency *lru.LRU[string, string]
}

// New constructs a Pipeline. idempotencyTTL and idempotencyCap size the LRU
// that backs duplicate-send suppression.
func New(transportAdapter transport.Adapter, messageStore store.MessageStore, tracker *delivery.Tracker, eventLog *eventlog.Log, relay PropagationRelay, id *identity.Identity, idempotencyTTL time.Duration, idempotencyCap int) *Pipeline {
	return &Pipeline{
		Transport:           transportAdapter,
		Store:               messageStore,
		Tracker:             tracker,
		EventLog:            eventLog,
		Relay:               relay,
		Identity:            id,
		Now:                 time.Now,
		LinkTimeout:         5 * time.Second,
		AnnounceMinInterval: 30 * time.Second,
		idempotency:         lru.NewLRU[string, string](idempotencyCap, nil, idempotencyTTL),
	}
}

// Send runs the full pipeline for req, returning the assigned message_id.
func (p *Pipeline) Send(ctx context.Context, req Request) (Result, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	if req.IdempotencyKey != "" {
		if id, ok := p.idempotency.Get(req.IdempotencyKey); ok {
			return Result{MessageID: id, Method: req.Method}, nil
		}
	}

	signer, err := p.resolveSigner(req)
	if err != nil {
		return Result{}, err
	}

	env := &wire.Envelope{
		Timestamp: req.Timestamp,
		Title:     req.Title,
		Content:   req.Content,
		Fields:    req.Fields,
		Stamp:     req.StampCost,
	}
	env.Destination = req.Destination
	env.Source = req.Source
	if err := env.Sign(func(msg []byte) []byte { return signer.Sign(msg) }); err != nil {
		return Result{}, p.fail(req, "", string(req.Method), "envelope signing failed", err)
	}

	idBytes, err := env.MessageID()
	if err != nil {
		return Result{}, p.fail(req, "", string(req.Method), "message id computation failed", err)
	}
	messageID := fmt.Sprintf("%x", idBytes)

	rec := store.Record{
		ID:            messageID,
		Source:        req.Source.String(),
		Destination:   req.Destination.String(),
		Title:         req.Title,
		Content:       req.Content,
		Timestamp:     time.Unix(int64(req.Timestamp), 0),
		Direction:     store.DirectionOut,
		ReceiptStatus: "queued",
	}
	if err := p.Store.Insert(rec); err != nil {
		return Result{}, p.fail(req, messageID, string(req.Method), "persisting outbound record failed", err)
	}
	p.Tracker.Update(messageID, "queued")
	p.Tracker.Update(messageID, "sending")
	p.publish("outbound", messageID, "queued")

	raw, err := env.Encode()
	if err != nil {
		return Result{}, p.fail(req, messageID, string(req.Method), "envelope encode failed", err)
	}

	method := p.planMethod(req)
	if err := p.attemptDelivery(ctx, messageID, req, raw, method); err != nil {
		return Result{}, err
	}

	if req.IdempotencyKey != "" {
		p.idempotency.Add(req.IdempotencyKey, messageID)
	}

	p.maybeAnnounce(ctx, now())

	return Result{MessageID: messageID, Method: method}, nil
}

func (p *Pipeline) resolveSigner(req Request) (*identity.Identity, error) {
	if len(req.SourcePrivateKey) > 0 {
		id, err := identity.FromPrivateKey(req.SourcePrivateKey)
		if err != nil {
			return nil, sdkerr.New(sdkerr.ValidationInvalidArgument, "invalid source_private_key", nil)
		}
		if id.Address != req.Source {
			return nil, sdkerr.New(sdkerr.ValidationInvalidArgument, "source_private_key does not match source address", nil)
		}
		return id, nil
	}
	if p.Identity == nil || p.Identity.Address != req.Source {
		return nil, sdkerr.New(sdkerr.ValidationInvalidArgument, "source must equal the runtime's address hash when no private key is supplied", nil)
	}
	return p.Identity, nil
}

// planMethod returns the requested method, or Auto when none was given. It
// does not check whether the transport supports opportunistic sends and
// never downgrades Opportunistic to Direct.
func (p *Pipeline) planMethod(req Request) Method {
	if req.Method == "" {
		return MethodAuto
	}
	return req.Method
}

func (p *Pipeline) attemptDelivery(ctx context.Context, messageID string, req Request, raw []byte, method Method) error {
	tryLink := method == MethodAuto || method == MethodDirect
	tryOpportunistic := method == MethodAuto || method == MethodOpportunistic
	tryPropagated := method == MethodPropagated || (req.TryPropagationOnFail && method != MethodPropagated)

	if tryLink {
		if err := p.attemptLink(ctx, messageID, req.Destination, raw); err == nil {
			return nil
		}
	}
	if tryOpportunistic {
		if err := p.attemptOpportunistic(ctx, messageID, req.Destination, raw); err == nil {
			return nil
		}
	}
	if tryPropagated && p.Relay != nil && p.Relay.HasRelay() {
		if err := p.Relay.Enqueue(ctx, req.Destination, raw); err == nil {
			p.Tracker.Update(messageID, "sent: propagated")
			p.Store.UpdateReceiptStatus(messageID, "sent: propagated")
			p.publish("outbound", messageID, "sent: propagated")
			return nil
		}
	}

	reason := "no delivery method succeeded"
	p.Tracker.Update(messageID, "failed: "+reason)
	p.Store.UpdateReceiptStatus(messageID, "failed: "+reason)
	p.publish("outbound", messageID, "failed: "+reason)
	return delivery.DeliveryError(reason)
}

func (p *Pipeline) attemptLink(ctx context.Context, messageID string, destination identity.AddressHash, raw []byte) error {
	if err := p.Transport.RequestPath(ctx, destination); err != nil {
		return err
	}
	link, err := p.Transport.OpenLink(ctx, destination)
	if err != nil {
		return err
	}
	timeout := p.LinkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := p.Transport.AwaitActivation(ctx, link, timeout); err != nil {
		return err
	}
	if _, err := p.Transport.SendLinkData(ctx, link, raw); err != nil {
		return err
	}
	p.Tracker.Update(messageID, "sent: link")
	p.Store.UpdateReceiptStatus(messageID, "sent: link")
	p.publish("outbound", messageID, "sent: link")
	return nil
}

// opportunisticOutcomeReceipts maps a transport.SendPacketOutcome to the
// fixed receipt-string table.
var opportunisticOutcomeReceipts = map[transport.SendPacketOutcome]string{
	transport.SentDirect:                        "sent: opportunistic",
	transport.SentBroadcast:                      "sent: opportunistic",
	transport.DroppedNoRoute:                     "failed: opportunistic no route",
	transport.DroppedMissingDestinationIdentity:  "failed: opportunistic missing destination identity",
	transport.DroppedCiphertextTooLarge:          "failed: opportunistic payload too large",
	transport.DroppedEncryptFailed:               "failed: opportunistic encrypt failed",
}

func (p *Pipeline) attemptOpportunistic(ctx context.Context, messageID string, destination identity.AddressHash, raw []byte) error {
	outcome, err := p.Transport.SendPacket(ctx, destination, raw)
	if err != nil {
		return err
	}
	receipt, ok := opportunisticOutcomeReceipts[outcome]
	if !ok {
		receipt = "failed: opportunistic unknown outcome"
	}
	p.Tracker.Update(messageID, receipt)
	p.Store.UpdateReceiptStatus(messageID, receipt)
	p.publish("outbound", messageID, receipt)
	if receipt[:4] == "sent" {
		return nil
	}
	return fmt.Errorf("memnet: opportunistic send failed: %s", receipt)
}

func (p *Pipeline) maybeAnnounce(ctx context.Context, now time.Time) {
	interval := p.AnnounceMinInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if !p.lastAnnounce.IsZero() && now.Sub(p.lastAnnounce) < interval {
		return
	}
	if p.Identity == nil {
		return
	}
	_ = p.Transport.DeliverAnnounce(ctx, p.Identity.Address, nil)
	p.lastAnnounce = now
}

func (p *Pipeline) fail(req Request, messageID, method, reason string, cause error) error {
	if messageID != "" {
		p.Tracker.Update(messageID, "failed: "+reason)
		p.Store.UpdateReceiptStatus(messageID, "failed: "+reason)
	}
	p.publish("outbound", messageID, "failed: "+reason)
	return delivery.DeliveryError(reason)
}

func (p *Pipeline) publish(eventType, messageID, status string) {
	if p.EventLog == nil {
		return
	}
	p.EventLog.Publish(eventType, wire.Map(map[wire.MapKey]wire.Value{
		wire.StrKey("message_id"): wire.Str(messageID),
		wire.StrKey("status"):     wire.Str(status),
	}))
}
