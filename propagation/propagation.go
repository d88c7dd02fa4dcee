// Package propagation pulls queued messages from a configured relay peer
// over a multi-step link protocol, handing successfully decoded envelopes
// to the inbound router and falling back to raw storage otherwise.
package propagation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/inbound"
	"github.com/FreeTAKTeam/lxmf-go/store"
	"github.com/FreeTAKTeam/lxmf-go/transport"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

// State is one stage of a propagation sync run.
type State string

const (
	StateIdle             State = "idle"
	StatePathRequested    State = "path_requested"
	StateLinkEstablishing State = "link_establishing"
	StateLinkEstablished  State = "link_established"
	StateRequestSent      State = "request_sent"
	StateResponseReceived State = "response_received"
	StateReceiving        State = "receiving"
	StateComplete         State = "complete"
	StateNoPath           State = "no_path"
	StateLinkFailed       State = "link_failed"
)

const (
	DefaultMaxMessages = 256
	minMaxMessages     = 1
	maxMaxMessages     = 4096
)

// Fixed error tags recorded into SyncState.LastError on the failure paths
// named in the protocol's step list.
const (
	ErrNoPropagationNode = "NO_PROPAGATION_NODE"
	ErrNoPath            = "NO_PATH"
	ErrLinkFailed        = "LINK_FAILED"
)

// SyncState is the observable snapshot of a propagation run.
type SyncState struct {
	State            State
	Progress         float64
	SelectedNode     string
	MessagesReceived int
	MaxMessages      int
	LastStarted      *time.Time
	LastCompleted    *time.Time
	LastError        string
}

// Sync orchestrates fetching queued messages from the currently configured
// relay peer. One Sync tracks one relay selection and one in-flight run's
// state at a time, matching the single `propagation sync state` the spec
// models.
type Sync struct {
	Transport transport.Adapter
	Store     store.MessageStore
	Router    *inbound.Router
	EventLog  *eventlog.Log
	Self      identity.AddressHash
	Now       func() time.Time

	RequestTimeout time.Duration
	LinkTimeout    time.Duration

	mu       sync.Mutex
	relay    identity.AddressHash
	hasRelay bool
	state    SyncState

	pendingMu sync.Mutex
	pending   map[string]chan interface{}
}

// New constructs a Sync. When router is non-nil its ResponseHandler is
// wired so response frames addressed to in-flight requests are claimed
// before the router logs them as inbound decode failures.
func New(transportAdapter transport.Adapter, messageStore store.MessageStore, router *inbound.Router, eventLog *eventlog.Log, self identity.AddressHash, now func() time.Time) *Sync {
	if now == nil {
		now = time.Now
	}
	s := &Sync{
		Transport:      transportAdapter,
		Store:          messageStore,
		Router:         router,
		EventLog:       eventLog,
		Self:           self,
		Now:            now,
		RequestTimeout: 10 * time.Second,
		LinkTimeout:    5 * time.Second,
		state:          SyncState{State: StateIdle, MaxMessages: DefaultMaxMessages},
		pending:        make(map[string]chan interface{}),
	}
	if router != nil {
		router.ResponseHandler = s.claimResponse
	}
	return s
}

// SetRelay selects the relay peer used by both Run and Enqueue.
func (s *Sync) SetRelay(addr identity.AddressHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = addr
	s.hasRelay = true
	s.state.SelectedNode = addr.String()
}

// ClearRelay deselects the relay.
func (s *Sync) ClearRelay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasRelay = false
	s.relay = identity.AddressHash{}
	s.state.SelectedNode = ""
}

// HasRelay reports whether a relay is currently selected, satisfying
// sendpipeline.PropagationRelay.
func (s *Sync) HasRelay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRelay
}

// State returns a snapshot of the current sync state.
func (s *Sync) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enqueue pushes envelope to the configured relay over a link, satisfying
// sendpipeline.PropagationRelay for the send pipeline's propagation
// fallback (§4.E step c).
func (s *Sync) Enqueue(ctx context.Context, destination identity.AddressHash, envelope []byte) error {
	s.mu.Lock()
	relay := s.relay
	hasRelay := s.hasRelay
	s.mu.Unlock()
	if !hasRelay {
		return fmt.Errorf("propagation: %s", ErrNoPropagationNode)
	}

	if err := s.Transport.RequestPath(ctx, relay); err != nil {
		return err
	}
	link, err := s.Transport.OpenLink(ctx, relay)
	if err != nil {
		return err
	}
	timeout := s.LinkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := s.Transport.AwaitActivation(ctx, link, timeout); err != nil {
		return err
	}
	_, err = s.Transport.SendLinkData(ctx, link, envelope)
	return err
}

// Run executes one full fetch cycle against the configured relay: path
// discovery, link establishment, list request, body request, ingest, and
// acknowledge, per the protocol's ten steps.
func (s *Sync) Run(ctx context.Context, maxMessages int) error {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxMessages < minMaxMessages {
		maxMessages = minMaxMessages
	}
	if maxMessages > maxMaxMessages {
		maxMessages = maxMaxMessages
	}

	s.mu.Lock()
	if !s.hasRelay {
		s.state = SyncState{State: StateIdle, LastError: ErrNoPropagationNode, MaxMessages: maxMessages}
		s.mu.Unlock()
		return fmt.Errorf("propagation: %s", ErrNoPropagationNode)
	}
	relay := s.relay
	started := s.Now()
	s.state = SyncState{
		State:        StatePathRequested,
		Progress:     0.05,
		SelectedNode: relay.String(),
		MaxMessages:  maxMessages,
		LastStarted:  &started,
	}
	s.mu.Unlock()
	s.publish("propagation_sync", string(StatePathRequested))

	if err := s.Transport.RequestPath(ctx, relay); err != nil {
		return s.fail(StateNoPath, ErrNoPath)
	}
	if _, ok := s.Transport.ResolveIdentity(ctx, relay); !ok {
		return s.fail(StateNoPath, ErrNoPath)
	}

	s.setState(StateLinkEstablishing, 0.2)
	link, err := s.Transport.OpenLink(ctx, relay)
	if err != nil {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}
	timeout := s.LinkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := s.Transport.AwaitActivation(ctx, link, timeout); err != nil {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}
	s.setState(StateLinkEstablished, 0.3)

	// Identify: every request frame already carries our address, so no
	// separate identify round-trip is needed over this link transport.
	s.setState(StateRequestSent, 0.5)
	listResp, err := s.request(ctx, link, requestPathGet, []interface{}{nil, nil})
	if err != nil {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}
	s.setState(StateResponseReceived, 0.6)

	transientIDs, ok := asByteSlices(listResp)
	if !ok {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}
	if len(transientIDs) > maxMessages {
		transientIDs = transientIDs[:maxMessages]
	}

	s.setState(StateRequestSent, 0.75)
	bodiesResp, err := s.request(ctx, link, requestPathGet, []interface{}{toInterfaceByteSlices(transientIDs), []interface{}{}, nil})
	if err != nil {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}

	s.setState(StateReceiving, 0.85)
	payloads, ok := asByteSlices(bodiesResp)
	if !ok {
		return s.fail(StateLinkFailed, ErrLinkFailed)
	}

	haves := make([][]byte, 0, len(payloads))
	received := 0
	for _, payload := range payloads {
		if s.ingest(payload) {
			received++
		}
		haves = append(haves, transientIDFor(payload))
	}

	// Acknowledge: fire-and-forget, the relay clears what we now hold.
	if ackFrame, err := encodeRequest(s.Self, uuid.NewString(), requestPathGet, []interface{}{nil, toInterfaceByteSlices(haves)}); err == nil {
		_, _ = s.Transport.SendLinkData(ctx, link, ackFrame)
	}

	completed := s.Now()
	s.mu.Lock()
	s.state.State = StateComplete
	s.state.Progress = 1.0
	s.state.MessagesReceived = received
	s.state.LastCompleted = &completed
	s.state.LastError = ""
	s.mu.Unlock()
	s.publish("propagation_sync", string(StateComplete))
	return nil
}

func (s *Sync) ingest(payload []byte) bool {
	ev := transport.DataEvent{Destination: s.Self, Data: payload}
	if s.Router != nil {
		if err := s.Router.Ingest(ev); err == nil {
			return true
		}
	}
	return s.storeRawFallback(payload)
}

func (s *Sync) storeRawFallback(payload []byte) bool {
	id := fmt.Sprintf("%x", transientIDFor(payload))
	rec := store.Record{
		ID:            id,
		Destination:   s.Self.String(),
		Content:       payload,
		Timestamp:     s.Now(),
		Direction:     store.DirectionIn,
		ReceiptStatus: "received_raw",
	}
	return s.Store.Insert(rec) == nil
}

func transientIDFor(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

func (s *Sync) request(ctx context.Context, link *transport.Link, path string, args []interface{}) (interface{}, error) {
	requestID := uuid.NewString()
	ch := make(chan interface{}, 1)
	s.pendingMu.Lock()
	s.pending[requestID] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, requestID)
		s.pendingMu.Unlock()
	}()

	frame, err := encodeRequest(s.Self, requestID, path, args)
	if err != nil {
		return nil, err
	}
	if _, err := s.Transport.SendLinkData(ctx, link, frame); err != nil {
		return nil, err
	}

	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case payload := <-ch:
		return payload, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("propagation: request %s timed out waiting for a response", path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// claimResponse is wired as the router's ResponseHandler: any data event
// that is a response frame matching a request we're waiting on is
// delivered to that request and claimed, rather than logged as a decode
// failure.
func (s *Sync) claimResponse(ev transport.DataEvent) bool {
	requestID, payload, err := decodeResponse(ev.Data)
	if err != nil {
		return false
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
	default:
	}
	return true
}

func (s *Sync) fail(state State, reason string) error {
	s.mu.Lock()
	s.state.State = state
	s.state.Progress = 0
	s.state.LastError = reason
	s.mu.Unlock()
	s.publish("propagation_sync", reason)
	return fmt.Errorf("propagation: %s", reason)
}

func (s *Sync) setState(state State, progress float64) {
	s.mu.Lock()
	s.state.State = state
	s.state.Progress = progress
	s.mu.Unlock()
}

func (s *Sync) publish(eventType, detail string) {
	if s.EventLog == nil {
		return
	}
	s.EventLog.Publish(eventType, wire.Str(detail))
}
