// Package inbound decodes raw transport data events into envelopes,
// de-duplicates and persists them, and tracks peer announces.
package inbound

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/store"
	"github.com/FreeTAKTeam/lxmf-go/transport"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

const dedupeCacheSize = 4096

// ResponseHandler is given a chance to claim a data event that failed to
// decode as an envelope before the router logs it as a decode failure. The
// propagation sync uses this to pull its own request/response frames off
// the same data stream without polluting the inbound error log.
type ResponseHandler func(ev transport.DataEvent) (claimed bool)

// Router subscribes to a transport's data and announce events, turning them
// into persisted inbound messages and a live peer cache.
type Router struct {
	Transport transport.Adapter
	Store     store.MessageStore
	EventLog  *eventlog.Log
	Now       func() time.Time

	// ResponseHandler, if set, is tried on any data event that does not
	// decode as a signed envelope.
	ResponseHandler ResponseHandler

	seen  *lru.Cache[string, struct{}]
	peers *PeerCache
}

// NewRouter constructs a Router; Now defaults to time.Now when nil.
func NewRouter(adapter transport.Adapter, messageStore store.MessageStore, log *eventlog.Log, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	dedupe, _ := lru.New[string, struct{}](dedupeCacheSize)
	return &Router{
		Transport: adapter,
		Store:     messageStore,
		EventLog:  log,
		Now:       now,
		seen:      dedupe,
		peers:     NewPeerCache(),
	}
}

// Peers exposes the live peer cache built from observed announces.
func (r *Router) Peers() *PeerCache { return r.peers }

// SetPeers replaces the router's peer cache, typically with one restored
// from disk via LoadPeerCacheFromFile before the router starts observing
// new announces.
func (r *Router) SetPeers(peers *PeerCache) { r.peers = peers }

// Run drains the transport's data and announce event streams until ctx is
// cancelled. Background errors are recovered and logged, never propagated.
func (r *Router) Run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.publish("error", fmt.Sprintf("inbound router panic: %v", rec))
		}
	}()

	data := r.Transport.RecvDataEvents()
	announces := r.Transport.RecvAnnounceEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-data:
			if !ok {
				data = nil
				continue
			}
			r.handleData(ev)
		case ev, ok := <-announces:
			if !ok {
				announces = nil
				continue
			}
			r.handleAnnounce(ev)
		}
	}
}

// Ingest runs ev through the same decode, dedupe, and persist path as the
// background Run loop, returning the decode error (if any) so a caller such
// as the propagation sync can fall back to raw storage on failure.
func (r *Router) Ingest(ev transport.DataEvent) error {
	return r.handleData(ev)
}

func (r *Router) handleData(ev transport.DataEvent) (decodeErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.publish("error", fmt.Sprintf("inbound data handling panic: %v", rec))
		}
	}()

	env, err := decodeCandidates(ev.Destination, ev.Data)
	if err != nil {
		if r.ResponseHandler != nil && r.ResponseHandler(ev) {
			return nil
		}
		r.publish("error", "inbound decode failed: "+err.Error())
		return err
	}

	idBytes, err := env.MessageID()
	if err != nil {
		r.publish("error", "inbound message id computation failed: "+err.Error())
		return err
	}
	messageID := fmt.Sprintf("%x", idBytes)

	if _, ok := r.seen.Get(messageID); ok {
		return nil
	}
	r.seen.Add(messageID, struct{}{})

	rec := store.Record{
		ID:            messageID,
		Source:        identity.AddressHash(env.Source).String(),
		Destination:   identity.AddressHash(env.Destination).String(),
		Title:         env.Title,
		Content:       env.Content,
		Timestamp:     time.Unix(int64(env.Timestamp), 0),
		Direction:     store.DirectionIn,
		ReceiptStatus: "received",
	}
	if err := r.Store.Insert(rec); err != nil {
		r.publish("error", "inbound persist failed: "+err.Error())
		return err
	}
	r.publish("inbound", messageID)
	return nil
}

// decodeCandidates tries the raw payload, the payload with the destination
// prefix reattached, and the payload with the destination prefix stripped,
// in that order, accepting the first structurally-valid envelope.
func decodeCandidates(destination identity.AddressHash, data []byte) (*wire.Envelope, error) {
	candidates := [][]byte{data}
	prefixed := make([]byte, 0, len(destination)+len(data))
	prefixed = append(prefixed, destination[:]...)
	prefixed = append(prefixed, data...)
	candidates = append(candidates, prefixed)
	if len(data) >= 16 {
		candidates = append(candidates, data[16:])
	}

	var lastErr error
	for _, candidate := range candidates {
		env, err := wire.Decode(candidate)
		if err == nil {
			return env, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no decode candidate produced a valid envelope: %w", lastErr)
}

func (r *Router) handleAnnounce(ev transport.AnnounceEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.publish("error", fmt.Sprintf("inbound announce handling panic: %v", rec))
		}
	}()

	name, source := extractDisplayName(ev.AppData)
	r.peers.Observe(ev.Address, name, source, r.Now())

	if err := r.Store.InsertAnnounce(store.Announce{
		AddressHash: ev.Address.String(),
		Identity:    ev.Public,
		AppData:     ev.AppData,
		ObservedAt:  r.Now(),
	}); err != nil {
		r.publish("error", "announce persist failed: "+err.Error())
		return
	}
	r.publish("announce_received", ev.Address.String())
}

// extractDisplayName attempts a display name from announce app-data using
// the known shapes: a MessagePack array with a leading binary name, a
// metadata map under key "name", or raw UTF-8.
func extractDisplayName(appData []byte) (name string, source string) {
	if len(appData) == 0 {
		return "", ""
	}

	var arr []interface{}
	if err := msgpack.Unmarshal(appData, &arr); err == nil && len(arr) > 0 {
		if b, ok := arr[0].([]byte); ok {
			return string(b), "array"
		}
		if s, ok := arr[0].(string); ok {
			return s, "array"
		}
	}

	var m map[string]interface{}
	if err := msgpack.Unmarshal(appData, &m); err == nil {
		if v, ok := m["name"]; ok {
			if s, ok := v.(string); ok {
				return s, "meta_map"
			}
			if b, ok := v.([]byte); ok {
				return string(b), "meta_map"
			}
		}
	}

	if isPrintableUTF8(appData) {
		return string(appData), "raw_utf8"
	}
	return "", ""
}

func isPrintableUTF8(b []byte) bool {
	for _, r := range string(b) {
		if r == 0xFFFD {
			return false
		}
	}
	return true
}

func (r *Router) publish(eventType string, detail string) {
	if r.EventLog == nil {
		return
	}
	r.EventLog.Publish(eventType, wire.Str(detail))
}

func transientID(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}
