// Package store defines the message persistence interface the send
// pipeline, propagation sync, and inbound router consume, plus a reference
// one-file-per-message implementation under store/filestore.
package store

import "time"

// Direction tags whether a message record is outbound or inbound.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Record is one message as persisted by the store.
type Record struct {
	ID            string
	Source        string
	Destination   string
	Title         []byte
	Content       []byte
	Fields        []byte // msgpack-encoded wire.Value, opaque to the store
	Timestamp     time.Time
	Direction     Direction
	ReceiptStatus string
}

// Announce is a cached peer announce.
type Announce struct {
	AddressHash string
	Identity    []byte
	AppData     []byte
	ObservedAt  time.Time
}

// MessageStore is the persistence surface consumed by the runtime.
type MessageStore interface {
	Insert(rec Record) error
	Get(id string) (Record, bool, error)
	UpdateReceiptStatus(id, status string) error
	List(limit int, beforeTs time.Time) ([]Record, error)
	CountMessageBuckets() (queued int, inFlight int, err error)
	ClearMessages() error
	ClearAnnounces() error
	InsertAnnounce(a Announce) error
	ListAnnounces(limit int) ([]Announce, error)
}
