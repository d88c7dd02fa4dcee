// Package filestore is a reference MessageStore: one JSON file per message
// under a configured directory, atomic tmp+rename writes, and an in-memory
// index rebuilt at open — mirroring the identity file persistence rule.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/FreeTAKTeam/lxmf-go/store"
)

type messageDoc struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Destination   string    `json:"destination"`
	Title         []byte    `json:"title"`
	Content       []byte    `json:"content"`
	Fields        []byte    `json:"fields"`
	Timestamp     time.Time `json:"timestamp"`
	Direction     string    `json:"direction"`
	ReceiptStatus string    `json:"receipt_status"`
}

type announceDoc struct {
	AddressHash string    `json:"address_hash"`
	Identity    []byte    `json:"identity"`
	AppData     []byte    `json:"app_data"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Store is a filesystem-backed MessageStore.
type Store struct {
	mu  sync.RWMutex
	dir string

	messages  map[string]messageDoc
	announces map[string]announceDoc
}

// Open loads (or creates) the store rooted at dir, rebuilding its in-memory
// index from whatever message/announce files are already present.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "messages"), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir messages: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "announces"), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir announces: %w", err)
	}

	s := &Store{
		dir:       dir,
		messages:  make(map[string]messageDoc),
		announces: make(map[string]announceDoc),
	}
	if err := s.loadMessages(); err != nil {
		return nil, err
	}
	if err := s.loadAnnounces(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadMessages() error {
	entries, err := os.ReadDir(filepath.Join(s.dir, "messages"))
	if err != nil {
		return fmt.Errorf("filestore: read messages dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, "messages", entry.Name()))
		if err != nil {
			return fmt.Errorf("filestore: read %s: %w", entry.Name(), err)
		}
		var doc messageDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("filestore: decode %s: %w", entry.Name(), err)
		}
		s.messages[doc.ID] = doc
	}
	return nil
}

func (s *Store) loadAnnounces() error {
	entries, err := os.ReadDir(filepath.Join(s.dir, "announces"))
	if err != nil {
		return fmt.Errorf("filestore: read announces dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, "announces", entry.Name()))
		if err != nil {
			return fmt.Errorf("filestore: read %s: %w", entry.Name(), err)
		}
		var doc announceDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("filestore: decode %s: %w", entry.Name(), err)
		}
		s.announces[doc.AddressHash] = doc
	}
	return nil
}

func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("filestore: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".filestore-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filestore: rename into place: %w", err)
	}
	return nil
}

func (s *Store) messagePath(id string) string {
	return filepath.Join(s.dir, "messages", id+".json")
}

func (s *Store) announcePath(addressHash string) string {
	return filepath.Join(s.dir, "announces", addressHash+".json")
}

// Insert persists a new message record.
func (s *Store) Insert(rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := fromRecord(rec)
	if err := writeAtomic(s.messagePath(rec.ID), doc); err != nil {
		return err
	}
	s.messages[rec.ID] = doc
	return nil
}

// Get returns the record for id, if present.
func (s *Store) Get(id string) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.messages[id]
	if !ok {
		return store.Record{}, false, nil
	}
	return doc.toRecord(), true, nil
}

// UpdateReceiptStatus rewrites a message's receipt_status field.
func (s *Store) UpdateReceiptStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("filestore: message %s not found", id)
	}
	doc.ReceiptStatus = status
	if err := writeAtomic(s.messagePath(id), doc); err != nil {
		return err
	}
	s.messages[id] = doc
	return nil
}

// List returns up to limit records older than beforeTs (zero value means no
// bound), newest first.
func (s *Store) List(limit int, beforeTs time.Time) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []messageDoc
	for _, doc := range s.messages {
		if !beforeTs.IsZero() && !doc.Timestamp.Before(beforeTs) {
			continue
		}
		all = append(all, doc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.Record, len(all))
	for i, doc := range all {
		out[i] = doc.toRecord()
	}
	return out, nil
}

// CountMessageBuckets reports queued vs in-flight message counts.
func (s *Store) CountMessageBuckets() (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queued, inFlight := 0, 0
	for _, doc := range s.messages {
		switch doc.ReceiptStatus {
		case "queued":
			queued++
		case "dispatching", "inflight", "sending":
			inFlight++
		}
	}
	return queued, inFlight, nil
}

// ClearMessages deletes every persisted message record.
func (s *Store) ClearMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.messages {
		if err := os.Remove(s.messagePath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("filestore: remove %s: %w", id, err)
		}
	}
	s.messages = make(map[string]messageDoc)
	return nil
}

// ClearAnnounces deletes every cached announce.
func (s *Store) ClearAnnounces() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr := range s.announces {
		if err := os.Remove(s.announcePath(addr)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("filestore: remove announce %s: %w", addr, err)
		}
	}
	s.announces = make(map[string]announceDoc)
	return nil
}

// InsertAnnounce persists an observed peer announce, keyed by address hash.
func (s *Store) InsertAnnounce(a store.Announce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := announceDoc{AddressHash: a.AddressHash, Identity: a.Identity, AppData: a.AppData, ObservedAt: a.ObservedAt}
	if err := writeAtomic(s.announcePath(a.AddressHash), doc); err != nil {
		return err
	}
	s.announces[a.AddressHash] = doc
	return nil
}

// ListAnnounces returns up to limit cached announces, most recent first.
func (s *Store) ListAnnounces(limit int) ([]store.Announce, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []announceDoc
	for _, doc := range s.announces {
		all = append(all, doc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ObservedAt.After(all[j].ObservedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.Announce, len(all))
	for i, doc := range all {
		out[i] = store.Announce{AddressHash: doc.AddressHash, Identity: doc.Identity, AppData: doc.AppData, ObservedAt: doc.ObservedAt}
	}
	return out, nil
}

func fromRecord(rec store.Record) messageDoc {
	return messageDoc{
		ID:            rec.ID,
		Source:        rec.Source,
		Destination:   rec.Destination,
		Title:         rec.Title,
		Content:       rec.Content,
		Fields:        rec.Fields,
		Timestamp:     rec.Timestamp,
		Direction:     string(rec.Direction),
		ReceiptStatus: rec.ReceiptStatus,
	}
}

func (d messageDoc) toRecord() store.Record {
	return store.Record{
		ID:            d.ID,
		Source:        d.Source,
		Destination:   d.Destination,
		Title:         d.Title,
		Content:       d.Content,
		Fields:        d.Fields,
		Timestamp:     d.Timestamp,
		Direction:     store.Direction(d.Direction),
		ReceiptStatus: d.ReceiptStatus,
	}
}
