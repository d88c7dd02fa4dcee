package inbound

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FreeTAKTeam/lxmf-go/identity"
)

// PeerEntry is one observed peer's announce history.
type PeerEntry struct {
	Hash       identity.AddressHash
	FirstSeen  time.Time
	LastSeen   time.Time
	SeenCount  int
	Name       string
	NameSource string
}

// PeerCache tracks peers observed via announce events, keyed by address hash.
type PeerCache struct {
	mu    sync.Mutex
	peers map[identity.AddressHash]*PeerEntry
}

// NewPeerCache creates an empty cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[identity.AddressHash]*PeerEntry)}
}

// Observe records an announce from hash at observedAt, updating or creating
// its entry. A non-empty name/source overwrites the previously recorded one.
func (c *PeerCache) Observe(hash identity.AddressHash, name, nameSource string, observedAt time.Time) PeerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.peers[hash]
	if !ok {
		entry = &PeerEntry{Hash: hash, FirstSeen: observedAt}
		c.peers[hash] = entry
	}
	entry.LastSeen = observedAt
	entry.SeenCount++
	if name != "" {
		entry.Name = name
		entry.NameSource = nameSource
	}
	return *entry
}

// Get returns the cached entry for hash, if observed.
func (c *PeerCache) Get(hash identity.AddressHash) (PeerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.peers[hash]
	if !ok {
		return PeerEntry{}, false
	}
	return *entry, true
}

// List returns every cached peer entry.
func (c *PeerCache) List() []PeerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerEntry, 0, len(c.peers))
	for _, entry := range c.peers {
		out = append(out, *entry)
	}
	return out
}

// peerEntryDoc is PeerEntry's on-disk form: the address hash is stored as
// hex so the YAML file stays human-inspectable.
type peerEntryDoc struct {
	Hash       string    `yaml:"hash"`
	FirstSeen  time.Time `yaml:"first_seen"`
	LastSeen   time.Time `yaml:"last_seen"`
	SeenCount  int       `yaml:"seen_count"`
	Name       string    `yaml:"name"`
	NameSource string    `yaml:"name_source"`
}

// SaveToFile writes the cache's current contents to path as YAML, so a
// restarted daemon doesn't have to rediscover every peer from scratch.
func (c *PeerCache) SaveToFile(path string) error {
	c.mu.Lock()
	docs := make([]peerEntryDoc, 0, len(c.peers))
	for _, entry := range c.peers {
		docs = append(docs, peerEntryDoc{
			Hash:       entry.Hash.String(),
			FirstSeen:  entry.FirstSeen,
			LastSeen:   entry.LastSeen,
			SeenCount:  entry.SeenCount,
			Name:       entry.Name,
			NameSource: entry.NameSource,
		})
	}
	c.mu.Unlock()

	out, err := yaml.Marshal(docs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// LoadPeerCacheFromFile reads a cache previously written by SaveToFile. A
// missing file yields an empty cache rather than an error, since the first
// run of a node has nothing to load yet.
func LoadPeerCacheFromFile(path string) (*PeerCache, error) {
	c := NewPeerCache()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}

	var docs []peerEntryDoc
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		hash, err := identity.ParseAddressHash(d.Hash)
		if err != nil {
			return nil, err
		}
		c.peers[hash] = &PeerEntry{
			Hash:       hash,
			FirstSeen:  d.FirstSeen,
			LastSeen:   d.LastSeen,
			SeenCount:  d.SeenCount,
			Name:       d.Name,
			NameSource: d.NameSource,
		}
	}
	return c, nil
}
