package inbound

import (
	"path/filepath"
	"testing"

	"github.com/FreeTAKTeam/lxmf-go/identity"
)

func TestPeerCacheSaveLoadRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	c := NewPeerCache()
	c.Observe(id.Address, "node-a", "announce", fixedNow())
	c.Observe(id.Address, "", "", fixedNow())

	path := filepath.Join(t.TempDir(), "peers.yaml")
	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadPeerCacheFromFile(path)
	if err != nil {
		t.Fatalf("LoadPeerCacheFromFile: %v", err)
	}

	entry, ok := loaded.Get(id.Address)
	if !ok {
		t.Fatalf("expected loaded cache to contain %s", id.Address)
	}
	if entry.Name != "node-a" || entry.NameSource != "announce" {
		t.Fatalf("unexpected entry after reload: %+v", entry)
	}
	if entry.SeenCount != 2 {
		t.Fatalf("expected seen_count 2, got %d", entry.SeenCount)
	}
}

func TestLoadPeerCacheMissingFileYieldsEmptyCache(t *testing.T) {
	c, err := LoadPeerCacheFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if len(c.List()) != 0 {
		t.Fatalf("expected an empty cache, got %d entries", len(c.List()))
	}
}
