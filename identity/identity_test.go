package identity

import (
	"path/filepath"
	"testing"
)

func TestGenerateAndSign(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("hello mesh")
	sig := id.Sign(msg)
	if !Verify(id.Public, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(id.Public, []byte("tampered"), sig) {
		t.Fatalf("expected signature over different message to fail")
	}
}

func TestAddressHashStable(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	reloaded, err := FromPrivateKey(id.Private)
	if err != nil {
		t.Fatalf("FromPrivateKey: %v", err)
	}
	if id.Address != reloaded.Address {
		t.Fatalf("address hash changed across reconstruction: %s vs %s", id.Address, reloaded.Address)
	}
}

func TestParseAddressHashRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parsed, err := ParseAddressHash(id.Address.String())
	if err != nil {
		t.Fatalf("ParseAddressHash: %v", err)
	}
	if parsed != id.Address {
		t.Fatalf("round-tripped address mismatch: %s vs %s", parsed, id.Address)
	}
}

func TestParseAddressHashRejectsWrongLength(t *testing.T) {
	if _, err := ParseAddressHash("abcd"); err == nil {
		t.Fatalf("expected error for short address hash")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "identity.key")
	if err := Save(path, id); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Address != id.Address {
		t.Fatalf("loaded address mismatch: %s vs %s", loaded.Address, id.Address)
	}
}
