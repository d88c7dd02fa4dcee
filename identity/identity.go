// Package identity derives a runtime's address hash from an Ed25519 keypair
// and persists the private key to disk with the mode and atomic-write rule
// the runtime requires of all identity material.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// AddressHashSize is the length in bytes of a runtime or peer address hash.
const AddressHashSize = 16

// AddressHash is the canonical 16-byte peer key derived from a public key.
type AddressHash [AddressHashSize]byte

func (h AddressHash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// ParseAddressHash decodes the hex string form an RPC caller sends back
// into an AddressHash, rejecting anything that isn't exactly 16 bytes.
func ParseAddressHash(s string) (AddressHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return AddressHash{}, fmt.Errorf("identity: invalid address hash %q: %w", s, err)
	}
	if len(raw) != AddressHashSize {
		return AddressHash{}, fmt.Errorf("identity: address hash must be %d bytes, got %d", AddressHashSize, len(raw))
	}
	var h AddressHash
	copy(h[:], raw)
	return h, nil
}

// Identity holds a signing keypair and the address hash derived from it.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
	Address AddressHash
}

// Generate creates a new random identity. Key-generation ceremonies (UX,
// mnemonic backup, etc.) are out of scope; this is the minimal primitive a
// store or CLI wraps.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return newIdentity(pub, priv), nil
}

// FromPrivateKey reconstructs an Identity from a raw Ed25519 private key,
// used by the send pipeline when a caller supplies source_private_key.
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid private key length %d", len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: unexpected public key type")
	}
	return newIdentity(pub, priv), nil
}

func newIdentity(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	return &Identity{Public: pub, Private: priv, Address: addressHash(pub)}
}

// addressHash derives the 16-byte address hash from the public key halves.
// The specification defines the address as a digest of the concatenated
// signing and encryption public halves; this runtime uses a single Ed25519
// keypair for both roles, so the encryption half is the same public key.
func addressHash(pub ed25519.PublicKey) AddressHash {
	sum := sha256.Sum256(append(append([]byte{}, pub...), pub...))
	var h AddressHash
	copy(h[:], sum[:AddressHashSize])
	return h
}

// Sign signs msg with the identity's private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.Private, msg)
}

// Verify checks sig over msg against pub, returning false (not an error) on
// any malformed signature — callers treat verification failure uniformly.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Load reads a private key from path and reconstructs the Identity.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	return FromPrivateKey(ed25519.PrivateKey(raw))
}

// Save persists the identity's private key atomically, mode 0600.
func Save(path string, id *Identity) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(id.Private); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("identity: rename into place: %w", err)
	}
	return nil
}
