package main

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// Keystore holds wallet private keys. Keys start locked; every signing
// path must go through GetUnlockedKey, which fails closed when the key
// was never unlocked.
type Keystore interface {
	// ListAddresses returns all wallet addresses the store knows about,
	// locked or not, in lowercase 0x form.
	ListAddresses() []string
	// Unlock makes the key for address available for signing. A wrong
	// passphrase or unknown address returns KeyUnavailableError.
	Unlock(address, passphrase string) error
	// GetUnlockedKey returns the private key for address, or
	// KeyUnavailableError when the address is unknown or still locked.
	GetUnlockedKey(address string) (*ecdsa.PrivateKey, error)
}

type memoryKeyEntry struct {
	key            *ecdsa.PrivateKey
	passphraseHash [sha256.Size]byte
	unlocked       bool
}

// MemoryKeystore keeps keys in process memory. Intended for tests and
// single-node deployments; the key material never leaves the struct.
type MemoryKeystore struct {
	mu      sync.Mutex
	entries map[string]*memoryKeyEntry
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{entries: make(map[string]*memoryKeyEntry)}
}

// AddKey registers a hex-encoded secp256k1 private key under the address
// it derives to, protected by passphrase. The key starts locked.
func (s *MemoryKeystore) AddKey(privateKeyHex, passphrase string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", ValidationErrorf("invalid private key: %v", err)
	}

	address := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[address] = &memoryKeyEntry{
		key:            key,
		passphraseHash: sha256.Sum256([]byte(passphrase)),
	}
	return address, nil
}

func (s *MemoryKeystore) ListAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addresses := make([]string, 0, len(s.entries))
	for address := range s.entries {
		addresses = append(addresses, address)
	}
	return addresses
}

func (s *MemoryKeystore) Unlock(address, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[strings.ToLower(address)]
	if !ok {
		return KeyUnavailableErrorf(address, "unknown wallet")
	}

	hash := sha256.Sum256([]byte(passphrase))
	if subtle.ConstantTimeCompare(hash[:], entry.passphraseHash[:]) != 1 {
		return KeyUnavailableErrorf(address, "wrong passphrase")
	}

	entry.unlocked = true
	return nil
}

func (s *MemoryKeystore) Lock(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[strings.ToLower(address)]; ok {
		entry.unlocked = false
	}
}

func (s *MemoryKeystore) GetUnlockedKey(address string) (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[strings.ToLower(address)]
	if !ok {
		return nil, KeyUnavailableErrorf(address, "unknown wallet")
	}
	if !entry.unlocked {
		return nil, KeyUnavailableErrorf(address, "key is locked")
	}
	return entry.key, nil
}
