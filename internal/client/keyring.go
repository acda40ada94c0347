package client

import (
	"crypto/rsa"
	"sort"
	"sync"

	"beatrice/internal/crypto"
	"beatrice/internal/domain"
)

type ringEntry struct {
	pub *rsa.PublicKey
	pem string
}

// Ring holds the public keys of known peers, populated from directory-sync
// and join packets and pruned on leave packets. The client owns keys only,
// never connection handles.
type Ring struct {
	mu    sync.RWMutex
	peers map[string]ringEntry
}

// NewRing returns an empty key ring.
func NewRing() *Ring {
	return &Ring{peers: make(map[string]ringEntry)}
}

// Put parses and stores a peer's PEM key. A key that does not parse is
// rejected with domain.ErrInvalidPublicKey and not stored.
func (r *Ring) Put(nickname, pemKey string) error {
	pub, err := crypto.ParsePublicPEM(pemKey)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[nickname] = ringEntry{pub: pub, pem: pemKey}
	return nil
}

// Merge ingests a directory snapshot. Entries with malformed keys are
// skipped; merging never removes peers.
func (r *Ring) Merge(peers []domain.PeerInfo) {
	for _, p := range peers {
		_ = r.Put(p.Nickname, p.Key)
	}
}

// Remove forgets a peer. Idempotent.
func (r *Ring) Remove(nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nickname)
}

// Get returns the parsed public key for nickname.
func (r *Ring) Get(nickname string) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[nickname]
	if !ok {
		return nil, false
	}
	return e.pub, true
}

// All returns a copy of the full nickname -> key mapping, the broadcast
// target set.
func (r *Ring) All() map[string]*rsa.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(r.peers))
	for n, e := range r.peers {
		out[n] = e.pub
	}
	return out
}

// Nicknames returns the known peers, sorted.
func (r *Ring) Nicknames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for n := range r.peers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FingerprintOf renders the display fingerprint of a peer's key.
func (r *Ring) FingerprintOf(nickname string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[nickname]
	if !ok {
		return "", false
	}
	return crypto.Fingerprint(e.pem), true
}

// Len returns the number of known peers.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
