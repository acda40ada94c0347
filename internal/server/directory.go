package server

import (
	"fmt"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"beatrice/internal/domain"
	"beatrice/internal/wire"
)

// Status is a peer's liveness state.
type Status string

const (
	StatusActive Status = "active"
	StatusAway   Status = "away"
)

// Peer is one registered connection's directory entry. The wire connection's
// write side belongs to the session goroutine that registered it; fan-out
// callers only borrow it for individual packet writes.
type Peer struct {
	Nickname string
	KeyPEM   string
	Conn     *wire.Conn
	JoinedAt time.Time
	LastSeen time.Time
	Status   Status
}

// target is what fan-out copies out from under the lock: just enough to
// deliver a packet and log a failure.
type target struct {
	nickname string
	conn     *wire.Conn
}

// suffixAttempts bounds collision-suffix retries. The suffix space has 900
// values; running out in this many independent draws means the namespace is
// effectively full and registration fails.
const suffixAttempts = 32

// Directory is the shared registry of connected peers. Every operation is
// atomic with respect to concurrent connect/disconnect; no network I/O ever
// happens while the lock is held.
type Directory struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*Peer)}
}

// Register inserts a peer under nickname, or under nickname plus a random
// 3-digit suffix ("alice#417") when the name is taken, retrying with fresh
// suffixes until one is free. Returns the final nickname, which is the
// session's identity from here on.
func (d *Directory) Register(nickname, keyPEM string, conn *wire.Conn) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	final := nickname
	for i := 0; ; i++ {
		if _, taken := d.peers[final]; !taken {
			break
		}
		if i == suffixAttempts {
			return "", domain.ErrRegistrationFailed
		}
		final = fmt.Sprintf("%s#%03d", nickname, 100+mrand.Intn(900))
	}

	now := time.Now()
	d.peers[final] = &Peer{
		Nickname: final,
		KeyPEM:   keyPEM,
		Conn:     conn,
		JoinedAt: now,
		LastSeen: now,
		Status:   StatusActive,
	}
	return final, nil
}

// Unregister removes a peer if present. Idempotent.
func (d *Directory) Unregister(nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, nickname)
}

// Lookup returns the connection registered under nickname.
func (d *Directory) Lookup(nickname string) (*wire.Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[nickname]
	if !ok {
		return nil, false
	}
	return p.Conn, true
}

// SnapshotExcluding returns every peer except nickname, ordered by name,
// for a directory-sync packet.
func (d *Directory) SnapshotExcluding(nickname string) []domain.PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.PeerInfo, 0, len(d.peers))
	for name, p := range d.peers {
		if name == nickname {
			continue
		}
		out = append(out, domain.PeerInfo{Nickname: name, Key: p.KeyPEM})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

// targetsExcluding copies out the fan-out set; delivery happens outside the
// lock so a slow peer never blocks registration.
func (d *Directory) targetsExcluding(nickname string) []target {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]target, 0, len(d.peers))
	for name, p := range d.peers {
		if name == nickname {
			continue
		}
		out = append(out, target{nickname: name, conn: p.Conn})
	}
	return out
}

// Touch records traffic for a peer and flips it back to active.
func (d *Directory) Touch(nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[nickname]; ok {
		p.LastSeen = time.Now()
		p.Status = StatusActive
	}
}

// MarkAwayIdleSince flips peers with no traffic since cutoff to away and
// returns how many changed.
func (d *Directory) MarkAwayIdleSince(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, p := range d.peers {
		if p.Status == StatusActive && p.LastSeen.Before(cutoff) {
			p.Status = StatusAway
			n++
		}
	}
	return n
}

// Len returns the number of registered peers.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}
