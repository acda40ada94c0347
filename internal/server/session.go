package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/op/go-logging.v1"

	"beatrice/internal/crypto"
	"beatrice/internal/domain"
	"beatrice/internal/wire"
)

// session is the per-connection state machine: AwaitingHandshake ->
// Synchronizing -> Relaying -> Closing. One session runs per accepted
// connection, in its own goroutine; sessions share nothing but the
// directory.
type session struct {
	srv  *Server
	conn *wire.Conn
	log  *logging.Logger

	// Set once the handshake registers; empty means the session never made
	// it into the directory and Closing only closes the connection.
	nickname string
	keyPEM   string
}

func (st *session) run() {
	defer st.conn.Close()

	if err := st.handshake(); err != nil {
		st.log.Debugf("handshake failed: %v", err)
		return
	}
	// Registered from here on: cleanup must run on every exit path.
	defer st.cleanup()

	st.synchronize()
	st.relay()
}

// reject sends a best-effort ERR packet with a human-readable reason.
func (st *session) reject(reason string) {
	if err := st.conn.WritePacket(&domain.Packet{Tag: domain.TagError, Reason: reason}); err != nil {
		st.log.Debugf("could not deliver rejection: %v", err)
	}
}

// handshake reads packets, skipping keep-alive lines, until a valid H
// packet arrives or the deadline expires. Validation failures are answered
// with an ERR packet; a timeout aborts silently. On success the session is
// registered under its final nickname.
func (st *session) handshake() error {
	deadline := time.Now().Add(st.srv.handshakeTimeout)
	if err := st.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer st.conn.SetReadDeadline(time.Time{})

	for {
		p, err := st.conn.ReadPacket()
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			return domain.ErrHandshakeTimeout
		case errors.Is(err, domain.ErrMalformedPacket):
			st.reject("malformed handshake packet")
			return err
		default:
			return err
		}
		if p == nil {
			continue
		}

		if p.Tag != domain.TagHandshake {
			st.reject("expected a handshake packet")
			return fmt.Errorf("%w: got %q before handshake", domain.ErrMalformedPacket, p.Tag)
		}
		if p.Nickname == "" || p.Key == "" {
			st.reject("handshake is missing nickname or public key")
			return domain.ErrMalformedPacket
		}
		if !domain.ValidNickname(p.Nickname) {
			st.reject("nickname must be 3-20 alphanumeric characters")
			return domain.ErrInvalidNickname
		}
		if !crypto.HasPEMPrefix(p.Key) {
			st.reject("invalid public key")
			return domain.ErrInvalidPublicKey
		}
		if _, err := crypto.ParsePublicPEM(p.Key); err != nil {
			st.reject("invalid public key: expected a PEM-encoded RSA key")
			return err
		}

		final, err := st.srv.directory.Register(p.Nickname, p.Key, st.conn)
		if err != nil {
			st.reject("could not allocate a nickname, try again")
			return err
		}
		st.nickname = final
		st.keyPEM = p.Key
		st.log.Infof("%q joined from %v (fingerprint %s)",
			final, st.conn.RemoteAddr(), crypto.Fingerprint(p.Key))
		return nil
	}
}

// synchronize sends the newcomer the directory snapshot and announces the
// join to everyone else. Both are best-effort: a failed send to one peer
// never aborts the others, nor this session.
func (st *session) synchronize() {
	dir := &domain.Packet{
		Tag:      domain.TagDirectory,
		Nickname: st.nickname, // final, possibly suffixed identity
		Peers:    st.srv.directory.SnapshotExcluding(st.nickname),
	}
	if err := st.conn.WritePacket(dir); err != nil {
		st.log.Warningf("directory sync to %q failed: %v", st.nickname, err)
	}

	st.srv.broadcast(st.nickname, &domain.Packet{
		Tag:      domain.TagJoin,
		Nickname: st.nickname,
		Key:      st.keyPEM,
	})
}

// relay loops over inbound packets. Malformed packets are dropped and the
// loop continues; any transport error or clean disconnect ends the session.
func (st *session) relay() {
	for {
		p, err := st.conn.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrMalformedPacket):
				st.log.Debugf("dropping malformed packet from %q: %v", st.nickname, err)
				continue
			case errors.Is(err, domain.ErrPeerDisconnected):
				st.log.Debugf("%q disconnected", st.nickname)
			default:
				st.log.Debugf("read from %q failed: %v", st.nickname, err)
			}
			return
		}
		if p == nil {
			continue
		}

		st.srv.directory.Touch(st.nickname)
		if p.Tag != domain.TagMessage {
			st.log.Debugf("ignoring %q packet from %q", p.Tag, st.nickname)
			continue
		}

		// The relayed sender field is authoritative; whatever the client
		// put there is overwritten.
		p.Sender = st.nickname

		if p.Recipient == domain.Broadcast {
			st.srv.broadcast(st.nickname, p)
			continue
		}

		conn, ok := st.srv.directory.Lookup(p.Recipient)
		if !ok {
			st.reject(fmt.Sprintf("unknown recipient %q", p.Recipient))
			continue
		}
		if err := conn.WritePacket(p); err != nil {
			st.log.Warningf("relay %q -> %q failed, dropping peer: %v", st.nickname, p.Recipient, err)
			conn.Close()
		}
	}
}

// cleanup is the Closing state: unregister, tell the remaining peers, and
// let the deferred conn.Close release the handle. Runs on every exit path
// once the session is registered.
func (st *session) cleanup() {
	st.srv.directory.Unregister(st.nickname)
	st.srv.broadcast(st.nickname, &domain.Packet{Tag: domain.TagLeave, Nickname: st.nickname})
	st.log.Infof("%q left", st.nickname)
}
