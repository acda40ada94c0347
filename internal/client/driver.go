package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"beatrice/internal/crypto"
	"beatrice/internal/domain"
	"beatrice/internal/log"
	"beatrice/internal/wire"
)

// eventBuffer is the event channel capacity. Publishing blocks once the
// consumer falls this far behind, preserving FIFO order rather than
// dropping events.
const eventBuffer = 64

// Client drives the chat protocol against a beatriced server: handshake,
// directory ingestion, decrypt/dispatch of inbound messages, and
// per-recipient hybrid encryption of outbound ones. Decoded activity is
// published as ordered events for a UI to consume.
type Client struct {
	nickname string
	identity domain.Identity

	conn *wire.Conn
	ring *Ring
	log  *logging.Logger

	events chan domain.Event
	done   chan struct{}

	closeOnce sync.Once
}

// Dial connects to addr, performs the handshake, and starts the receive
// loop. The server answers with either an ERR packet, which aborts with its
// reason, or a DIR packet that seeds the key ring and carries the final
// (possibly collision-suffixed) session nickname.
func Dial(ctx context.Context, addr, nickname string, id domain.Identity, backend *log.Backend) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	conn := wire.New(nc)

	hello := &domain.Packet{Tag: domain.TagHandshake, Nickname: nickname, Key: id.PublicPEM}
	if err := conn.WritePacket(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: handshake send: %w", err)
	}

	// Exactly one meaningful response completes or aborts the handshake.
	for {
		p, err := conn.ReadPacket()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("client: handshake read: %w", err)
		}
		if p == nil {
			continue
		}

		switch p.Tag {
		case domain.TagError:
			conn.Close()
			return nil, fmt.Errorf("client: handshake rejected: %s", p.Reason)
		case domain.TagDirectory:
			c := &Client{
				nickname: nickname,
				identity: id,
				conn:     conn,
				ring:     NewRing(),
				log:      backend.GetLogger("client"),
				events:   make(chan domain.Event, eventBuffer),
				done:     make(chan struct{}),
			}
			if p.Nickname != "" {
				c.nickname = p.Nickname
			}
			c.ring.Merge(p.Peers)
			go c.receiveLoop()
			return c, nil
		default:
			conn.Close()
			return nil, fmt.Errorf("client: unexpected %q packet during handshake", p.Tag)
		}
	}
}

// Nickname returns the session identity assigned by the server.
func (c *Client) Nickname() string { return c.nickname }

// Fingerprint returns the display fingerprint of the local public key.
func (c *Client) Fingerprint() string { return crypto.Fingerprint(c.identity.PublicPEM) }

// Ring exposes the known-peer key ring for display purposes.
func (c *Client) Ring() *Ring { return c.ring }

// Events is the ordered event stream for the UI. It is never closed;
// consumers should select on Done as well.
func (c *Client) Events() <-chan domain.Event { return c.events }

// Done is closed when the session has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) publish(ev domain.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// receiveLoop dispatches inbound packets until disconnect. Per-packet
// failures (malformed lines, undecryptable messages) are dropped and the
// loop continues; only transport errors end the session.
func (c *Client) receiveLoop() {
	defer c.Close()
	for {
		p, err := c.conn.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrMalformedPacket):
				c.log.Debugf("dropping malformed packet: %v", err)
				continue
			case errors.Is(err, domain.ErrPeerDisconnected):
				c.log.Infof("server closed the connection")
			default:
				c.log.Debugf("read failed: %v", err)
			}
			return
		}
		if p == nil {
			continue
		}

		switch p.Tag {
		case domain.TagMessage:
			payload, err := crypto.Open(c.identity.Private, p.Key, p.Nonce, p.Cipher)
			if err != nil {
				c.log.Debugf("dropping undecryptable message from %q: %v", p.Sender, err)
				continue
			}
			if p.Sender != "" {
				// Server-stamped attribution wins over the embedded one.
				payload.Sender = p.Sender
			}
			c.publish(domain.Event{Kind: domain.EventMessage, Message: &payload})
		case domain.TagJoin:
			if err := c.ring.Put(p.Nickname, p.Key); err != nil {
				c.log.Warningf("ignoring join for %q with bad key: %v", p.Nickname, err)
				continue
			}
			c.publish(domain.Event{Kind: domain.EventJoin, Text: p.Nickname})
		case domain.TagDirectory:
			c.ring.Merge(p.Peers)
		case domain.TagLeave:
			c.ring.Remove(p.Nickname)
			c.publish(domain.Event{Kind: domain.EventLeave, Text: p.Nickname})
		case domain.TagError:
			c.publish(domain.Event{Kind: domain.EventError, Text: p.Reason})
		default:
			c.log.Debugf("ignoring %q packet", p.Tag)
		}
	}
}

// Send takes raw user input, resolves the target set, and emits one
// encrypted M packet per recipient. "@nickname text" addresses a single
// peer; anything else broadcasts to every known peer. Local conditions
// (self-message, unknown recipient) become events, not wire traffic.
func (c *Client) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	recipient := domain.Broadcast
	content := text
	if rest, ok := strings.CutPrefix(text, "@"); ok {
		nick, body, found := strings.Cut(rest, " ")
		if !found || strings.TrimSpace(body) == "" {
			c.publish(domain.Event{Kind: domain.EventError, Text: "usage: @nickname message"})
			return nil
		}
		recipient = nick
		content = strings.TrimSpace(body)
	}

	var targets map[string]*rsa.PublicKey
	if recipient == domain.Broadcast {
		targets = c.ring.All()
	} else {
		if recipient == c.nickname {
			c.publish(domain.Event{Kind: domain.EventSelfMessage, Text: "you cannot message yourself"})
			return nil
		}
		pub, ok := c.ring.Get(recipient)
		if !ok {
			c.publish(domain.Event{Kind: domain.EventUserNotFound, Text: fmt.Sprintf("no such user %q", recipient)})
			return nil
		}
		targets = map[string]*rsa.PublicKey{recipient: pub}
	}

	payload := domain.MessagePayload{Sender: c.nickname, Content: content}
	if len(targets) > 0 {
		sealed, err := crypto.Seal(payload, targets)
		if err != nil {
			return fmt.Errorf("client: encrypt: %w", err)
		}
		for _, sc := range sealed {
			pkt := &domain.Packet{
				Tag:       domain.TagMessage,
				Recipient: sc.Recipient,
				Key:       sc.WrappedKey,
				Nonce:     sc.Nonce,
				Cipher:    sc.Cipher,
			}
			if err := c.conn.WritePacket(pkt); err != nil {
				return fmt.Errorf("client: send to %q: %w", sc.Recipient, err)
			}
		}
	}

	// Local echo for the sender's own UI, whether or not anyone was online
	// to receive the broadcast.
	c.publish(domain.Event{Kind: domain.EventMyMessage, Message: &payload})
	return nil
}

// Close tears the session down: safe to call redundantly, from any
// goroutine. The connection is closed exactly once and Done is closed so
// event consumers stop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}
