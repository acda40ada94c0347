package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"beatrice/internal/domain"
)

// Conn frames packets over a byte stream: one compact JSON object per
// newline-terminated line. The write side is serialized internally so that
// broadcast fan-out from other connections' goroutines is safe.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	wmu          sync.Mutex
	writeTimeout time.Duration
}

// New wraps a network connection for packet I/O.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// SetWriteTimeout bounds every subsequent WritePacket call; zero disables.
// A peer that stops reading fills its TCP buffers eventually, and without a
// bound a write to it blocks forever, wedging every goroutine that fans out
// to this connection.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.wmu.Lock()
	c.writeTimeout = d
	c.wmu.Unlock()
}

// WritePacket serializes p and writes it as a single line. The line reaches
// the transport before WritePacket returns; there is no internal buffering.
func (c *Conn) WritePacket(p *domain.Packet) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("wire: marshal packet: %w", err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("wire: write: %w", err)
		}
		defer c.nc.SetWriteDeadline(time.Time{})
	}
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// ReadPacket reads up to and including the next newline. An empty or
// whitespace-only line is a keep-alive and yields (nil, nil). EOF with no
// buffered data yields domain.ErrPeerDisconnected; a line that is not valid
// JSON yields domain.ErrMalformedPacket and the caller decides whether to
// skip it or abort.
func (c *Conn) ReadPacket() (*domain.Packet, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		switch {
		case errors.Is(err, io.EOF) && len(strings.TrimSpace(line)) > 0:
			// A final unterminated line still parses below.
		case errors.Is(err, io.EOF):
			return nil, domain.ErrPeerDisconnected
		default:
			// A deadline expiry or transport error mid-line must surface as
			// the error, never as a truncated packet.
			return nil, fmt.Errorf("wire: read: %w", err)
		}
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var p domain.Packet
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPacket, err)
	}
	return &p, nil
}

// SetReadDeadline bounds subsequent reads; the zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error { return c.nc.Close() }
