package server_test

import (
	"errors"
	"net"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"beatrice/internal/config"
	"beatrice/internal/crypto"
	"beatrice/internal/domain"
	"beatrice/internal/log"
	"beatrice/internal/server"
	"beatrice/internal/wire"
)

func startServer(t *testing.T, mutate func(*config.Config)) *server.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}
	backend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	s := server.New(cfg, backend)
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)
	return s
}

func dialWire(t *testing.T, s *server.Server) *wire.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	c := wire.New(nc)
	t.Cleanup(func() { c.Close() })
	return c
}

// readPacket reads the next non-keep-alive packet with a deadline.
func readPacket(t *testing.T, c *wire.Conn) *domain.Packet {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	defer c.SetReadDeadline(time.Time{})
	for {
		p, err := c.ReadPacket()
		require.NoError(t, err)
		if p != nil {
			return p
		}
	}
}

// expectSilence asserts that nothing arrives on c for the duration.
func expectSilence(t *testing.T, c *wire.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(d)))
	defer c.SetReadDeadline(time.Time{})
	p, err := c.ReadPacket()
	if err == nil {
		t.Fatalf("expected silence, got %q packet", p.Tag)
	}
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func handshake(t *testing.T, c *wire.Conn, nickname string) (final string, id domain.Identity) {
	t.Helper()
	var err error
	id, err = crypto.NewIdentity()
	require.NoError(t, err)

	require.NoError(t, c.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: nickname,
		Key:      id.PublicPEM,
	}))
	dir := readPacket(t, c)
	require.Equal(t, domain.TagDirectory, dir.Tag)
	return dir.Nickname, id
}

func TestHandshakeEmptyDirectory(t *testing.T) {
	s := startServer(t, nil)
	c := dialWire(t, s)

	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, c.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "alice",
		Key:      id.PublicPEM,
	}))

	dir := readPacket(t, c)
	require.Equal(t, domain.TagDirectory, dir.Tag)
	require.Equal(t, "alice", dir.Nickname)
	require.Empty(t, dir.Peers)
}

func TestHandshakeSkipsKeepAliveLines(t *testing.T) {
	s := startServer(t, nil)

	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer nc.Close()
	_, err = nc.Write([]byte("\n\n"))
	require.NoError(t, err)

	c := wire.New(nc)
	final, _ := handshake(t, c, "alice")
	require.Equal(t, "alice", final)
}

func TestNicknameCollisionScenario(t *testing.T) {
	s := startServer(t, nil)

	a := dialWire(t, s)
	aliceFinal, aliceID := handshake(t, a, "alice")
	require.Equal(t, "alice", aliceFinal)

	b := dialWire(t, s)
	bID, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, b.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "alice",
		Key:      bID.PublicPEM,
	}))

	// B gets a suffixed identity and a snapshot listing A with a
	// byte-for-byte identical key.
	dir := readPacket(t, b)
	require.Equal(t, domain.TagDirectory, dir.Tag)
	require.Regexp(t, regexp.MustCompile(`^alice#\d{3}$`), dir.Nickname)
	require.Len(t, dir.Peers, 1)
	require.Equal(t, "alice", dir.Peers[0].Nickname)
	require.Equal(t, aliceID.PublicPEM, dir.Peers[0].Key)

	// A is told about the suffixed newcomer.
	join := readPacket(t, a)
	require.Equal(t, domain.TagJoin, join.Tag)
	require.Equal(t, dir.Nickname, join.Nickname)
}

func TestDirectorySnapshotListsExistingPeer(t *testing.T) {
	s := startServer(t, nil)

	a := dialWire(t, s)
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, a.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "alice",
		Key:      id.PublicPEM,
	}))
	require.Equal(t, domain.TagDirectory, readPacket(t, a).Tag)

	b := dialWire(t, s)
	bID, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, b.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "bob",
		Key:      bID.PublicPEM,
	}))
	dir := readPacket(t, b)
	require.Equal(t, domain.TagDirectory, dir.Tag)
	require.Len(t, dir.Peers, 1)
	require.Equal(t, "alice", dir.Peers[0].Nickname)
	require.Equal(t, id.PublicPEM, dir.Peers[0].Key)
}

func TestBadPEMKeyRejected(t *testing.T) {
	s := startServer(t, nil)
	c := dialWire(t, s)

	require.NoError(t, c.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "mallory",
		Key:      "not a pem key at all",
	}))
	errPkt := readPacket(t, c)
	require.Equal(t, domain.TagError, errPkt.Tag)
	require.Contains(t, errPkt.Reason, "public key")

	// The connection was never registered: a fresh peer sees an empty
	// directory.
	c2 := dialWire(t, s)
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, c2.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "alice",
		Key:      id.PublicPEM,
	}))
	dir := readPacket(t, c2)
	require.Empty(t, dir.Peers)
}

func TestWellFormedPEMWithBadBodyRejected(t *testing.T) {
	s := startServer(t, nil)
	c := dialWire(t, s)

	require.NoError(t, c.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "mallory",
		Key:      "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
	}))
	errPkt := readPacket(t, c)
	require.Equal(t, domain.TagError, errPkt.Tag)
	require.Contains(t, errPkt.Reason, "public key")
}

func TestInvalidNicknameRejected(t *testing.T) {
	s := startServer(t, nil)
	c := dialWire(t, s)

	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, c.WritePacket(&domain.Packet{
		Tag:      domain.TagHandshake,
		Nickname: "x",
		Key:      id.PublicPEM,
	}))
	errPkt := readPacket(t, c)
	require.Equal(t, domain.TagError, errPkt.Tag)
	require.Contains(t, errPkt.Reason, "nickname")
}

func TestNonHandshakeFirstPacketRejected(t *testing.T) {
	s := startServer(t, nil)
	c := dialWire(t, s)

	require.NoError(t, c.WritePacket(&domain.Packet{Tag: domain.TagMessage, Recipient: domain.Broadcast}))
	errPkt := readPacket(t, c)
	require.Equal(t, domain.TagError, errPkt.Tag)
}

func TestHandshakeTimeoutClosesSilently(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.Server.HandshakeTimeout = 100
	})
	c := dialWire(t, s)

	// Send nothing; the server should drop us without an ERR packet.
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := c.ReadPacket()
	require.ErrorIs(t, err, domain.ErrPeerDisconnected)
}

func TestUnknownRecipientGetsError(t *testing.T) {
	s := startServer(t, nil)
	a := dialWire(t, s)
	handshake(t, a, "alice")

	require.NoError(t, a.WritePacket(&domain.Packet{
		Tag:       domain.TagMessage,
		Recipient: "bob",
		Nonce:     "bm9uY2U=",
		Key:       "a2V5",
		Cipher:    "Y3Q=",
	}))
	errPkt := readPacket(t, a)
	require.Equal(t, domain.TagError, errPkt.Tag)
	require.Contains(t, errPkt.Reason, "bob")
}

func TestDirectRelayStampsAuthoritativeSender(t *testing.T) {
	s := startServer(t, nil)
	a := dialWire(t, s)
	handshake(t, a, "alice")
	b := dialWire(t, s)
	handshake(t, b, "bob")

	// A learns about B joining before any messages flow.
	require.Equal(t, domain.TagJoin, readPacket(t, a).Tag)

	require.NoError(t, a.WritePacket(&domain.Packet{
		Tag:       domain.TagMessage,
		Recipient: "bob",
		Sender:    "forged",
		Nonce:     "bm9uY2U=",
		Key:       "a2V5",
		Cipher:    "Y3Q=",
	}))
	msg := readPacket(t, b)
	require.Equal(t, domain.TagMessage, msg.Tag)
	require.Equal(t, "alice", msg.Sender)
	require.Equal(t, "Y3Q=", msg.Cipher)
}

func TestBroadcastFanOutExcludesSender(t *testing.T) {
	s := startServer(t, nil)
	a := dialWire(t, s)
	handshake(t, a, "alice")
	b := dialWire(t, s)
	handshake(t, b, "bob")
	c := dialWire(t, s)
	handshake(t, c, "carol")

	// Drain join notifications.
	require.Equal(t, domain.TagJoin, readPacket(t, a).Tag) // bob
	require.Equal(t, domain.TagJoin, readPacket(t, a).Tag) // carol
	require.Equal(t, domain.TagJoin, readPacket(t, b).Tag) // carol

	require.NoError(t, a.WritePacket(&domain.Packet{
		Tag:       domain.TagMessage,
		Recipient: domain.Broadcast,
		Nonce:     "bm9uY2U=",
		Key:       "a2V5",
		Cipher:    "Y3Q=",
	}))
	for _, peer := range []*wire.Conn{b, c} {
		msg := readPacket(t, peer)
		require.Equal(t, domain.TagMessage, msg.Tag)
		require.Equal(t, "alice", msg.Sender)
	}
	expectSilence(t, a, 200*time.Millisecond)
}

func TestDisconnectBroadcastsOneLeave(t *testing.T) {
	s := startServer(t, nil)
	a := dialWire(t, s)
	handshake(t, a, "alice")
	b := dialWire(t, s)
	bFinal, _ := handshake(t, b, "bob")

	require.Equal(t, domain.TagJoin, readPacket(t, a).Tag)

	require.NoError(t, b.Close())

	leave := readPacket(t, a)
	require.Equal(t, domain.TagLeave, leave.Tag)
	require.Equal(t, bFinal, leave.Nickname)
	expectSilence(t, a, 200*time.Millisecond)
}

func TestServerFullRejectsNewcomer(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.Server.MaxConnections = 1
	})
	a := dialWire(t, s)
	handshake(t, a, "alice")

	b := dialWire(t, s)
	errPkt := readPacket(t, b)
	require.Equal(t, domain.TagError, errPkt.Tag)
	require.Contains(t, errPkt.Reason, "full")
}

func TestMalformedPacketMidSessionIsSkipped(t *testing.T) {
	s := startServer(t, nil)

	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer nc.Close()
	a := wire.New(nc)
	handshake(t, a, "alice")

	b := dialWire(t, s)
	handshake(t, b, "bob")
	require.Equal(t, domain.TagJoin, readPacket(t, a).Tag)

	// Garbage must not kill the session; a follow-up message still relays.
	_, err = nc.Write([]byte("{{{garbage\n"))
	require.NoError(t, err)
	require.NoError(t, a.WritePacket(&domain.Packet{
		Tag:       domain.TagMessage,
		Recipient: "bob",
		Nonce:     "bm9uY2U=",
		Key:       "a2V5",
		Cipher:    "Y3Q=",
	}))
	msg := readPacket(t, b)
	require.Equal(t, domain.TagMessage, msg.Tag)
	require.Equal(t, "alice", msg.Sender)
}

// A peer that stops reading must not stall delivery to anyone else: its
// write times out, it gets dropped, and the healthy peer still receives
// every broadcast.
func TestBroadcastSurvivesStalledPeer(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.Server.WriteTimeout = 200
	})
	sender := dialWire(t, s)
	handshake(t, sender, "alice")

	// Handshakes, then never reads again; its TCP buffers fill up.
	stalledNC, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer stalledNC.Close()
	stalled := wire.New(stalledNC)
	handshake(t, stalled, "bob")

	healthy := dialWire(t, s)
	healthyFinal, _ := handshake(t, healthy, "carol")
	require.Equal(t, "carol", healthyFinal)

	require.Equal(t, domain.TagJoin, readPacket(t, sender).Tag) // bob
	require.Equal(t, domain.TagJoin, readPacket(t, sender).Tag) // carol

	// Large payloads so the stalled peer's buffers fill within a few sends.
	big := strings.Repeat("Y", 64<<10)
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, sender.WritePacket(&domain.Packet{
			Tag:       domain.TagMessage,
			Recipient: domain.Broadcast,
			Nonce:     "bm9uY2U=",
			Key:       "a2V5",
			Cipher:    big,
		}))
	}

	got := 0
	for got < n {
		p := readPacket(t, healthy)
		if p.Tag != domain.TagMessage {
			// Bob's leave broadcast once the server drops him.
			require.Equal(t, domain.TagLeave, p.Tag)
			continue
		}
		require.Equal(t, "alice", p.Sender)
		require.Equal(t, big, p.Cipher)
		got++
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	s := startServer(t, nil)
	a := dialWire(t, s)
	handshake(t, a, "alice")

	s.Shutdown()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := a.ReadPacket()
	require.Error(t, err)
	require.False(t, errors.Is(err, os.ErrDeadlineExceeded))
}
