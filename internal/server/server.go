package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"beatrice/internal/config"
	"beatrice/internal/domain"
	"beatrice/internal/log"
	"beatrice/internal/wire"
)

// Server accepts connections and runs one session goroutine per client.
// All cross-session state lives in the Directory.
type Server struct {
	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	directory        *Directory
	handshakeTimeout time.Duration

	listener net.Listener
	connID   uint64

	mu     sync.Mutex
	conns  map[*wire.Conn]struct{}
	closed bool

	haltCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a server from a validated configuration.
func New(cfg *config.Config, backend *log.Backend) *Server {
	return &Server{
		cfg:              cfg,
		logBackend:       backend,
		log:              backend.GetLogger("server"),
		directory:        NewDirectory(),
		handshakeTimeout: time.Duration(cfg.Server.HandshakeTimeout) * time.Millisecond,
		conns:            make(map[*wire.Conn]struct{}),
		haltCh:           make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop. It returns once
// the server is listening; Addr reports the bound address.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.Address, err)
	}
	s.listener = l
	s.log.Noticef("listening on %v", l.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	if after := s.cfg.Server.IdleAwayAfter; after > 0 {
		s.wg.Add(1)
		go s.idleMonitor(time.Duration(after) * time.Second)
	}
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.haltCh:
				return
			default:
			}
			s.log.Warningf("accept failed: %v", err)
			continue
		}

		conn := wire.New(nc)
		conn.SetWriteTimeout(time.Duration(s.cfg.Server.WriteTimeout) * time.Millisecond)
		if !s.trackConn(conn) {
			// Over the connection cap; turn the newcomer away politely.
			_ = conn.WritePacket(&domain.Packet{Tag: domain.TagError, Reason: "server is full, try again later"})
			conn.Close()
			continue
		}

		id := atomic.AddUint64(&s.connID, 1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			st := &session{
				srv:  s,
				conn: conn,
				log:  s.logBackend.GetLogger(fmt.Sprintf("server/conn:%d", id)),
			}
			st.run()
		}()
	}
}

// trackConn admits a connection unless the server is halting or full.
func (s *Server) trackConn(c *wire.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.conns) >= s.cfg.Server.MaxConnections {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c *wire.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// broadcast fans p out to every registered peer except exclude. Targets are
// copied out of the directory first; each send is independent and bounded by
// the write timeout, so a dead peer is logged and dropped without stalling
// the rest.
func (s *Server) broadcast(exclude string, p *domain.Packet) {
	for _, t := range s.directory.targetsExcluding(exclude) {
		if err := t.conn.WritePacket(p); err != nil {
			s.log.Warningf("broadcast %s to %q failed, dropping peer: %v", p.Tag, t.nickname, err)
			// Closing unblocks the target's read loop; its own session then
			// unregisters it and announces the leave.
			t.conn.Close()
		}
	}
}

// idleMonitor periodically flips peers without recent traffic to away.
func (s *Server) idleMonitor(after time.Duration) {
	defer s.wg.Done()
	tick := time.NewTicker(after / 2)
	defer tick.Stop()
	for {
		select {
		case <-s.haltCh:
			return
		case <-tick.C:
			if n := s.directory.MarkAwayIdleSince(time.Now().Add(-after)); n > 0 {
				s.log.Debugf("marked %d peer(s) away", n)
			}
		}
	}
}

// Shutdown stops accepting, closes every live connection to unblock the
// session read loops, and waits for all of them to finish their cleanup.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*wire.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.haltCh)
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	s.log.Noticef("shutdown complete")
}
