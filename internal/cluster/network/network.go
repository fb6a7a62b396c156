// Package network implements the Network Manager: one Session per peer TCP
// connection, a length-prefixed framing layer over wire.Frame, a heartbeat
// ticker that declares NODEDOWN after a configured timeout of silence, and
// a sony/gobreaker-wrapped dialer so a flapping peer doesn't spin-dial. A
// dedicated read goroutine and write goroutine per Session, plus a
// ticker-driven background heartbeat loop, generalize "one goroutine per
// logged-in user" into "one read + one write goroutine per cluster peer".
package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/cluster/wire"
)

const maxFrameSize = 16 << 20 // 16 MiB, guards against a corrupt length prefix parking a reader forever.

// Config bounds heartbeat cadence and backpressure.
type Config struct {
	PingInterval    time.Duration // T_ping, default 5s
	TimeoutMultiple int           // T_timeout = TimeoutMultiple * PingInterval, default 3
	SendQueueLimit  int           // watermark before Session.Send returns errs.ErrSendBusy
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.TimeoutMultiple <= 0 {
		c.TimeoutMultiple = 3
	}
	if c.SendQueueLimit <= 0 {
		c.SendQueueLimit = 4096
	}
	return c
}

// FrameHandler processes frames arriving from a peer. The router
// (internal/cluster/router) implements this.
type FrameHandler interface {
	HandleFrame(addr string, f wire.Frame)
}

// DownHandler is invoked once when a peer is declared down, either by
// explicit disconnect or by heartbeat timeout.
type DownHandler func(addr string)

// Session is one live peer connection.
type Session struct {
	addr   string
	conn   net.Conn
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	lastSeen int64 // unix nanos, atomic via mutex (low frequency, mutex is fine)
	mu       sync.Mutex

	logger *slog.Logger
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now().UnixNano()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	last := s.lastSeen
	s.mu.Unlock()
	return time.Since(time.Unix(0, last))
}

// Send enqueues a frame for the writer goroutine, returning
// errs.ErrSendBusy if the outbound queue is at its watermark: bounded
// backpressure rather than an unbounded buffer that hides a stuck peer.
func (s *Session) Send(f wire.Frame) error {
	body, err := wire.Encode(f)
	if err != nil {
		return err
	}
	select {
	case s.out <- body:
		return nil
	default:
		return errs.ErrSendBusy
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Manager owns every peer Session and the listener accepting new ones.
type Manager struct {
	cfg     Config
	handler FrameHandler
	onDown  DownHandler
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	breakers map[string]*gobreaker.CircuitBreaker

	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// New constructs a Manager. handler receives every decoded frame; onDown
// fires exactly once per peer address when that peer is declared
// unreachable.
func New(cfg Config, handler FrameHandler, onDown DownHandler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		onDown:   onDown,
		logger:   logger,
		sessions: make(map[string]*Session),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		stopCh:   make(chan struct{}),
	}
}

// Listen starts accepting inbound peer connections on addr.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listen %s: %w: %w", addr, errs.ErrBindError, err)
	}
	m.listener = ln
	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				m.logger.Warn("accept failed", slog.Any("err", err))
				return
			}
		}
		m.adopt(conn.RemoteAddr().String(), conn)
	}
}

func (m *Manager) breakerFor(addr string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[addr]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "peer:" + addr,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	m.breakers[addr] = b
	return b
}

// Dial establishes (or reuses) an outbound session to addr, tripping the
// per-peer circuit breaker on repeated failure so a down node doesn't get
// re-dialed on every single send.
func (m *Manager) Dial(ctx context.Context, addr string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[addr]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	b := m.breakerFor(addr)
	result, err := b.Execute(func() (interface{}, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", addr, err)
	}
	conn := result.(net.Conn)
	return m.adopt(addr, conn), nil
}

func (m *Manager) adopt(addr string, conn net.Conn) *Session {
	s := &Session{
		addr:   addr,
		conn:   conn,
		out:    make(chan []byte, m.cfg.SendQueueLimit),
		closed: make(chan struct{}),
		logger: m.logger,
	}
	s.touch()
	m.mu.Lock()
	m.sessions[addr] = s
	m.mu.Unlock()

	m.wg.Add(3)
	go m.readLoop(s)
	go m.writeLoop(s)
	go m.heartbeatLoop(s)
	return s
}

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("network: frame size %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (m *Manager) readLoop(s *Session) {
	defer m.wg.Done()
	defer m.teardown(s)
	r := bufio.NewReader(s.conn)
	for {
		body, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("peer read error", slog.String("peer", s.addr), slog.Any("err", err))
			}
			return
		}
		s.touch()
		f, err := wire.Decode(body)
		if err != nil {
			m.logger.Warn("dropping malformed frame", slog.String("peer", s.addr), slog.Any("err", err))
			continue
		}
		if f.Unknown != nil {
			m.logger.Debug("skipping unknown frame type", slog.String("peer", s.addr), slog.Int("type", int(f.Type)))
			continue
		}
		if f.Type == wire.TypePing {
			_ = s.Send(wire.Frame{Type: wire.TypePong, Pong: &wire.Pong{}})
			continue
		}
		if m.handler != nil {
			m.handler.HandleFrame(s.addr, f)
		}
	}
}

func (m *Manager) writeLoop(s *Session) {
	defer m.wg.Done()
	w := bufio.NewWriter(s.conn)
	for {
		select {
		case <-s.closed:
			return
		case body := <-s.out:
			if err := writeFrame(w, body); err != nil {
				m.logger.Debug("peer write error", slog.String("peer", s.addr), slog.Any("err", err))
				s.close()
				return
			}
			if err := w.Flush(); err != nil {
				s.close()
				return
			}
		}
	}
}

func (m *Manager) heartbeatLoop(s *Session) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	timeout := time.Duration(m.cfg.TimeoutMultiple) * m.cfg.PingInterval
	for {
		select {
		case <-s.closed:
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if s.idleSince() > timeout {
				m.logger.Warn("peer heartbeat timeout", slog.String("peer", s.addr))
				s.close()
				return
			}
			_ = s.Send(wire.Frame{Type: wire.TypePing, Ping: &wire.Ping{}})
		}
	}
}

func (m *Manager) teardown(s *Session) {
	s.close()
	m.mu.Lock()
	if cur, ok := m.sessions[s.addr]; ok && cur == s {
		delete(m.sessions, s.addr)
	}
	m.mu.Unlock()
	if m.onDown != nil {
		m.onDown(s.addr)
	}
}

// SendFrame delivers an arbitrary frame to a known peer session, used by
// the router for UserMessage/ResolveRequest/ResolveResponse traffic.
func (m *Manager) SendFrame(peerAddr string, f wire.Frame) error {
	m.mu.Lock()
	s, ok := m.sessions[peerAddr]
	m.mu.Unlock()
	if !ok {
		return errs.ErrNoPeer
	}
	return s.Send(f)
}

// SendPong implements scheduler.RemoteSender, answering an actor-level Ping
// originating from a remote peer's SystemSignal rather than a transport
// heartbeat. The wire Pong frame carries no body, so targetRemotePID only
// selects which session to reply on.
func (m *Manager) SendPong(peerAddr string, targetRemotePID uint64) error {
	m.mu.Lock()
	s, ok := m.sessions[peerAddr]
	m.mu.Unlock()
	if !ok {
		return errs.ErrNoPeer
	}
	return s.Send(wire.Frame{Type: wire.TypePong, Pong: &wire.Pong{}})
}

// SendDownRemote implements supervisor.RemoteNotifier: notifies the watcher
// identified by remotePID, on the node at peerAddr, that the actor it is
// monitoring has terminated. reason is not carried on the wire (the pinned
// SystemSignal layout has no room for a string); the receiving node reports
// a generic DownRemote notification to its own watcher.
func (m *Manager) SendDownRemote(peerAddr string, remotePID uint64, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[peerAddr]
	m.mu.Unlock()
	if !ok {
		return errs.ErrNoPeer
	}
	return s.Send(wire.Frame{Type: wire.TypeSystemSignal, SystemSignal: &wire.SystemSignal{
		Target: pid.Decode(remotePID),
		Kind:   wire.SignalDownRemote,
	}})
}

// SendMonitorRemote implements supervisor-side registration: tells the node
// at peerAddr that watcherPID (encoded, on this node) wants to be notified
// when watchedPID (on the peer) terminates.
func (m *Manager) SendMonitorRemote(peerAddr string, watchedPID pid.PID, watcherPID uint64) error {
	m.mu.Lock()
	s, ok := m.sessions[peerAddr]
	m.mu.Unlock()
	if !ok {
		return errs.ErrNoPeer
	}
	return s.Send(wire.Frame{Type: wire.TypeSystemSignal, SystemSignal: &wire.SystemSignal{
		Target: watchedPID,
		Kind:   wire.SignalMonitor,
		Aux:    watcherPID,
	}})
}

// ListenerAddr reports the actual bound address of the inbound listener,
// which differs from the configured address when Listen was given port 0.
func (m *Manager) ListenerAddr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// PeerAddrs lists every peer currently believed to be live, for
// introspection (HTTP control surface, terminal dashboard).
func (m *Manager) PeerAddrs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for addr := range m.sessions {
		out = append(out, addr)
	}
	return out
}

// Close tears down the listener and every peer session.
func (m *Manager) Close() error {
	close(m.stopCh)
	if m.listener != nil {
		_ = m.listener.Close()
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	m.wg.Wait()
	return nil
}
