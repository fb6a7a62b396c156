package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorcore/internal/actor/errs"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/cluster/wire"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []wire.Frame
	addrs []string
}

func (r *recordingHandler) HandleFrame(addr string, f wire.Frame) {
	r.mu.Lock()
	r.seen = append(r.seen, f)
	r.addrs = append(r.addrs, addr)
	r.mu.Unlock()
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	return "127.0.0.1:0"
}

func TestDialListenRoundTripsAFrame(t *testing.T) {
	server := &recordingHandler{}
	serverMgr := New(Config{}, server, nil, nil)
	require.NoError(t, serverMgr.Listen(freeLoopbackAddr(t)))
	defer serverMgr.Close()

	addr := serverMgr.listener.Addr().String()

	clientMgr := New(Config{}, nil, nil, nil)
	defer clientMgr.Close()

	sess, err := clientMgr.Dial(context.Background(), addr)
	require.NoError(t, err)

	target := pid.PID{Index: 1, Gen: 1}
	require.NoError(t, sess.Send(wire.Frame{
		Type:        wire.TypeUserMessage,
		UserMessage: &wire.UserMessage{Target: target, Body: []byte("hello")},
	}))

	require.Eventually(t, func() bool { return server.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, wire.TypeUserMessage, server.seen[0].Type)
	require.Equal(t, []byte("hello"), server.seen[0].UserMessage.Body)
	require.Equal(t, target, server.seen[0].UserMessage.Target)
}

func TestHeartbeatTimeoutDeclaresPeerDown(t *testing.T) {
	// A bare listener that accepts the connection and holds it open but never
	// reads or writes: no Pong ever comes back, so only the client's own
	// heartbeatLoop idle timeout can declare the peer down.
	ln, err := net.Listen("tcp", freeLoopbackAddr(t))
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().String()
	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			accepted <- c
		}
	}()
	defer func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	}()

	var downMu sync.Mutex
	var downAddrs []string
	clientMgr := New(Config{PingInterval: 20 * time.Millisecond, TimeoutMultiple: 2}, nil, func(a string) {
		downMu.Lock()
		downAddrs = append(downAddrs, a)
		downMu.Unlock()
	}, nil)
	defer clientMgr.Close()

	_, err = clientMgr.Dial(context.Background(), addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		downMu.Lock()
		defer downMu.Unlock()
		return len(downAddrs) == 1 && downAddrs[0] == addr
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSendReportsBusyWhenQueueSaturated(t *testing.T) {
	s := &Session{
		addr:   "peer:1",
		out:    make(chan []byte, 1),
		closed: make(chan struct{}),
	}
	// Fill the queue directly without a writer goroutine draining it.
	require.NoError(t, s.Send(wire.Frame{Type: wire.TypePing, Ping: &wire.Ping{}}))
	err := s.Send(wire.Frame{Type: wire.TypePing, Ping: &wire.Ping{}})
	require.ErrorIs(t, err, errs.ErrSendBusy)
}

func TestSendFrameToUnknownPeerErrors(t *testing.T) {
	m := New(Config{}, nil, nil, nil)
	err := m.SendFrame("nowhere:9999", wire.Frame{Type: wire.TypePing, Ping: &wire.Ping{}})
	require.ErrorIs(t, err, errs.ErrNoPeer)
}

func TestPeerAddrsReflectsLiveSessions(t *testing.T) {
	serverMgr := New(Config{}, &recordingHandler{}, nil, nil)
	require.NoError(t, serverMgr.Listen(freeLoopbackAddr(t)))
	defer serverMgr.Close()
	addr := serverMgr.listener.Addr().String()

	clientMgr := New(Config{}, nil, nil, nil)
	defer clientMgr.Close()

	_, err := clientMgr.Dial(context.Background(), addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(clientMgr.PeerAddrs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, addr, clientMgr.PeerAddrs()[0])
}
