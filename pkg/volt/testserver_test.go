package volt

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/voltclient/internal/wire"
	"github.com/marmos91/voltclient/pkg/config"
)

// fakeHandler produces the responses for one invocation. Returning nothing
// leaves the call hanging; multiple responses exercise demux edge cases.
type fakeHandler func(proc string, params []any, handle int64) []*wire.Response

// okHandler answers every call with one int column "n" = 42.
func okHandler(proc string, params []any, handle int64) []*wire.Response {
	return []*wire.Response{{
		Handle: handle,
		Status: wire.StatusSuccess,
		Tables: []*wire.Table{{
			Columns: []wire.Column{{Name: "n", Type: wire.TypeInteger}},
			Rows:    [][]any{{int32(42)}},
		}},
	}}
}

// silentHandler never replies.
func silentHandler(string, []any, int64) []*wire.Response { return nil }

// fakeServer speaks the real wire format over a loopback listener: login
// handshake, then invocation frames answered by the handler. One goroutine
// per connection, responses in invocation order.
type fakeServer struct {
	t       *testing.T
	ln      net.Listener
	hostID  int32
	handler atomic.Value // fakeHandler

	// malform, when set, answers the next invocation with a corrupt
	// length prefix instead of a response frame.
	malform atomic.Bool

	// loginVersion is the protocol version byte in login replies. Set it
	// before opening any client; defaults to the supported version.
	loginVersion int8

	mu     sync.Mutex
	conns  []net.Conn
	closed bool

	logins atomic.Int64
	pings  atomic.Int64
}

func newFakeServer(t *testing.T, hostID int32, h fakeHandler) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{t: t, ln: ln, hostID: hostID, loginVersion: wire.SupportedServerVersion}
	s.handler.Store(h)
	go s.acceptLoop()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) setHandler(h fakeHandler) { s.handler.Store(h) }

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *fakeServer) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	// Login handshake.
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return
	}
	d := wire.NewDecoder(frame)
	_, _ = d.Byte()         // protocol version
	_, _, _ = d.String()    // service
	_, _, _ = d.String()    // username
	_, _ = d.Bytes(20)      // password digest
	wire.ReleaseFrame(frame)
	s.logins.Add(1)

	reply := wire.EncodeLoginResponse(&wire.LoginResponse{
		Version:      s.loginVersion,
		Status:       wire.LoginSuccess,
		HostID:       s.hostID,
		ConnectionID: s.logins.Load(),
		ClusterStart: time.Now().Add(-time.Hour),
		LeaderAddr:   net.IPv4(127, 0, 0, 1),
		Build:        "fake-volt-1.0",
	})
	if err := wire.WriteFrame(conn, reply); err != nil {
		return
	}

	// Invocation loop.
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		proc, handle, params, err := wire.DecodeInvocation(frame)
		wire.ReleaseFrame(frame)
		if err != nil {
			return
		}

		if s.malform.CompareAndSwap(true, false) {
			_, _ = conn.Write([]byte{0xff, 0xff, 0xff, 0xff})
			return
		}

		if proc == "@Ping" {
			s.pings.Add(1)
			pong := &wire.Response{Handle: handle, Status: wire.StatusSuccess}
			payload, _ := pong.Encode()
			if err := wire.WriteFrame(conn, payload); err != nil {
				return
			}
			continue
		}

		h := s.handler.Load().(fakeHandler)
		for _, resp := range h(proc, params, handle) {
			payload, err := resp.Encode()
			require.NoError(s.t, err)
			if err := wire.WriteFrame(conn, payload); err != nil {
				return
			}
		}
	}
}

// dropConns closes every live connection without touching the listener, so
// reconnection succeeds.
func (s *fakeServer) dropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// close shuts the listener and every connection down: the node is gone.
func (s *fakeServer) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.ln.Close()
	s.dropConns()
}

// testConfig is the base client configuration for fake-server tests: short
// timings, no topology discovery unless the test asks for it.
func testConfig(hosts ...string) *config.Config {
	cfg := config.Default()
	cfg.Hosts = hosts
	cfg.Username = "test"
	cfg.Password = "test"
	cfg.AutoTopology = false
	cfg.DefaultTimeout = 2 * time.Second
	cfg.KeepAliveInterval = time.Minute // keep pings out of the way
	cfg.ReconnectCeiling = time.Second
	cfg.Logging.Level = "ERROR"
	return cfg
}
