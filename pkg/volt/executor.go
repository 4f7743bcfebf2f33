package volt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/voltclient/internal/logger"
	"github.com/marmos91/voltclient/internal/wire"
	"github.com/marmos91/voltclient/pkg/config"
	"github.com/marmos91/voltclient/pkg/metrics"
)

// State is an executor's lifecycle state.
type State int32

const (
	// StateConnecting covers dial and login on a fresh socket.
	StateConnecting State = iota

	// StateReady accepts calls, reads responses, expires deadlines.
	StateReady

	// StateDraining stops admitting but still resolves pending calls, up
	// to their deadlines. Entered on graceful pool shutdown.
	StateDraining

	// StateFaulted is the transient cleanup state after an I/O or
	// protocol error: every pending call fails with connection-lost.
	StateFaulted

	// StateDead is terminal; the pool discards the executor.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateFaulted:
		return "faulted"
	case StateDead:
		return "dead"
	default:
		return "invalid"
	}
}

// sweepInterval is the cadence of the deadline sweeper.
const sweepInterval = 100 * time.Millisecond

// loginTimeout bounds the handshake on a fresh socket when the dial context
// carries no deadline of its own.
const loginTimeout = 10 * time.Second

// pingProcedure is the system procedure invoked by idle keep-alives.
const pingProcedure = "@Ping"

// errExecutorUnavailable tells the pool to route the call elsewhere: the
// executor stopped accepting between selection and admission. Never reaches
// callers.
var errExecutorUnavailable = errors.New("executor unavailable")

// executor owns one TCP session to one cluster node: the pending table, the
// bounded outbound queue, a writer goroutine (sole owner of the handle
// counter and the socket's write side), a reader goroutine that demuxes
// responses by handle, and a sweeper that expires deadlines.
type executor struct {
	endpoint string
	conn     net.Conn
	identity *wire.LoginResponse

	maxInflight int
	keepAlive   time.Duration

	mu      sync.Mutex
	pending map[int64]*call
	// sealed stops pending insertions once teardown has begun, so no call
	// can slip in behind the teardown's failure sweep.
	sealed bool

	state atomic.Int32

	// outbound is the bounded admission queue; slots caps
	// |pending| + |outbound| at maxInflight.
	outbound chan *call
	slots    chan struct{}

	// nextHandle is owned by the writer goroutine.
	nextHandle int64

	closing   chan struct{}
	closeOnce sync.Once
	drained   chan struct{}
	drainOnce sync.Once
	wg        sync.WaitGroup

	// onDown is the pool's failover hook, invoked once when the executor
	// reaches StateDead through a fault (not through drain or kill).
	onDown func(e *executor, cause error)

	m   metrics.ClientMetrics
	log *slog.Logger
}

// dialExecutor opens a TCP connection to endpoint and performs the login
// handshake. No user call is accepted before the handshake completes.
func dialExecutor(ctx context.Context, endpoint string, cfg *config.Config, m metrics.ClientMetrics, onDown func(*executor, error)) (*executor, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, wrapError(KindConnectionLost, err, "dial %s", endpoint)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	identity, err := login(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	e := &executor{
		endpoint:    endpoint,
		conn:        conn,
		identity:    identity,
		maxInflight: cfg.MaxInflight,
		keepAlive:   cfg.KeepAliveInterval,
		pending:     make(map[int64]*call),
		outbound:    make(chan *call, cfg.MaxInflight),
		slots:       make(chan struct{}, cfg.MaxInflight),
		nextHandle:  1,
		closing:     make(chan struct{}),
		drained:     make(chan struct{}),
		onDown:      onDown,
		m:           m,
		log: logger.With(
			"endpoint", endpoint,
			"host_id", identity.HostID,
			"connection_id", identity.ConnectionID,
		),
	}
	e.state.Store(int32(StateReady))

	e.wg.Add(3)
	go e.writeLoop()
	go e.readLoop()
	go e.sweepLoop()

	e.log.Debug("executor ready", "build", identity.Build)
	return e, nil
}

// login performs the one-shot handshake: credentials out, identity back.
func login(ctx context.Context, conn net.Conn, cfg *config.Config) (*wire.LoginResponse, error) {
	deadline := time.Now().Add(loginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	req := &wire.LoginRequest{
		Service:  cfg.Service,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	payload, err := req.Encode()
	if err != nil {
		return nil, wrapError(KindIncompatibleVersion, err, "encode login")
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		return nil, wrapError(KindConnectionLost, err, "write login")
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, wrapError(KindConnectionLost, err, "read login response")
	}
	defer wire.ReleaseFrame(frame)

	resp, err := wire.DecodeLoginResponse(frame)
	if err != nil {
		return nil, wrapError(KindMalformedResponse, err, "decode login response")
	}
	switch resp.Status {
	case wire.LoginSuccess:
		if resp.Version != wire.SupportedServerVersion {
			return nil, newError(KindIncompatibleVersion,
				"server protocol version %d, client speaks %d", resp.Version, wire.SupportedServerVersion)
		}
		return resp, nil
	case wire.LoginBadCredentials:
		return nil, newError(KindAuthenticationFailed, "login rejected for user %q", cfg.Username)
	default:
		return nil, newError(KindIncompatibleVersion, "login rejected with status %d", resp.Status)
	}
}

// State reports the current lifecycle state.
func (e *executor) State() State {
	return State(e.state.Load())
}

// load reports |pending| + |outbound|, the routing weight.
func (e *executor) load() int {
	e.mu.Lock()
	n := len(e.pending)
	e.mu.Unlock()
	return n + len(e.outbound)
}

// submit admits a call. The fast path acquires a slot and enqueues without
// blocking. At the ceiling, failFast refuses with backpressure; otherwise
// the caller blocks until slack or the admission deadline.
func (e *executor) submit(c *call, failFast bool, deadline time.Time) error {
	if e.State() != StateReady {
		return errExecutorUnavailable
	}

	select {
	case e.slots <- struct{}{}:
	default:
		if failFast {
			if e.m != nil {
				e.m.RecordBackpressure()
			}
			return newError(KindBackpressure, "%s at in-flight ceiling %d", e.endpoint, e.maxInflight)
		}
		if err := e.waitForSlot(deadline); err != nil {
			return err
		}
	}

	// Re-check after the potentially long wait: draining or faulted
	// executors must not accept, and the pool should route elsewhere.
	if e.State() != StateReady {
		e.releaseSlot()
		return errExecutorUnavailable
	}

	c.enqueuedAt = time.Now()
	select {
	case e.outbound <- c:
	default:
		// Unreachable while slots and outbound share a capacity, but a
		// lost call would be worse than a rerouted one.
		e.releaseSlot()
		return errExecutorUnavailable
	}

	if e.m != nil {
		e.m.RecordCall(c.proc)
		e.m.SetInflight(e.endpoint, e.load())
	}
	return nil
}

// waitForSlot blocks until a slot frees, the executor tears down, or the
// admission deadline fires. A deadline miss here means the call was never
// enqueued anywhere.
func (e *executor) waitForSlot(deadline time.Time) error {
	if deadline.IsZero() {
		select {
		case e.slots <- struct{}{}:
			return nil
		case <-e.closing:
			return errExecutorUnavailable
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-e.closing:
		return errExecutorUnavailable
	case <-timer.C:
		if e.m != nil {
			e.m.RecordTimeout()
		}
		return newError(KindTimeout, "admission to %s timed out", e.endpoint)
	}
}

func (e *executor) releaseSlot() {
	select {
	case <-e.slots:
	default:
	}
}

// insertPending registers a call under its handle. Reports false once the
// executor is sealed for teardown; the caller then fails the call itself.
func (e *executor) insertPending(c *call) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return false
	}
	e.pending[c.handle] = c
	return true
}

// removePending looks up and removes the call for a handle.
func (e *executor) removePending(handle int64) (*call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.pending[handle]
	if ok {
		delete(e.pending, handle)
	}
	return c, ok
}

// writeLoop is the sole consumer of the outbound queue and the sole owner
// of the handle counter and the socket's write side. When nothing has been
// admitted for keepAlive, it synthesizes a ping so a quiet connection still
// proves liveness.
func (e *executor) writeLoop() {
	defer e.wg.Done()

	idle := time.NewTimer(e.keepAlive)
	defer idle.Stop()

	for {
		select {
		case c := <-e.outbound:
			e.dispatch(c)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.keepAlive)
		case <-idle.C:
			e.sendPing()
			idle.Reset(e.keepAlive)
		case <-e.closing:
			return
		}
	}
}

// dispatch assigns the next handle, registers the call, and writes its
// frame. Frames leave in admission order; the server may complete them out
// of order and the reader does not care.
func (e *executor) dispatch(c *call) {
	if c.delivered.Load() {
		// Cancelled while queued; its slot is still held.
		e.releaseSlot()
		return
	}
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		e.releaseSlot()
		if e.m != nil {
			e.m.RecordTimeout()
		}
		c.complete(nil, newError(KindTimeout, "call to %q expired before dispatch", c.proc))
		return
	}

	c.handle = e.nextHandle
	e.nextHandle++
	wire.PatchHandle(c.frame, c.proc, c.handle)

	if !e.insertPending(c) {
		e.releaseSlot()
		c.complete(nil, wrapError(KindConnectionLost, nil, "connection to %s closed", e.endpoint))
		return
	}
	c.dispatchedAt = time.Now()

	// A stalled peer must not wedge the writer forever; the keep-alive
	// interval doubles as the write stall budget.
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.keepAlive))
	if err := wire.WriteFrame(e.conn, c.frame); err != nil {
		e.fault(wrapError(KindConnectionLost, err, "write to %s", e.endpoint))
		return
	}
	_ = e.conn.SetWriteDeadline(time.Time{})
}

// sendPing writes a keep-alive invocation. Pings bypass the admission
// slots (they are internal, not caller work) but sit in the pending table
// like any call; a ping that outlives the keep-alive interval faults the
// executor, because a healthy server answers pings even under load.
func (e *executor) sendPing() {
	inv := wire.Invocation{Procedure: pingProcedure}
	frame, err := inv.Encode(0)
	if err != nil {
		return
	}

	c := &call{
		proc:     pingProcedure,
		frame:    frame,
		deadline: time.Now().Add(e.keepAlive),
		internal: true,
		cb: func(_ *Response, err error) {
			if IsKind(err, KindTimeout) {
				e.fault(wrapError(KindConnectionLost, err, "keep-alive to %s unanswered", e.endpoint))
			}
		},
	}
	if e.m != nil {
		e.m.RecordPing()
	}
	e.log.Debug("keep-alive ping")
	e.dispatchInternal(c)
}

// dispatchInternal is dispatch without slot accounting, for pings.
func (e *executor) dispatchInternal(c *call) {
	c.handle = e.nextHandle
	e.nextHandle++
	wire.PatchHandle(c.frame, c.proc, c.handle)

	if !e.insertPending(c) {
		return
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.keepAlive))
	if err := wire.WriteFrame(e.conn, c.frame); err != nil {
		e.fault(wrapError(KindConnectionLost, err, "write to %s", e.endpoint))
		return
	}
	_ = e.conn.SetWriteDeadline(time.Time{})
}

// readLoop demultiplexes response frames by client handle and delivers each
// to its call's completion sink, in wire arrival order.
func (e *executor) readLoop() {
	defer e.wg.Done()

	for {
		frame, err := wire.ReadFrame(e.conn)
		if err != nil {
			select {
			case <-e.closing:
				// Teardown closed the socket under us; not a peer fault.
				return
			default:
			}
			if errors.Is(err, wire.ErrMalformed) {
				e.fault(wrapError(KindMalformedResponse, err, "frame from %s", e.endpoint))
			} else if err == io.EOF {
				e.fault(newError(KindConnectionLost, "%s closed the connection", e.endpoint))
			} else {
				e.fault(wrapError(KindConnectionLost, err, "read from %s", e.endpoint))
			}
			return
		}

		resp, err := wire.DecodeResponse(frame)
		wire.ReleaseFrame(frame)
		if err != nil {
			e.fault(wrapError(KindMalformedResponse, err, "response from %s", e.endpoint))
			return
		}

		e.deliver(resp)
	}
}

// deliver resolves the pending call for a response. An unknown handle is a
// server-side oddity (or a late reply to an expired call) and is dropped;
// it never faults the connection.
func (e *executor) deliver(resp *Response) {
	c, ok := e.removePending(resp.Handle)
	if !ok {
		e.log.Debug("response for unknown handle dropped", "handle", resp.Handle)
		return
	}
	if !c.internal {
		e.releaseSlot()
	}

	if c.cancelled.Load() {
		e.log.Debug("response for cancelled call dropped", "handle", resp.Handle, "procedure", c.proc)
		return
	}

	if e.m != nil && !c.internal {
		e.m.ObserveRoundTrip(c.proc, time.Since(c.enqueuedAt))
		e.m.SetInflight(e.endpoint, e.load())
	}

	if resp.OK() {
		c.complete(resp, nil)
		return
	}
	c.complete(resp, &Error{
		Kind:    KindServerError,
		Status:  resp.Status,
		Message: resp.StatusString,
	})
}

// sweepLoop expires deadlines. A timeout resolves the call locally and
// frees its slot; the executor stays ready, because a slow server is not a
// broken one. The eventual response is dropped as unknown-handle work.
func (e *executor) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweep(time.Now())
		case <-e.closing:
			return
		}
	}
}

func (e *executor) sweep(now time.Time) {
	var expired []*call
	e.mu.Lock()
	for h, c := range e.pending {
		// Cancelled calls are already resolved; reclaim their entry and
		// slot even when they carry no deadline.
		if c.cancelled.Load() || (!c.deadline.IsZero() && now.After(c.deadline)) {
			delete(e.pending, h)
			expired = append(expired, c)
		}
	}
	pendingLeft := len(e.pending)
	e.mu.Unlock()

	for _, c := range expired {
		if !c.internal {
			e.releaseSlot()
		}
		if c.cancelled.Load() {
			continue
		}
		if e.m != nil && !c.internal {
			e.m.RecordTimeout()
		}
		c.complete(nil, newError(KindTimeout, "call to %q timed out", c.proc))
	}

	if e.State() == StateDraining && pendingLeft == 0 && len(e.outbound) == 0 {
		e.drainOnce.Do(func() { close(e.drained) })
	}
}

// fault handles an I/O or protocol error: fail everything, die, tell the
// pool. Runs at most once; later callers find the state already moved on.
func (e *executor) fault(cause error) {
	if !e.state.CompareAndSwap(int32(StateReady), int32(StateFaulted)) &&
		!e.state.CompareAndSwap(int32(StateDraining), int32(StateFaulted)) {
		return
	}
	e.log.Warn("executor faulted", "error", cause)

	e.teardown(func(c *call) error {
		return wrapError(KindConnectionLost, cause, "call to %q", c.proc)
	})
	e.state.Store(int32(StateDead))

	if e.onDown != nil {
		// Off this goroutine: the hook takes pool locks and may block.
		go e.onDown(e, cause)
	}
}

// drain stops admission and lets pending calls finish. Returns a channel
// closed when the executor is empty; the caller decides how long to wait
// before killing.
func (e *executor) drain() <-chan struct{} {
	e.state.CompareAndSwap(int32(StateReady), int32(StateDraining))
	// An already-empty executor drains immediately; the sweeper only
	// fires on the next tick.
	e.sweep(time.Now())
	return e.drained
}

// kill force-closes: every outstanding call fails with KindShutDown.
func (e *executor) kill() {
	prev := e.State()
	if prev == StateDead {
		return
	}
	e.state.Store(int32(StateFaulted))
	e.teardown(func(c *call) error {
		return newError(KindShutDown, "client closed with %q outstanding", c.proc)
	})
	e.state.Store(int32(StateDead))
}

// teardown seals the pending table, closes the socket (unblocking both
// loops), and fails every outstanding call with failErr.
func (e *executor) teardown(failErr func(*call) error) {
	e.mu.Lock()
	e.sealed = true
	orphans := make([]*call, 0, len(e.pending))
	for _, c := range e.pending {
		orphans = append(orphans, c)
	}
	e.pending = make(map[int64]*call)
	e.mu.Unlock()

	e.closeOnce.Do(func() { close(e.closing) })
	_ = e.conn.Close()

	// Queued-but-unwritten calls fail the same way as written ones.
drainQueue:
	for {
		select {
		case c := <-e.outbound:
			orphans = append(orphans, c)
		default:
			break drainQueue
		}
	}

	lost := 0
	for _, c := range orphans {
		if !c.internal {
			e.releaseSlot()
			lost++
		}
		c.complete(nil, failErr(c))
	}
	if e.m != nil {
		if lost > 0 {
			e.m.RecordConnectionLost(lost)
		}
		e.m.SetInflight(e.endpoint, 0)
	}
	e.drainOnce.Do(func() { close(e.drained) })
}

// nodeInfo snapshots the executor for Pool.Nodes.
func (e *executor) nodeInfo() NodeInfo {
	return NodeInfo{
		Endpoint:     e.endpoint,
		HostID:       e.identity.HostID,
		ConnectionID: e.identity.ConnectionID,
		ClusterStart: e.identity.ClusterStart,
		LeaderAddr:   e.identity.LeaderAddr.String(),
		Build:        e.identity.Build,
		State:        e.State(),
		Inflight:     e.load(),
	}
}
