package volt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/marmos91/voltclient/internal/logger"
	"github.com/marmos91/voltclient/pkg/config"
	"github.com/marmos91/voltclient/pkg/metrics"
)

// NodeInfo is the caller-visible identity and health of one cluster node.
type NodeInfo struct {
	Endpoint     string
	HostID       int32
	ConnectionID int64
	ClusterStart time.Time
	LeaderAddr   string
	Build        string
	State        State
	Inflight     int
}

// Pool owns one executor per live cluster node and presents them as a
// single logical connection. It routes each call to the least-loaded ready
// node, watches executor health, and reconnects failed nodes in the
// background with capped exponential backoff.
type Pool struct {
	cfg       *config.Config
	sessionID uuid.UUID

	mu        sync.RWMutex
	executors map[string]*executor // endpoint -> executor
	byHost    map[int32]string     // server host id -> endpoint
	reconnect map[string]bool      // endpoints with a supervisor running
	closed    bool

	// readyCh is closed and replaced whenever an executor becomes ready,
	// waking submitters stuck with zero ready nodes.
	readyCh chan struct{}

	// closedCh stops reconnection supervisors.
	closedCh chan struct{}

	cursor atomic.Uint64

	m metrics.ClientMetrics

	wg sync.WaitGroup
}

// OpenPool connects to the configured seed hosts and, when auto-topology is
// on, to every peer the cluster reports. At least one seed must accept the
// login; secondary failures are logged and retried in the background.
func OpenPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("pool configuration: %w", err)
	}
	hosts, err := cfg.NormalizedHosts()
	if err != nil {
		return nil, fmt.Errorf("pool configuration: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	p := &Pool{
		cfg:       cfg,
		sessionID: uuid.New(),
		executors: make(map[string]*executor),
		byHost:    make(map[int32]string),
		reconnect: make(map[string]bool),
		readyCh:   make(chan struct{}),
		closedCh:  make(chan struct{}),
		m:         metrics.NewClientMetrics(),
	}

	var errs []error
	for _, h := range hosts {
		e, err := dialExecutor(ctx, h, cfg, p.m, p.handleDown)
		if err != nil {
			logger.Warn("seed connection failed", "endpoint", h, "error", err)
			errs = append(errs, err)
			// Credential and version rejections will fail identically
			// everywhere; stop instead of retrying around the cluster.
			if IsKind(err, KindAuthenticationFailed) || IsKind(err, KindIncompatibleVersion) {
				p.Kill()
				return nil, err
			}
			p.superviseLater(h)
			continue
		}
		p.adopt(e)
	}

	if len(p.snapshot()) == 0 {
		// Stop any supervisors started for unreachable seeds.
		p.Kill()
		return nil, wrapError(KindNoConnection, errors.Join(errs...), "no seed host reachable")
	}

	logger.Info("pool open",
		"session", p.sessionID,
		"seeds", len(hosts),
		"connected", len(p.snapshot()),
		"auto_topology", cfg.AutoTopology)

	if cfg.AutoTopology {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.discoverTopology()
		}()
	}
	return p, nil
}

// adopt inserts a freshly logged-in executor, deduplicating by server host
// id: topology hints and seed lists routinely name the same node twice.
func (p *Pool) adopt(e *executor) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		e.kill()
		return
	}
	if existing, ok := p.byHost[e.identity.HostID]; ok && existing != e.endpoint {
		p.mu.Unlock()
		logger.Debug("duplicate node dropped",
			"endpoint", e.endpoint, "host_id", e.identity.HostID, "existing", existing)
		e.kill()
		return
	}
	p.executors[e.endpoint] = e
	p.byHost[e.identity.HostID] = e.endpoint
	delete(p.reconnect, e.endpoint)

	// Wake anyone waiting for a ready node.
	close(p.readyCh)
	p.readyCh = make(chan struct{})
	p.mu.Unlock()
}

func (p *Pool) snapshot() []*executor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*executor, 0, len(p.executors))
	for _, e := range p.executors {
		out = append(out, e)
	}
	return out
}

// pick selects a ready executor: pinned host if requested, otherwise the
// least-loaded node with a rotating cursor breaking ties so equal-load
// nodes share the work.
func (p *Pool) pick(pinned *int32) (*executor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pinned != nil {
		ep, ok := p.byHost[*pinned]
		if !ok {
			return nil, false
		}
		e := p.executors[ep]
		if e == nil || e.State() != StateReady {
			return nil, false
		}
		return e, true
	}

	var candidates []*executor
	best := -1
	for _, e := range p.executors {
		if e.State() != StateReady {
			continue
		}
		load := e.load()
		switch {
		case best < 0 || load < best:
			best = load
			candidates = candidates[:0]
			candidates = append(candidates, e)
		case load == best:
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[p.cursor.Add(1)%uint64(len(candidates))], true
}

// submit routes a call. With zero ready executors it waits for one to come
// up until the admission deadline, then fails with KindNoConnection; a
// fail-fast call fails with KindNoConnection at once instead of waiting.
func (p *Pool) submit(ctx context.Context, c *call, failFast bool, pinned *int32) error {
	deadline := admissionDeadline(ctx, c)

	for {
		p.mu.RLock()
		closed := p.closed
		readyCh := p.readyCh
		p.mu.RUnlock()
		if closed {
			return newError(KindShutDown, "pool is closed")
		}

		e, ok := p.pick(pinned)
		if !ok {
			if failFast {
				return newError(KindNoConnection, "no ready node")
			}
			if err := waitReady(readyCh, deadline); err != nil {
				return err
			}
			continue
		}

		err := e.submit(c, failFast, deadline)
		if errors.Is(err, errExecutorUnavailable) {
			// The node went away between pick and admit; try another.
			continue
		}
		return err
	}
}

// admissionDeadline merges the call's own deadline with the caller's
// context, taking the earlier of the two.
func admissionDeadline(ctx context.Context, c *call) time.Time {
	deadline := c.deadline
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func waitReady(readyCh <-chan struct{}, deadline time.Time) error {
	if deadline.IsZero() {
		<-readyCh
		return nil
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-readyCh:
		return nil
	case <-timer.C:
		return newError(KindNoConnection, "no ready node before deadline")
	}
}

// handleDown is the executor failover hook: evict, then reconnect in the
// background. In-flight calls on the node have already been failed with
// connection-lost by the executor itself.
func (p *Pool) handleDown(e *executor, cause error) {
	p.mu.Lock()
	if p.executors[e.endpoint] == e {
		delete(p.executors, e.endpoint)
	}
	if p.byHost[e.identity.HostID] == e.endpoint {
		delete(p.byHost, e.identity.HostID)
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	logger.Warn("node down, scheduling reconnect", "endpoint", e.endpoint, "error", cause)
	p.superviseLater(e.endpoint)
}

// superviseLater starts (at most one) reconnection supervisor for an
// endpoint, retrying with exponential backoff capped at the configured
// ceiling until the node accepts a login or the pool closes.
func (p *Pool) superviseLater(endpoint string) {
	p.mu.Lock()
	if p.closed || p.reconnect[endpoint] {
		p.mu.Unlock()
		return
	}
	p.reconnect[endpoint] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxInterval = p.cfg.ReconnectCeiling
		bo.MaxElapsedTime = 0

		for {
			wait := bo.NextBackOff()
			select {
			case <-p.closedCh:
				return
			case <-time.After(wait):
			}

			ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
			e, err := dialExecutor(ctx, endpoint, p.cfg, p.m, p.handleDown)
			cancel()
			if err != nil {
				if p.m != nil {
					p.m.RecordReconnect(endpoint, false)
				}
				logger.Debug("reconnect attempt failed", "endpoint", endpoint, "error", err)
				continue
			}
			if p.m != nil {
				p.m.RecordReconnect(endpoint, true)
			}
			logger.Info("node reconnected", "endpoint", endpoint, "host_id", e.identity.HostID)
			p.adopt(e)
			return
		}
	}()
}

// discoverTopology asks the cluster for its node list once the first login
// has landed and opens an executor per unseen peer. Discovery failures are
// non-fatal: the pool keeps running on its seeds.
func (p *Pool) discoverTopology() {
	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	resp, err := p.systemCall(ctx, "@SystemInformation", []any{"OVERVIEW"})
	if err != nil {
		logger.Warn("topology discovery failed", "error", err)
		return
	}
	endpoints, err := parseClusterOverview(resp.Table(0))
	if err != nil {
		logger.Warn("topology discovery failed", "error", err)
		return
	}

	p.mu.RLock()
	known := make(map[int32]bool, len(p.byHost))
	for hostID := range p.byHost {
		known[hostID] = true
	}
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return
	}

	for hostID, endpoint := range endpoints {
		if known[hostID] {
			continue
		}
		dctx, dcancel := context.WithTimeout(context.Background(), loginTimeout)
		e, err := dialExecutor(dctx, endpoint, p.cfg, p.m, p.handleDown)
		dcancel()
		if err != nil {
			// Non-fatal on secondaries; keep retrying in the background.
			logger.Warn("discovered node unreachable", "endpoint", endpoint, "host_id", hostID, "error", err)
			p.superviseLater(endpoint)
			continue
		}
		logger.Info("discovered node connected", "endpoint", endpoint, "host_id", e.identity.HostID)
		p.adopt(e)
	}
}

// systemCall invokes a system procedure through the pool's own routing.
// Used internally for topology; the public privileged path goes through
// Client.CallSystem.
func (p *Pool) systemCall(ctx context.Context, proc string, params []any) (*Response, error) {
	frame, err := encodeInvocation(proc, params)
	if err != nil {
		return nil, err
	}
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	pc := newPendingCall(proc, frame, deadline)
	if err := p.submit(ctx, pc.c, false, nil); err != nil {
		return nil, err
	}
	resp, err := pc.End(ctx)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Nodes reports identity and health for every executor the pool holds.
func (p *Pool) Nodes() []NodeInfo {
	execs := p.snapshot()
	out := make([]NodeInfo, 0, len(execs))
	for _, e := range execs {
		out = append(out, e.nodeInfo())
	}
	return out
}

// SessionID identifies this pool instance in logs and diagnostics.
func (p *Pool) SessionID() uuid.UUID {
	return p.sessionID
}

// Close drains every executor: no new admissions, pending calls run to
// completion or to their deadlines. When ctx expires first, the remainder
// is killed and their calls fail with KindShutDown.
func (p *Pool) Close(ctx context.Context) error {
	execs, already := p.shutdown()
	if already {
		return nil
	}

	done := make(chan struct{})
	go func() {
		for _, e := range execs {
			<-e.drain()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, e := range execs {
		e.kill()
	}
	p.wg.Wait()
	logger.Info("pool closed", "session", p.sessionID)
	return err
}

// Kill force-closes: every outstanding call on every node fails with
// KindShutDown and sockets are released immediately.
func (p *Pool) Kill() {
	execs, already := p.shutdown()
	if already {
		return
	}
	for _, e := range execs {
		e.kill()
	}
	p.wg.Wait()
	logger.Info("pool killed", "session", p.sessionID)
}

// shutdown flips the pool to closed and returns the executors to wind
// down. Reports true when another caller already closed it.
func (p *Pool) shutdown() ([]*executor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, true
	}
	p.closed = true
	close(p.closedCh)
	// Wake waiters so they observe the closed pool instead of hanging.
	close(p.readyCh)
	p.readyCh = make(chan struct{})

	out := make([]*executor, 0, len(p.executors))
	for _, e := range p.executors {
		out = append(out, e)
	}
	return out, false
}
