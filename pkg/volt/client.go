package volt

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/marmos91/voltclient/internal/logger"
	"github.com/marmos91/voltclient/internal/wire"
	"github.com/marmos91/voltclient/pkg/config"
)

// procNameRE is the shape of a user procedure name. Note that it admits the
// empty string and rejects "@": system procedures go through the privileged
// path, never this one.
var procNameRE = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Client is the public face of the pool: procedure-name validation, timeout
// plumbing, and the three invocation styles over one core.
type Client struct {
	pool *Pool
	cfg  *config.Config
}

// Open connects to the cluster described by cfg and returns a ready client.
func Open(ctx context.Context, cfg *config.Config) (*Client, error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool, cfg: cfg}, nil
}

// CallOption adjusts a single invocation.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	timeoutSet bool
	pinned     *int32
	failFast   bool
	delivery   chan<- Completion
}

// WithTimeout sets this call's deadline. Zero falls back to the configured
// default; negative means no deadline at all.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithHost pins the call to the node with the given server host id,
// bypassing least-loaded selection. Used by workloads exploiting
// single-partition affinity.
func WithHost(hostID int32) CallOption {
	return func(o *callOptions) {
		id := hostID
		o.pinned = &id
	}
}

// FailFast refuses admission with KindBackpressure instead of blocking when
// the chosen node is at its in-flight ceiling.
func FailFast() CallOption {
	return func(o *callOptions) { o.failFast = true }
}

// WithDelivery hands completions to ch instead of running the callback on
// the reader goroutine. The send never blocks the reader: when ch is full
// the completion is dropped and logged, so size it for the workload.
func WithDelivery(ch chan<- Completion) CallOption {
	return func(o *callOptions) { o.delivery = ch }
}

func (c *Client) options(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// deadlineFor turns the per-call timeout into an absolute deadline.
func (c *Client) deadlineFor(o callOptions) time.Time {
	timeout := c.cfg.DefaultTimeout
	if o.timeoutSet {
		timeout = o.timeout
		if timeout == 0 {
			timeout = c.cfg.DefaultTimeout
		}
	}
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// encodeInvocation renders the invocation frame with a placeholder handle;
// the executor's writer patches the real one at dispatch.
func encodeInvocation(proc string, params []any) ([]byte, error) {
	inv := wire.Invocation{Procedure: proc, Params: params}
	frame, err := inv.Encode(0)
	if err != nil {
		return nil, fmt.Errorf("marshal call to %q: %w", proc, err)
	}
	return frame, nil
}

func validateName(proc string) error {
	if !procNameRE.MatchString(proc) {
		return newError(KindInvalidProcedureName, "procedure name %q", proc)
	}
	return nil
}

// wrapDelivery adapts a callback to the caller's delivery channel, keeping
// the reader goroutine non-blocking.
func wrapDelivery(ch chan<- Completion) Callback {
	return func(resp *Response, err error) {
		select {
		case ch <- Completion{Response: resp, Err: err}:
		default:
			logger.Warn("delivery channel full, completion dropped")
		}
	}
}

// Submit invokes a procedure callback-style: it returns once the call is
// admitted and cb runs on completion. Synchronous failures (bad name,
// marshalling, backpressure, no connection, shutdown) come back as the
// return value and cb never runs.
func (c *Client) Submit(ctx context.Context, proc string, params []any, cb Callback, opts ...CallOption) error {
	if err := validateName(proc); err != nil {
		return err
	}
	return c.submit(ctx, proc, params, cb, opts)
}

// SubmitSystem is the privileged counterpart of Submit for @-procedures on
// the allow-list.
func (c *Client) SubmitSystem(ctx context.Context, proc string, params []any, cb Callback, opts ...CallOption) error {
	if err := validateSystemName(proc); err != nil {
		return err
	}
	return c.submit(ctx, proc, params, cb, opts)
}

func (c *Client) submit(ctx context.Context, proc string, params []any, cb Callback, opts []CallOption) error {
	o := c.options(opts)
	frame, err := encodeInvocation(proc, params)
	if err != nil {
		return err
	}
	if o.delivery != nil {
		cb = wrapDelivery(o.delivery)
	}
	call := &call{
		proc:     proc,
		frame:    frame,
		deadline: c.deadlineFor(o),
		cb:       cb,
	}
	return c.pool.submit(ctx, call, o.failFast, o.pinned)
}

// Begin invokes a procedure handle-style: the returned token's End blocks
// for the result. Admission failures surface here, before a token exists.
func (c *Client) Begin(ctx context.Context, proc string, params []any, opts ...CallOption) (*PendingCall, error) {
	if err := validateName(proc); err != nil {
		return nil, err
	}
	return c.begin(ctx, proc, params, opts)
}

// BeginSystem is the privileged counterpart of Begin.
func (c *Client) BeginSystem(ctx context.Context, proc string, params []any, opts ...CallOption) (*PendingCall, error) {
	if err := validateSystemName(proc); err != nil {
		return nil, err
	}
	return c.begin(ctx, proc, params, opts)
}

func (c *Client) begin(ctx context.Context, proc string, params []any, opts []CallOption) (*PendingCall, error) {
	o := c.options(opts)
	frame, err := encodeInvocation(proc, params)
	if err != nil {
		return nil, err
	}
	pc := newPendingCall(proc, frame, c.deadlineFor(o))
	if err := c.pool.submit(ctx, pc.c, o.failFast, o.pinned); err != nil {
		return nil, err
	}
	return pc, nil
}

// Call invokes a procedure synchronously: Begin and End in one step.
func (c *Client) Call(ctx context.Context, proc string, params []any, opts ...CallOption) (*Response, error) {
	pc, err := c.Begin(ctx, proc, params, opts...)
	if err != nil {
		return nil, err
	}
	return pc.End(ctx)
}

// CallSystem invokes an allow-listed system procedure synchronously.
func (c *Client) CallSystem(ctx context.Context, proc string, params []any, opts ...CallOption) (*Response, error) {
	pc, err := c.BeginSystem(ctx, proc, params, opts...)
	if err != nil {
		return nil, err
	}
	return pc.End(ctx)
}

// Ping round-trips a keep-alive through one node.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CallSystem(ctx, "@Ping", nil)
	return err
}

// Nodes reports identity and health of every connected cluster node.
func (c *Client) Nodes() []NodeInfo {
	return c.pool.Nodes()
}

// Close drains in-flight work and releases every connection. See
// Pool.Close for deadline semantics.
func (c *Client) Close(ctx context.Context) error {
	return c.pool.Close(ctx)
}

// Kill force-closes without draining.
func (c *Client) Kill() {
	c.pool.Kill()
}
