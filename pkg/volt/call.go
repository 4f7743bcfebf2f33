// Package volt is the VoltDB client core: a pool of per-node connections
// that invokes server-side stored procedures over the binary wire protocol
// and correlates responses back to their callers.
//
// Three invocation styles share one engine:
//
//	client.Submit(ctx, proc, params, cb)   // callback on completion
//	pc, _ := client.Begin(ctx, proc, params)
//	resp, err := pc.End(ctx)               // handle style
//	resp, err := client.Call(ctx, proc, params) // synchronous
package volt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/marmos91/voltclient/internal/wire"
)

// Re-exported wire types: result tables and values cross the package
// boundary into application code.
type (
	// Response is a decoded invocation reply.
	Response = wire.Response

	// Table is one result table: schema, rows, status.
	Table = wire.Table

	// Column is one column of a table schema.
	Column = wire.Column

	// Decimal is the fixed-scale wire decimal.
	Decimal = wire.Decimal

	// Type is a wire type tag.
	Type = wire.Type
)

// NewDecimal parses a wire decimal from its string form.
var NewDecimal = wire.NewDecimal

// Server status codes surfaced on Response.Status and Error.Status.
const (
	StatusSuccess           = wire.StatusSuccess
	StatusUserAbort         = wire.StatusUserAbort
	StatusGracefulFailure   = wire.StatusGracefulFailure
	StatusUnexpectedFailure = wire.StatusUnexpectedFailure
	StatusConnectionLost    = wire.StatusConnectionLost
)

// Callback receives a call's completion. Exactly one of resp and err is
// meaningful for client-synthesized failures; a server-side failure carries
// both (the decoded response and a KindServerError describing it).
//
// Unless a delivery channel is configured, callbacks run on the reader
// goroutine of the connection that served the call: they must not block.
type Callback func(resp *Response, err error)

// Completion is one finished call, as delivered through WithDelivery.
type Completion struct {
	Response *Response
	Err      error
}

// call is one pending request-response pair, exclusively owned by its
// executor from admission to resolution.
type call struct {
	proc  string
	frame []byte // encoded invocation; handle patched at dispatch

	handle       int64
	deadline     time.Time // zero = no deadline
	enqueuedAt   time.Time
	dispatchedAt time.Time

	cb       Callback
	internal bool // synthesized keep-alive, not caller-visible

	cancelled atomic.Bool
	delivered atomic.Bool
}

// complete delivers the resolution exactly once. Late responses for calls
// already resolved (timed out, cancelled, failed) are dropped here.
func (c *call) complete(resp *Response, err error) {
	if !c.delivered.CompareAndSwap(false, true) {
		return
	}
	if c.cb != nil {
		c.cb(resp, err)
	}
}

// cancel marks the call cancelled and resolves it. The executor's sweeper
// reclaims the pending entry and its slot on the next tick, and the
// eventual server response is dropped as unknown-handle work; there is no
// wire message to revoke a call server-side.
func (c *call) cancel() {
	c.cancelled.Store(true)
	c.complete(nil, newError(KindCancelled, "call to %q cancelled", c.proc))
}

// PendingCall is the caller-visible token of a handle-style invocation.
type PendingCall struct {
	c        *call
	done     chan Completion
	consumed atomic.Bool
}

func newPendingCall(proc string, frame []byte, deadline time.Time) *PendingCall {
	p := &PendingCall{done: make(chan Completion, 1)}
	p.c = &call{
		proc:     proc,
		frame:    frame,
		deadline: deadline,
		cb: func(resp *Response, err error) {
			p.done <- Completion{Response: resp, Err: err}
		},
	}
	return p
}

// End blocks until the call resolves and returns its result. The call's own
// deadline is enforced by the executor; ctx only bounds the wait itself.
// A second End on the same token fails with KindInvalidHandle.
func (p *PendingCall) End(ctx context.Context) (*Response, error) {
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, newError(KindInvalidHandle, "call to %q already ended", p.c.proc)
	}
	select {
	case done := <-p.done:
		return done.Response, done.Err
	case <-ctx.Done():
		// The call stays pending executor-side; its own deadline or the
		// connection decides its fate. The token is spent either way.
		return nil, wrapError(KindTimeout, ctx.Err(), "wait for %q interrupted", p.c.proc)
	}
}

// Cancel resolves the call with KindCancelled. Safe to race with completion;
// whichever lands first wins and the other is dropped.
func (p *PendingCall) Cancel() {
	p.c.cancel()
}
