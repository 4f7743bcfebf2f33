package volt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/voltclient/internal/wire"
)

func TestTimeoutKeepsExecutorReady(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeServer(t, 0, func(proc string, params []any, handle int64) []*wire.Response {
		if proc == "Slow" {
			// Reply only after the client has given up.
			<-release
		}
		return okHandler(proc, params, handle)
	})
	client := openTestClient(t, srv)
	ctx := context.Background()

	start := time.Now()
	_, err := client.Call(ctx, "Slow", nil, WithTimeout(150*time.Millisecond))
	require.True(t, IsKind(err, KindTimeout), "got %v", err)
	elapsed := time.Since(start)
	assert.Less(t, elapsed, time.Second, "timeout must fire near the deadline, not the sweep ceiling")

	// Let the late response land; it must be dropped as unknown-handle
	// work without disturbing the connection.
	close(release)
	time.Sleep(200 * time.Millisecond)

	resp, err := client.Call(ctx, "Select", nil)
	require.NoError(t, err, "executor must stay ready after a timeout")
	assert.True(t, resp.OK())
}

func TestBackpressureFailFast(t *testing.T) {
	srv := newFakeServer(t, 0, silentHandler)

	cfg := testConfig(srv.addr())
	cfg.MaxInflight = 2
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Kill)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	cb := func(_ *Response, err error) {
		results <- err
		wg.Done()
	}

	wg.Add(2)
	require.NoError(t, client.Submit(ctx, "Hang", nil, cb, FailFast(), WithTimeout(400*time.Millisecond)))
	require.NoError(t, client.Submit(ctx, "Hang", nil, cb, FailFast(), WithTimeout(400*time.Millisecond)))

	err = client.Submit(ctx, "Hang", nil, cb, FailFast(), WithTimeout(400*time.Millisecond))
	assert.True(t, IsKind(err, KindBackpressure), "third admission must refuse synchronously, got %v", err)

	// The two admitted calls run out their own deadlines.
	wg.Wait()
	close(results)
	for err := range results {
		assert.True(t, IsKind(err, KindTimeout), "got %v", err)
	}
}

func TestBlockingAdmissionTimesOut(t *testing.T) {
	srv := newFakeServer(t, 0, silentHandler)

	cfg := testConfig(srv.addr())
	cfg.MaxInflight = 1
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Kill)

	require.NoError(t, client.Submit(ctx, "Hang", nil, func(*Response, error) {}, WithTimeout(2*time.Second)))

	// The ceiling is full; without FailFast the second admission blocks
	// until its deadline and fails having never been enqueued.
	start := time.Now()
	_, err = client.Call(ctx, "Hang", nil, WithTimeout(300*time.Millisecond))
	assert.True(t, IsKind(err, KindTimeout), "got %v", err)
	assert.InDelta(t, 300, time.Since(start).Milliseconds(), 250)
}

func TestConnectionLossFailsInflight(t *testing.T) {
	srv := newFakeServer(t, 0, silentHandler)
	client := openTestClient(t, srv)
	ctx := context.Background()

	errs := make(chan error, 2)
	cb := func(_ *Response, err error) { errs <- err }
	require.NoError(t, client.Submit(ctx, "Hang", nil, cb, WithTimeout(10*time.Second)))
	require.NoError(t, client.Submit(ctx, "Hang", nil, cb, WithTimeout(10*time.Second)))

	// Give the writer a moment to put both on the wire, then cut the
	// socket from the server side.
	time.Sleep(100 * time.Millisecond)
	srv.dropConns()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.True(t, IsKind(err, KindConnectionLost), "got %v", err)
		case <-time.After(3 * time.Second):
			t.Fatal("in-flight calls not failed after connection loss")
		}
	}

	// The pool reconnects in the background; new work flows again.
	srv.setHandler(okHandler)
	require.Eventually(t, func() bool {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		resp, err := client.Call(cctx, "Select", nil, WithTimeout(time.Second))
		return err == nil && resp.OK()
	}, 10*time.Second, 200*time.Millisecond, "pool must recover after reconnect")
}

func TestMalformedFrameFaultsExecutor(t *testing.T) {
	srv := newFakeServer(t, 0, silentHandler)
	client := openTestClient(t, srv)
	ctx := context.Background()

	srv.malform.Store(true)

	_, err := client.Call(ctx, "Anything", nil, WithTimeout(5*time.Second))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnectionLost),
		"pending calls fail with connection lost when the executor faults, got %v", err)

	// Recovery proves the fault was contained to that connection.
	srv.setHandler(okHandler)
	require.Eventually(t, func() bool {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		resp, err := client.Call(cctx, "Select", nil, WithTimeout(time.Second))
		return err == nil && resp.OK()
	}, 10*time.Second, 200*time.Millisecond)
}

func TestUnknownHandleDropped(t *testing.T) {
	srv := newFakeServer(t, 0, func(proc string, params []any, handle int64) []*wire.Response {
		// A stray response for a handle nobody issued, then the real one.
		stray := &wire.Response{Handle: handle + 100000, Status: wire.StatusSuccess}
		real := okHandler(proc, params, handle)[0]
		return []*wire.Response{stray, real}
	})
	client := openTestClient(t, srv)

	resp, err := client.Call(context.Background(), "Select", nil)
	require.NoError(t, err, "a stray handle must be dropped, not fault the connection")
	assert.True(t, resp.OK())
}

func TestKeepAlivePing(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)

	cfg := testConfig(srv.addr())
	cfg.KeepAliveInterval = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Kill)

	require.Eventually(t, func() bool {
		return srv.pings.Load() >= 2
	}, 3*time.Second, 50*time.Millisecond, "idle writer must synthesize pings")

	// Pings answered: the executor is still ready for real work.
	resp, err := client.Call(ctx, "Select", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestHandlesAreUniqueAndOrdered(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int64]int)
	var order []string

	srv := newFakeServer(t, 0, func(proc string, params []any, handle int64) []*wire.Response {
		mu.Lock()
		seen[handle]++
		order = append(order, proc)
		mu.Unlock()
		return okHandler(proc, params, handle)
	})
	client := openTestClient(t, srv)
	ctx := context.Background()

	// Admission order within one executor is frame order on the wire;
	// the single-threaded fake reads them back in exactly that order.
	var wg sync.WaitGroup
	procs := []string{"A", "B", "C", "D", "E"}
	for _, p := range procs {
		wg.Add(1)
		resp := p
		require.NoError(t, client.Submit(ctx, resp, nil, func(*Response, error) { wg.Done() }))
		// One at a time keeps pool-level admission order deterministic.
		wg.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, procs, order, "frames must appear in admission order")
	for h, n := range seen {
		assert.Equal(t, 1, n, "handle %d reused", h)
	}
	assert.Len(t, seen, len(procs))
}
