package volt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/voltclient/internal/wire"
)

func openTestClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Open(ctx, testConfig(srv.addr()))
	require.NoError(t, err)
	t.Cleanup(client.Kill)
	return client
}

func TestCallHappyPath(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)

	start := time.Now()
	resp, err := client.Call(context.Background(), "Select", nil, WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.True(t, resp.OK())

	require.Len(t, resp.Tables, 1)
	tbl := resp.Table(0)
	require.Equal(t, []Column{{Name: "n", Type: wire.TypeInteger}}, tbl.Columns)
	require.Equal(t, 1, tbl.RowCount())
	assert.Equal(t, int32(42), tbl.Value(0, 0))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubmitCallback(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)

	done := make(chan Completion, 1)
	err := client.Submit(context.Background(), "Select", []any{int64(7)},
		func(resp *Response, err error) {
			done <- Completion{Response: resp, Err: err}
		})
	require.NoError(t, err)

	select {
	case c := <-done:
		require.NoError(t, c.Err)
		assert.True(t, c.Response.OK())
	case <-time.After(3 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestSubmitWithDelivery(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)

	ch := make(chan Completion, 4)
	err := client.Submit(context.Background(), "Select", nil, nil, WithDelivery(ch))
	require.NoError(t, err)

	select {
	case c := <-ch:
		require.NoError(t, c.Err)
		assert.True(t, c.Response.OK())
	case <-time.After(3 * time.Second):
		t.Fatal("completion never delivered")
	}
}

func TestProcedureNameValidation(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)
	ctx := context.Background()

	t.Run("RejectsPunctuation", func(t *testing.T) {
		_, err := client.Call(ctx, "bad-name", nil)
		assert.True(t, IsKind(err, KindInvalidProcedureName), "got %v", err)
	})

	t.Run("RejectsSystemNamesOnUserPath", func(t *testing.T) {
		_, err := client.Call(ctx, "@Ping", nil)
		assert.True(t, IsKind(err, KindInvalidProcedureName), "got %v", err)
	})

	t.Run("SystemPathIsAllowListed", func(t *testing.T) {
		require.NoError(t, client.Ping(ctx))

		_, err := client.CallSystem(ctx, "@DropTables", nil)
		assert.True(t, IsKind(err, KindInvalidProcedureName), "got %v", err)
	})
}

func TestServerErrorSurfaced(t *testing.T) {
	srv := newFakeServer(t, 0, func(proc string, params []any, handle int64) []*wire.Response {
		return []*wire.Response{{
			Handle:       handle,
			Status:       wire.StatusGracefulFailure,
			StatusString: "constraint violation",
		}}
	})
	client := openTestClient(t, srv)

	resp, err := client.Call(context.Background(), "Insert", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServerError))

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, wire.StatusGracefulFailure, verr.Status)
	assert.Equal(t, "constraint violation", verr.Message)

	// The decoded envelope still reaches the caller alongside the error.
	require.NotNil(t, resp)
	assert.Equal(t, "constraint violation", resp.StatusString)
}

func TestEndTwiceFailsInvalidHandle(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)
	ctx := context.Background()

	pc, err := client.Begin(ctx, "Select", nil)
	require.NoError(t, err)

	resp, err := pc.End(ctx)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	_, err = pc.End(ctx)
	assert.True(t, IsKind(err, KindInvalidHandle), "got %v", err)
}

func TestCancel(t *testing.T) {
	srv := newFakeServer(t, 0, silentHandler)
	client := openTestClient(t, srv)
	ctx := context.Background()

	pc, err := client.Begin(ctx, "Slow", nil, WithTimeout(10*time.Second))
	require.NoError(t, err)

	pc.Cancel()
	_, err = pc.End(ctx)
	assert.True(t, IsKind(err, KindCancelled), "got %v", err)

	// The executor is unaffected: a fresh call still works.
	srv.setHandler(okHandler)
	resp, err := client.Call(ctx, "Select", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestMarshalFailureIsSynchronous(t *testing.T) {
	srv := newFakeServer(t, 0, okHandler)
	client := openTestClient(t, srv)

	_, err := client.Call(context.Background(), "Select", []any{struct{}{}})
	require.Error(t, err)
	assert.False(t, IsKind(err, KindServerError), "must fail before reaching any executor")
}
