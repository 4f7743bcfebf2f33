package wire

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginRequestEncode(t *testing.T) {
	req := &LoginRequest{Username: "ops", Password: "secret"}
	payload, err := req.Encode()
	require.NoError(t, err)

	d := NewDecoder(payload)
	version, err := d.Byte()
	require.NoError(t, err)
	assert.Equal(t, int8(LoginProtocolVersion), version)

	service, isNull, err := d.String()
	require.NoError(t, err)
	require.False(t, isNull)
	assert.Equal(t, ServiceDatabase, service, "empty service defaults to database")

	user, _, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "ops", user)

	digest, err := d.Bytes(20)
	require.NoError(t, err)
	want := sha1.Sum([]byte("secret"))
	assert.Equal(t, want[:], digest)
	assert.Equal(t, 0, d.Remaining())
}

func TestLoginResponseRoundTrip(t *testing.T) {
	want := &LoginResponse{
		Version:      1,
		Status:       LoginSuccess,
		HostID:       3,
		ConnectionID: 77,
		ClusterStart: time.UnixMilli(1700000000000).UTC(),
		LeaderAddr:   net.IPv4(10, 0, 0, 1),
		Build:        "volt-13.3",
	}

	got, err := DecodeLoginResponse(EncodeLoginResponse(want))
	require.NoError(t, err)
	assert.Equal(t, want.HostID, got.HostID)
	assert.Equal(t, want.ConnectionID, got.ConnectionID)
	assert.Equal(t, want.ClusterStart, got.ClusterStart)
	assert.True(t, want.LeaderAddr.Equal(got.LeaderAddr))
	assert.Equal(t, want.Build, got.Build)
}

func TestLoginResponseRejection(t *testing.T) {
	got, err := DecodeLoginResponse(EncodeLoginResponse(&LoginResponse{
		Version: 1,
		Status:  LoginBadCredentials,
	}))
	require.NoError(t, err)
	assert.Equal(t, LoginBadCredentials, got.Status)
	assert.Zero(t, got.HostID, "rejections carry no identity fields")
}

func TestInvocationRoundTrip(t *testing.T) {
	inv := Invocation{Procedure: "AddUser", Params: []any{int64(7), "alice", nil}}
	frame, err := inv.Encode(0)
	require.NoError(t, err)

	// The writer patches the real handle in place at dispatch time.
	PatchHandle(frame, "AddUser", 42)

	proc, handle, params, err := DecodeInvocation(frame)
	require.NoError(t, err)
	assert.Equal(t, "AddUser", proc)
	assert.Equal(t, int64(42), handle)
	assert.Equal(t, []any{int64(7), "alice", nil}, params)
}

func TestHandleOffset(t *testing.T) {
	assert.Equal(t, 1+4+len("@Ping"), HandleOffset("@Ping"))
}

func TestResponseRoundTrip(t *testing.T) {
	t.Run("SuccessWithTable", func(t *testing.T) {
		want := &Response{
			Version: 0,
			Handle:  9,
			Status:  StatusSuccess,
			Tables: []*Table{{
				Status:  0,
				Columns: []Column{{Name: "n", Type: TypeInteger}},
				Rows:    [][]any{{int32(42)}},
			}},
			ClusterRoundTrip: 3 * time.Millisecond,
		}

		payload, err := want.Encode()
		require.NoError(t, err)
		got, err := DecodeResponse(payload)
		require.NoError(t, err)

		assert.Equal(t, int64(9), got.Handle)
		assert.True(t, got.OK())
		assert.Empty(t, got.StatusString)
		assert.Equal(t, 3*time.Millisecond, got.ClusterRoundTrip)
		require.Len(t, got.Tables, 1)
		assert.Equal(t, int32(42), got.Table(0).Value(0, 0))
	})

	t.Run("FailureWithStatusStrings", func(t *testing.T) {
		want := &Response{
			Handle:          11,
			Status:          StatusGracefulFailure,
			StatusString:    "constraint violation",
			AppStatus:       -1,
			AppStatusString: "dup key",
		}

		payload, err := want.Encode()
		require.NoError(t, err)
		got, err := DecodeResponse(payload)
		require.NoError(t, err)

		assert.False(t, got.OK())
		assert.Equal(t, StatusGracefulFailure, got.Status)
		assert.Equal(t, "constraint violation", got.StatusString)
		assert.Equal(t, int8(-1), got.AppStatus)
		assert.Equal(t, "dup key", got.AppStatusString)
	})
}

func TestResponseDecodeTruncated(t *testing.T) {
	want := &Response{Handle: 1, Status: StatusSuccess}
	payload, err := want.Encode()
	require.NoError(t, err)

	_, err = DecodeResponse(payload[:len(payload)-3])
	require.Error(t, err)
}
