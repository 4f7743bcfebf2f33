package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Invocation is one procedure call ready for the wire.
type Invocation struct {
	Procedure string
	Params    []any
}

// Encode renders the invocation payload with the given client handle:
//
//	1 byte  : version
//	string  : procedure name (ASCII)
//	8 bytes : client handle
//	2 bytes : parameter count
//	params  : 1-byte type tag + value, each
//
// Parameter marshalling failures surface here, before the call is admitted
// anywhere.
func (inv *Invocation) Encode(handle int64) ([]byte, error) {
	if len(inv.Params) > math.MaxInt16 {
		return nil, fmt.Errorf("invocation carries %d parameters, maximum is %d", len(inv.Params), math.MaxInt16)
	}

	var buf bytes.Buffer
	AppendByte(&buf, InvocationVersion)
	if err := AppendString(&buf, inv.Procedure); err != nil {
		return nil, fmt.Errorf("procedure name: %w", err)
	}
	AppendLong(&buf, handle)
	AppendShort(&buf, int16(len(inv.Params)))
	for i, p := range inv.Params {
		if err := EncodeParam(&buf, p); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// HandleOffset reports where the 8-byte client handle sits inside an encoded
// invocation for the given procedure name. The writer patches the handle in
// place at dispatch time, after assignment from its private counter.
func HandleOffset(procedure string) int {
	return 1 + 4 + len(procedure)
}

// PatchHandle overwrites the client handle inside an encoded invocation.
func PatchHandle(frame []byte, procedure string, handle int64) {
	off := HandleOffset(procedure)
	binary.BigEndian.PutUint64(frame[off:off+8], uint64(handle))
}

// DecodeInvocation parses an invocation payload. The client never receives
// invocations; this is the server half used by in-process test servers.
func DecodeInvocation(payload []byte) (proc string, handle int64, params []any, err error) {
	d := NewDecoder(payload)

	if _, err = d.Byte(); err != nil {
		return "", 0, nil, fmt.Errorf("invocation version: %w", err)
	}
	proc, isNull, err := d.String()
	if err != nil || isNull {
		return "", 0, nil, malformedf("invocation procedure name")
	}
	if handle, err = d.Long(); err != nil {
		return "", 0, nil, fmt.Errorf("invocation handle: %w", err)
	}
	count, err := d.Short()
	if err != nil {
		return "", 0, nil, fmt.Errorf("invocation parameter count: %w", err)
	}
	if count < 0 {
		return "", 0, nil, malformedf("invocation parameter count %d", count)
	}
	params = make([]any, count)
	for i := range params {
		if params[i], err = d.TaggedValue(); err != nil {
			return "", 0, nil, fmt.Errorf("invocation parameter %d: %w", i, err)
		}
	}
	return proc, handle, params, nil
}
