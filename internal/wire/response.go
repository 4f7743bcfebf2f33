package wire

import (
	"bytes"
	"fmt"
	"time"
)

// Fields-present bitmask in the response envelope.
const (
	fieldStatusString    = 1 << 5
	fieldAppStatusString = 1 << 7
)

// Response is the decoded invocation reply envelope.
type Response struct {
	Version          int8
	Handle           int64
	Status           int8
	StatusString     string
	AppStatus        int8
	AppStatusString  string
	ClusterRoundTrip time.Duration
	Tables           []*Table
}

// OK reports whether the call succeeded server-side.
func (r *Response) OK() bool {
	return r.Status == StatusSuccess
}

// Table returns result table i, or nil when out of range.
func (r *Response) Table(i int) *Table {
	if i < 0 || i >= len(r.Tables) {
		return nil
	}
	return r.Tables[i]
}

// DecodeResponse parses an invocation reply payload:
//
//	1 byte   : version (echo)
//	8 bytes  : client handle
//	1 byte   : fields-present bitmask
//	1 byte   : status
//	[string] : status text, iff bit 5 set
//	1 byte   : app status
//	[string] : app status text, iff bit 7 set
//	4 bytes  : cluster round-trip ms
//	2 bytes  : table count
//	tables   : each in table format
func DecodeResponse(payload []byte) (*Response, error) {
	d := NewDecoder(payload)
	resp := &Response{}
	var err error

	if resp.Version, err = d.Byte(); err != nil {
		return nil, fmt.Errorf("response version: %w", err)
	}
	if resp.Handle, err = d.Long(); err != nil {
		return nil, fmt.Errorf("response handle: %w", err)
	}
	fields, err := d.Byte()
	if err != nil {
		return nil, fmt.Errorf("response field mask: %w", err)
	}
	if resp.Status, err = d.Byte(); err != nil {
		return nil, fmt.Errorf("response status: %w", err)
	}
	if byte(fields)&fieldStatusString != 0 {
		s, isNull, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("response status text: %w", err)
		}
		if !isNull {
			resp.StatusString = s
		}
	}
	if resp.AppStatus, err = d.Byte(); err != nil {
		return nil, fmt.Errorf("response app status: %w", err)
	}
	if byte(fields)&fieldAppStatusString != 0 {
		s, isNull, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("response app status text: %w", err)
		}
		if !isNull {
			resp.AppStatusString = s
		}
	}

	rtt, err := d.Int()
	if err != nil {
		return nil, fmt.Errorf("response round-trip: %w", err)
	}
	resp.ClusterRoundTrip = time.Duration(rtt) * time.Millisecond

	tableCount, err := d.Short()
	if err != nil {
		return nil, fmt.Errorf("response table count: %w", err)
	}
	if tableCount < 0 {
		return nil, malformedf("response table count %d", tableCount)
	}
	resp.Tables = make([]*Table, 0, tableCount)
	for i := int16(0); i < tableCount; i++ {
		t, err := DecodeTable(d)
		if err != nil {
			return nil, fmt.Errorf("response table %d: %w", i, err)
		}
		resp.Tables = append(resp.Tables, t)
	}
	return resp, nil
}

// Encode renders the response payload. The bitmask is derived from which
// text fields are populated. Used by in-process test servers.
func (r *Response) Encode() ([]byte, error) {
	var fields byte
	if r.StatusString != "" {
		fields |= fieldStatusString
	}
	if r.AppStatusString != "" {
		fields |= fieldAppStatusString
	}

	var buf bytes.Buffer
	AppendByte(&buf, r.Version)
	AppendLong(&buf, r.Handle)
	AppendByte(&buf, int8(fields))
	AppendByte(&buf, r.Status)
	if fields&fieldStatusString != 0 {
		if err := AppendString(&buf, r.StatusString); err != nil {
			return nil, err
		}
	}
	AppendByte(&buf, r.AppStatus)
	if fields&fieldAppStatusString != 0 {
		if err := AppendString(&buf, r.AppStatusString); err != nil {
			return nil, err
		}
	}
	AppendInt(&buf, int32(r.ClusterRoundTrip/time.Millisecond))
	AppendShort(&buf, int16(len(r.Tables)))
	for _, t := range r.Tables {
		if err := EncodeTable(&buf, t); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
