package wire

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"net"
	"time"
)

// Service names accepted by the login handshake.
const (
	ServiceDatabase = "database"
	ServiceExport   = "export"
)

// LoginRequest is the one-shot credential exchange sent on a fresh
// connection before any invocation.
type LoginRequest struct {
	Service  string
	Username string
	Password string
}

// Encode renders the login payload:
//
//	1 byte   : protocol version
//	string   : service name
//	string   : username
//	20 bytes : SHA-1(password)
func (r *LoginRequest) Encode() ([]byte, error) {
	service := r.Service
	if service == "" {
		service = ServiceDatabase
	}

	var buf bytes.Buffer
	AppendByte(&buf, LoginProtocolVersion)
	if err := AppendString(&buf, service); err != nil {
		return nil, fmt.Errorf("service name: %w", err)
	}
	if err := AppendString(&buf, r.Username); err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	digest := sha1.Sum([]byte(r.Password))
	buf.Write(digest[:])
	return buf.Bytes(), nil
}

// LoginResponse is the decoded handshake reply carrying the server identity
// the pool uses to deduplicate discovered nodes.
type LoginResponse struct {
	Version      int8
	Status       int8
	HostID       int32
	ConnectionID int64
	ClusterStart time.Time
	LeaderAddr   net.IP
	Build        string
}

// DecodeLoginResponse parses the login reply payload:
//
//	1 byte  : server version
//	1 byte  : status (0 = success)
//	4 bytes : host id
//	8 bytes : connection id
//	8 bytes : cluster start timestamp (ms since epoch)
//	4 bytes : leader IPv4
//	string  : build string
func DecodeLoginResponse(payload []byte) (*LoginResponse, error) {
	d := NewDecoder(payload)

	version, err := d.Byte()
	if err != nil {
		return nil, fmt.Errorf("login version: %w", err)
	}
	status, err := d.Byte()
	if err != nil {
		return nil, fmt.Errorf("login status: %w", err)
	}

	resp := &LoginResponse{Version: version, Status: status}
	if status != LoginSuccess {
		// Rejections carry no identity fields.
		return resp, nil
	}

	if resp.HostID, err = d.Int(); err != nil {
		return nil, fmt.Errorf("login host id: %w", err)
	}
	if resp.ConnectionID, err = d.Long(); err != nil {
		return nil, fmt.Errorf("login connection id: %w", err)
	}
	startMS, err := d.Long()
	if err != nil {
		return nil, fmt.Errorf("login cluster start: %w", err)
	}
	resp.ClusterStart = time.UnixMilli(startMS).UTC()

	leader, err := d.take(4)
	if err != nil {
		return nil, fmt.Errorf("login leader address: %w", err)
	}
	resp.LeaderAddr = net.IPv4(leader[0], leader[1], leader[2], leader[3])

	build, isNull, err := d.String()
	if err != nil {
		return nil, fmt.Errorf("login build string: %w", err)
	}
	if !isNull {
		resp.Build = build
	}
	return resp, nil
}

// EncodeLoginResponse renders a login reply payload. Used by in-process
// test servers; the client itself only decodes.
func EncodeLoginResponse(r *LoginResponse) []byte {
	var buf bytes.Buffer
	AppendByte(&buf, r.Version)
	AppendByte(&buf, r.Status)
	if r.Status != LoginSuccess {
		return buf.Bytes()
	}
	AppendInt(&buf, r.HostID)
	AppendLong(&buf, r.ConnectionID)
	AppendLong(&buf, r.ClusterStart.UnixMilli())
	ip := r.LeaderAddr.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	buf.Write(ip)
	_ = AppendString(&buf, r.Build)
	return buf.Bytes()
}
