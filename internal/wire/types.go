// Package wire implements the VoltDB client wire protocol: the value codec
// for every in-band scalar, array, and table type, the length-prefixed frame
// codec, and the login / invocation / response message formats.
//
// The package is pure protocol: no sockets, no goroutines, no locks. All
// multi-byte quantities are big-endian. Encoding never emits a partial value
// (a failed encode leaves the buffer at its pre-call length) and decoding never
// advances the cursor past the start of a value that fails to parse.
package wire

import "math"

// Type is the 1-byte wire tag identifying a value's type.
type Type int8

// Wire type tags.
const (
	TypeArray     Type = -99
	TypeNull      Type = 1
	TypeTinyInt   Type = 3
	TypeSmallInt  Type = 4
	TypeInteger   Type = 5
	TypeBigInt    Type = 6
	TypeFloat     Type = 8
	TypeString    Type = 9
	TypeTimestamp Type = 11
	TypeTable     Type = 21
	TypeDecimal   Type = 22
	TypeVarbinary Type = 25
)

func (t Type) String() string {
	switch t {
	case TypeArray:
		return "ARRAY"
	case TypeNull:
		return "NULL"
	case TypeTinyInt:
		return "TINYINT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeTable:
		return "TABLE"
	case TypeDecimal:
		return "DECIMAL"
	case TypeVarbinary:
		return "VARBINARY"
	default:
		return "INVALID"
	}
}

// Null sentinels. Each scalar type reserves one bit pattern to mean NULL;
// the codec round-trips these to nil and back.
const (
	NullTinyInt   int8    = math.MinInt8
	NullSmallInt  int16   = math.MinInt16
	NullInteger   int32   = math.MinInt32
	NullBigInt    int64   = math.MinInt64
	NullTimestamp int64   = math.MinInt64
	NullFloat     float64 = -1.7e308
)

// nullLength is the length prefix denoting a null string, varbinary, or array.
const nullLength = -1

// Procedure response status codes. Values -5 and below are synthesized
// client-side and never appear on the wire from a server.
const (
	StatusSuccess           int8 = 1
	StatusUserAbort         int8 = -2
	StatusGracefulFailure   int8 = -3
	StatusUnexpectedFailure int8 = -4
	StatusConnectionLost    int8 = -5
)

// Protocol versions.
const (
	// LoginProtocolVersion is the version byte sent in the login request.
	LoginProtocolVersion = 1

	// InvocationVersion is the version byte prefixed to every procedure
	// invocation.
	InvocationVersion = 0

	// SupportedServerVersion is the only login-response protocol version
	// this client speaks. Anything else is an incompatible server.
	SupportedServerVersion int8 = 1
)

// Login response status codes.
const (
	LoginSuccess        int8 = 0
	LoginBadCredentials int8 = 2
)
