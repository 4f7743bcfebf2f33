package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed reports server-issued bytes that violate the wire format.
// The executor treats any error wrapping ErrMalformed as fatal for its
// connection.
var ErrMalformed = errors.New("malformed wire data")

func malformedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformed)...)
}

// Decoder is a cursor over one message payload. Every read either consumes
// exactly the documented number of bytes or fails without moving the cursor,
// so the offset of the offending value is still addressable after an error.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports the number of unconsumed bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Offset reports the current cursor position.
func (d *Decoder) Offset() int {
	return d.off
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, malformedf("need %d bytes at offset %d, have %d", n, d.off, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Bytes reads exactly n raw bytes, as used by fixed-width fields like the
// login password digest.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Byte reads a 1-byte signed integer.
func (d *Decoder) Byte() (int8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// Short reads a 2-byte big-endian signed integer.
func (d *Decoder) Short() (int16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// Int reads a 4-byte big-endian signed integer.
func (d *Decoder) Int() (int32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// Long reads an 8-byte big-endian signed integer.
func (d *Decoder) Long() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Float reads an IEEE-754 64-bit float.
func (d *Decoder) Float() (float64, error) {
	v, err := d.Long()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// String reads a 4-byte signed length followed by UTF-8 bytes. A length of
// -1 reports the null sentinel. On any failure the cursor stays at the
// length prefix.
func (d *Decoder) String() (s string, isNull bool, err error) {
	start := d.off
	n, err := d.Int()
	if err != nil {
		return "", false, err
	}
	if n == nullLength {
		return "", true, nil
	}
	if n < 0 || int(n) > maxStringLength {
		d.off = start
		return "", false, malformedf("string length %d out of range at offset %d", n, start)
	}
	b, err := d.take(int(n))
	if err != nil {
		d.off = start
		return "", false, err
	}
	return string(b), false, nil
}

// Varbinary reads a 4-byte signed length followed by raw bytes. A nil slice
// reports the null sentinel. The returned slice is a copy, safe to retain.
func (d *Decoder) Varbinary() ([]byte, error) {
	start := d.off
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	if n == nullLength {
		return nil, nil
	}
	if n < 0 || int(n) > maxStringLength {
		d.off = start
		return nil, malformedf("varbinary length %d out of range at offset %d", n, start)
	}
	b, err := d.take(int(n))
	if err != nil {
		d.off = start
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Value reads one untagged value of the declared type, as laid out inside
// table rows and arrays. Null sentinels decode to nil.
func (d *Decoder) Value(t Type) (any, error) {
	switch t {
	case TypeTinyInt:
		v, err := d.Byte()
		if err != nil {
			return nil, err
		}
		if v == NullTinyInt {
			return nil, nil
		}
		return v, nil
	case TypeSmallInt:
		v, err := d.Short()
		if err != nil {
			return nil, err
		}
		if v == NullSmallInt {
			return nil, nil
		}
		return v, nil
	case TypeInteger:
		v, err := d.Int()
		if err != nil {
			return nil, err
		}
		if v == NullInteger {
			return nil, nil
		}
		return v, nil
	case TypeBigInt:
		v, err := d.Long()
		if err != nil {
			return nil, err
		}
		if v == NullBigInt {
			return nil, nil
		}
		return v, nil
	case TypeFloat:
		v, err := d.Float()
		if err != nil {
			return nil, err
		}
		if v == NullFloat {
			return nil, nil
		}
		return v, nil
	case TypeString:
		s, isNull, err := d.String()
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return s, nil
	case TypeVarbinary:
		b, err := d.Varbinary()
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, nil
		}
		return b, nil
	case TypeTimestamp:
		v, err := d.Long()
		if err != nil {
			return nil, err
		}
		if v == NullTimestamp {
			return nil, nil
		}
		return time.UnixMicro(v).UTC(), nil
	case TypeDecimal:
		b, err := d.take(16)
		if err != nil {
			return nil, err
		}
		var raw [16]byte
		copy(raw[:], b)
		if raw == nullDecimal {
			return nil, nil
		}
		return decimalFromBytes16(raw), nil
	case TypeTable:
		return DecodeTable(d)
	default:
		return nil, malformedf("unexpected value type %d at offset %d", int8(t), d.off)
	}
}

// TaggedValue reads a 1-byte type tag followed by the value. Arrays recurse
// through their element type.
func (d *Decoder) TaggedValue() (any, error) {
	start := d.off
	tag, err := d.Byte()
	if err != nil {
		return nil, err
	}

	t := Type(tag)
	switch t {
	case TypeNull:
		return nil, nil
	case TypeArray:
		v, err := d.array()
		if err != nil {
			d.off = start
			return nil, err
		}
		return v, nil
	default:
		v, err := d.Value(t)
		if err != nil {
			d.off = start
			return nil, err
		}
		return v, nil
	}
}

// array reads the array body: 1-byte element tag, 4-byte signed count
// (-1 for null), then untagged elements.
func (d *Decoder) array() (any, error) {
	et, err := d.Byte()
	if err != nil {
		return nil, err
	}
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	if n == nullLength {
		return nil, nil
	}
	if n < 0 || int(n) > d.Remaining() {
		return nil, malformedf("array count %d out of range at offset %d", n, d.off)
	}
	out := make([]any, n)
	for i := range out {
		v, err := d.Value(Type(et))
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
