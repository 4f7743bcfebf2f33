package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// maxStringLength bounds string and varbinary values to 1MB, the server-side
// column limit. Oversized values fail encode before any byte is written.
const maxStringLength = 1 << 20

// AppendByte writes a 1-byte signed integer.
func AppendByte(buf *bytes.Buffer, v int8) {
	buf.WriteByte(byte(v))
}

// AppendShort writes a 2-byte big-endian signed integer.
func AppendShort(buf *bytes.Buffer, v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	buf.Write(b[:])
}

// AppendInt writes a 4-byte big-endian signed integer.
func AppendInt(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

// AppendLong writes an 8-byte big-endian signed integer.
func AppendLong(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

// AppendFloat writes an IEEE-754 64-bit float in big-endian byte order.
func AppendFloat(buf *bytes.Buffer, v float64) {
	AppendLong(buf, int64(math.Float64bits(v)))
}

// AppendString writes a 4-byte signed length followed by the UTF-8 bytes.
func AppendString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringLength {
		return fmt.Errorf("string length %d exceeds maximum %d", len(s), maxStringLength)
	}
	AppendInt(buf, int32(len(s)))
	buf.WriteString(s)
	return nil
}

// AppendNullString writes the null string sentinel (length -1).
func AppendNullString(buf *bytes.Buffer) {
	AppendInt(buf, nullLength)
}

// AppendVarbinary writes a 4-byte signed length followed by the raw bytes.
// A nil slice encodes the null sentinel.
func AppendVarbinary(buf *bytes.Buffer, b []byte) error {
	if b == nil {
		AppendInt(buf, nullLength)
		return nil
	}
	if len(b) > maxStringLength {
		return fmt.Errorf("varbinary length %d exceeds maximum %d", len(b), maxStringLength)
	}
	AppendInt(buf, int32(len(b)))
	buf.Write(b)
	return nil
}

// AppendTimestamp writes microseconds since the Unix epoch as an 8-byte
// big-endian signed integer.
func AppendTimestamp(buf *bytes.Buffer, t time.Time) {
	AppendLong(buf, t.UnixMicro())
}

// AppendNullTimestamp writes the null timestamp sentinel.
func AppendNullTimestamp(buf *bytes.Buffer) {
	AppendLong(buf, NullTimestamp)
}

// AppendDecimal writes the 16-byte two's-complement big-endian scaled value.
// A nil decimal encodes the null sentinel.
func AppendDecimal(buf *bytes.Buffer, d *Decimal) error {
	if d == nil {
		buf.Write(nullDecimal[:])
		return nil
	}
	raw, ok := d.bytes16()
	if !ok {
		return fmt.Errorf("decimal %s exceeds wire precision", d)
	}
	buf.Write(raw[:])
	return nil
}

// TypeOf maps a Go parameter value to its wire type tag. Slices other than
// []byte map to TypeArray; the element tag is resolved by elementTypeOf.
func TypeOf(v any) (Type, error) {
	switch v.(type) {
	case nil:
		return TypeNull, nil
	case int8:
		return TypeTinyInt, nil
	case int16:
		return TypeSmallInt, nil
	case int32:
		return TypeInteger, nil
	case int64, int:
		return TypeBigInt, nil
	case float64:
		return TypeFloat, nil
	case string:
		return TypeString, nil
	case []byte:
		return TypeVarbinary, nil
	case time.Time:
		return TypeTimestamp, nil
	case *Decimal:
		return TypeDecimal, nil
	case *Table:
		return TypeTable, nil
	case []int8, []int16, []int32, []int64, []int, []float64, []string, [][]byte, []time.Time, []*Decimal:
		return TypeArray, nil
	default:
		return TypeNull, fmt.Errorf("unsupported parameter type %T", v)
	}
}

func elementTypeOf(v any) Type {
	switch v.(type) {
	case []int8:
		return TypeTinyInt
	case []int16:
		return TypeSmallInt
	case []int32:
		return TypeInteger
	case []int64, []int:
		return TypeBigInt
	case []float64:
		return TypeFloat
	case []string:
		return TypeString
	case [][]byte:
		return TypeVarbinary
	case []time.Time:
		return TypeTimestamp
	case []*Decimal:
		return TypeDecimal
	default:
		return TypeNull
	}
}

// EncodeParam writes one tagged parameter: a 1-byte type tag followed by the
// value. On error the buffer is restored to its pre-call length, so a failed
// encode never leaves a partial value behind.
func EncodeParam(buf *bytes.Buffer, v any) error {
	mark := buf.Len()
	if err := encodeParam(buf, v); err != nil {
		buf.Truncate(mark)
		return err
	}
	return nil
}

func encodeParam(buf *bytes.Buffer, v any) error {
	t, err := TypeOf(v)
	if err != nil {
		return err
	}
	AppendByte(buf, int8(t))

	switch t {
	case TypeNull:
		return nil
	case TypeArray:
		return encodeArray(buf, v)
	default:
		return encodeScalar(buf, t, v)
	}
}

// encodeArray writes the array body: a 1-byte element tag, a 4-byte signed
// element count (-1 for a nil slice), then each element without a tag.
func encodeArray(buf *bytes.Buffer, v any) error {
	et := elementTypeOf(v)
	AppendByte(buf, int8(et))

	elems := arrayElements(v)
	if elems == nil {
		AppendInt(buf, nullLength)
		return nil
	}
	AppendInt(buf, int32(len(elems)))
	for i, e := range elems {
		if err := encodeScalar(buf, et, e); err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	return nil
}

// arrayElements flattens a typed slice into element values, preserving nil
// slices (null arrays) as a nil result.
func arrayElements(v any) []any {
	box := func(n int, at func(int) any) []any {
		out := make([]any, n)
		for i := range out {
			out[i] = at(i)
		}
		return out
	}
	switch s := v.(type) {
	case []int8:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []int16:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []int32:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []int64:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []int:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []float64:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []string:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case [][]byte:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []time.Time:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	case []*Decimal:
		if s == nil {
			return nil
		}
		return box(len(s), func(i int) any { return s[i] })
	default:
		return nil
	}
}

// encodeScalar writes an untagged value of a declared type. A nil value
// writes the type's null sentinel. This is the row-value encoding used
// inside tables and arrays.
func encodeScalar(buf *bytes.Buffer, t Type, v any) error {
	if v == nil {
		return encodeNull(buf, t)
	}

	switch t {
	case TypeTinyInt:
		n, ok := v.(int8)
		if !ok {
			return typeMismatch(t, v)
		}
		AppendByte(buf, n)
	case TypeSmallInt:
		n, ok := v.(int16)
		if !ok {
			return typeMismatch(t, v)
		}
		AppendShort(buf, n)
	case TypeInteger:
		n, ok := v.(int32)
		if !ok {
			return typeMismatch(t, v)
		}
		AppendInt(buf, n)
	case TypeBigInt:
		switch n := v.(type) {
		case int64:
			AppendLong(buf, n)
		case int:
			AppendLong(buf, int64(n))
		default:
			return typeMismatch(t, v)
		}
	case TypeFloat:
		f, ok := v.(float64)
		if !ok {
			return typeMismatch(t, v)
		}
		AppendFloat(buf, f)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return typeMismatch(t, v)
		}
		return AppendString(buf, s)
	case TypeVarbinary:
		b, ok := v.([]byte)
		if !ok {
			return typeMismatch(t, v)
		}
		return AppendVarbinary(buf, b)
	case TypeTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return typeMismatch(t, v)
		}
		AppendTimestamp(buf, ts)
	case TypeDecimal:
		d, ok := v.(*Decimal)
		if !ok {
			return typeMismatch(t, v)
		}
		return AppendDecimal(buf, d)
	case TypeTable:
		tb, ok := v.(*Table)
		if !ok {
			return typeMismatch(t, v)
		}
		return EncodeTable(buf, tb)
	default:
		return fmt.Errorf("type %s cannot appear as a value", t)
	}
	return nil
}

// encodeNull writes the null sentinel for a declared type.
func encodeNull(buf *bytes.Buffer, t Type) error {
	switch t {
	case TypeTinyInt:
		AppendByte(buf, NullTinyInt)
	case TypeSmallInt:
		AppendShort(buf, NullSmallInt)
	case TypeInteger:
		AppendInt(buf, NullInteger)
	case TypeBigInt:
		AppendLong(buf, NullBigInt)
	case TypeFloat:
		AppendFloat(buf, NullFloat)
	case TypeString:
		AppendNullString(buf)
	case TypeVarbinary:
		AppendInt(buf, nullLength)
	case TypeTimestamp:
		AppendNullTimestamp(buf)
	case TypeDecimal:
		return AppendDecimal(buf, nil)
	default:
		return fmt.Errorf("type %s has no null representation", t)
	}
	return nil
}

func typeMismatch(t Type, v any) error {
	return fmt.Errorf("value of type %T cannot encode as %s", v, t)
}
