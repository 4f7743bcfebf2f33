package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	dec, err := NewDecimal("10.500000000000")
	require.NoError(t, err)
	return &Table{
		Status: 1,
		Columns: []Column{
			{Name: "ID", Type: TypeBigInt},
			{Name: "NAME", Type: TypeString},
			{Name: "BALANCE", Type: TypeDecimal},
			{Name: "UPDATED", Type: TypeTimestamp},
		},
		Rows: [][]any{
			{int64(1), "alice", dec, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
			{int64(2), nil, nil, nil},
		},
	}
}

func TestTableRoundTrip(t *testing.T) {
	want := sampleTable(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeTable(&buf, want))

	d := NewDecoder(buf.Bytes())
	got, err := DecodeTable(d)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining())

	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Columns, got.Columns)
	require.Equal(t, 2, got.RowCount())
	assert.Equal(t, int64(1), got.Value(0, 0))
	assert.Equal(t, "alice", got.Value(0, 1))
	assert.Zero(t, want.Rows[0][2].(*Decimal).Cmp(got.Value(0, 2).(*Decimal)))
	assert.Equal(t, want.Rows[0][3], got.Value(0, 3))
	for c := 1; c < 4; c++ {
		assert.Nil(t, got.Value(1, c), "nulls must survive the round trip")
	}
}

func TestTableColumnIndex(t *testing.T) {
	tbl := sampleTable(t)
	assert.Equal(t, 1, tbl.ColumnIndex("NAME"))
	assert.Equal(t, 1, tbl.ColumnIndex("name"), "lookup is case-insensitive")
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))
}

func TestTableEmpty(t *testing.T) {
	want := &Table{
		Status:  0,
		Columns: []Column{{Name: "N", Type: TypeInteger}},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeTable(&buf, want))

	d := NewDecoder(buf.Bytes())
	got, err := DecodeTable(d)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RowCount())
	assert.Equal(t, want.Columns, got.Columns)
}

func TestTableDecodeRejectsCorruptMetadata(t *testing.T) {
	tbl := sampleTable(t)
	var buf bytes.Buffer
	require.NoError(t, EncodeTable(&buf, tbl))
	raw := buf.Bytes()

	t.Run("TotalLengthBeyondBuffer", func(t *testing.T) {
		bad := append([]byte(nil), raw...)
		bad[0], bad[1], bad[2], bad[3] = 0x7f, 0xff, 0xff, 0xff

		d := NewDecoder(bad)
		_, err := DecodeTable(d)
		require.ErrorIs(t, err, ErrMalformed)
		assert.Equal(t, 0, d.Offset(), "failed decode must not advance past the table start")
	})

	t.Run("NegativeColumnCount", func(t *testing.T) {
		bad := append([]byte(nil), raw...)
		// Column count sits after total(4) + metaLen(4) + status(2).
		bad[10], bad[11], bad[12], bad[13] = 0xff, 0xff, 0xff, 0xff

		d := NewDecoder(bad)
		_, err := DecodeTable(d)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("RowShorterThanDeclared", func(t *testing.T) {
		bad := append([]byte(nil), raw...)
		bad = bad[:len(bad)-4]
		// Shrink the total length to match the truncation so the row
		// content check is what trips.
		total := int32(len(bad) - 4)
		bad[0] = byte(total >> 24)
		bad[1] = byte(total >> 16)
		bad[2] = byte(total >> 8)
		bad[3] = byte(total)

		d := NewDecoder(bad)
		_, err := DecodeTable(d)
		require.Error(t, err)
	})
}

func TestTableEncodeRowArityMismatch(t *testing.T) {
	tbl := &Table{
		Columns: []Column{{Name: "A", Type: TypeInteger}},
		Rows:    [][]any{{int32(1), int32(2)}},
	}
	var buf bytes.Buffer
	err := EncodeTable(&buf, tbl)
	require.Error(t, err)
	assert.Equal(t, 0, buf.Len(), "failed encode must not write any byte")
}
