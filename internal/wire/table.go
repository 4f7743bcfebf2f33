package wire

import (
	"bytes"
	"fmt"
	"strings"
)

// maxColumnCount bounds the number of columns a decoded table may declare.
// Protects against corrupt metadata causing huge allocations.
const maxColumnCount = 16384

// Column is one column of a result table's schema.
type Column struct {
	Name string
	Type Type
}

// Table is a decoded result table: schema, rows, and the per-table status
// byte pair the server attaches. Immutable once decoded; ownership passes
// to the caller with no retained reference.
type Table struct {
	Status  int16
	Columns []Column
	Rows    [][]any
}

// RowCount reports the number of rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// ColumnIndex returns the index of the named column, or -1. Matching is
// case-insensitive since the server reports column names in upper case.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, column index). Nulls are nil.
func (t *Table) Value(row, col int) any {
	return t.Rows[row][col]
}

// DecodeTable reads one table at the decoder's cursor.
//
// Layout:
//
//	4 bytes  : total length (everything after this field)
//	4 bytes  : metadata length (status through column names)
//	2 bytes  : status
//	4 bytes  : column count
//	N bytes  : per-column 1-byte type tag
//	N items  : per-column length-prefixed UTF-8 name
//	4 bytes  : row count
//	per row  : 4-byte row length, then schema-ordered untagged values
func DecodeTable(d *Decoder) (*Table, error) {
	start := d.off
	t, err := decodeTable(d)
	if err != nil {
		d.off = start
		return nil, err
	}
	return t, nil
}

func decodeTable(d *Decoder) (*Table, error) {
	total, err := d.Int()
	if err != nil {
		return nil, err
	}
	if total < 0 || int(total) > d.Remaining() {
		return nil, malformedf("table length %d out of range at offset %d", total, d.off)
	}
	end := d.off + int(total)

	metaLen, err := d.Int()
	if err != nil {
		return nil, err
	}
	if metaLen < 0 || d.off+int(metaLen) > end {
		return nil, malformedf("table metadata length %d out of range", metaLen)
	}
	metaEnd := d.off + int(metaLen)

	status, err := d.Short()
	if err != nil {
		return nil, err
	}
	colCount, err := d.Int()
	if err != nil {
		return nil, err
	}
	if colCount < 0 || colCount > maxColumnCount {
		return nil, malformedf("table column count %d out of range", colCount)
	}

	cols := make([]Column, colCount)
	for i := range cols {
		tag, err := d.Byte()
		if err != nil {
			return nil, err
		}
		cols[i].Type = Type(tag)
	}
	for i := range cols {
		name, isNull, err := d.String()
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, malformedf("table column %d has null name", i)
		}
		cols[i].Name = name
	}
	if d.off != metaEnd {
		return nil, malformedf("table metadata length %d does not match content", metaLen)
	}

	rowCount, err := d.Int()
	if err != nil {
		return nil, err
	}
	if rowCount < 0 {
		return nil, malformedf("table row count %d negative", rowCount)
	}

	rows := make([][]any, 0, rowCount)
	for r := int32(0); r < rowCount; r++ {
		rowLen, err := d.Int()
		if err != nil {
			return nil, err
		}
		if rowLen < 0 || d.off+int(rowLen) > end {
			return nil, malformedf("table row %d length %d out of range", r, rowLen)
		}
		rowEnd := d.off + int(rowLen)

		row := make([]any, colCount)
		for c := range row {
			v, err := d.Value(cols[c].Type)
			if err != nil {
				return nil, fmt.Errorf("table row %d column %d: %w", r, c, err)
			}
			row[c] = v
		}
		if d.off != rowEnd {
			return nil, malformedf("table row %d length %d does not match content", r, rowLen)
		}
		rows = append(rows, row)
	}

	if d.off != end {
		return nil, malformedf("table length %d does not match content", total)
	}
	return &Table{Status: status, Columns: cols, Rows: rows}, nil
}

// EncodeTable writes a table in the layout DecodeTable reads. On error the
// buffer is restored to its pre-call length.
func EncodeTable(buf *bytes.Buffer, t *Table) error {
	mark := buf.Len()
	if err := encodeTable(buf, t); err != nil {
		buf.Truncate(mark)
		return err
	}
	return nil
}

func encodeTable(buf *bytes.Buffer, t *Table) error {
	var meta bytes.Buffer
	AppendShort(&meta, t.Status)
	AppendInt(&meta, int32(len(t.Columns)))
	for _, c := range t.Columns {
		AppendByte(&meta, int8(c.Type))
	}
	for _, c := range t.Columns {
		if err := AppendString(&meta, c.Name); err != nil {
			return fmt.Errorf("column %q: %w", c.Name, err)
		}
	}

	var body bytes.Buffer
	AppendInt(&body, int32(len(t.Rows)))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", r, len(row), len(t.Columns))
		}
		var rowBuf bytes.Buffer
		for c, v := range row {
			if err := encodeScalar(&rowBuf, t.Columns[c].Type, v); err != nil {
				return fmt.Errorf("row %d column %d: %w", r, c, err)
			}
		}
		AppendInt(&body, int32(rowBuf.Len()))
		body.Write(rowBuf.Bytes())
	}

	// total covers the metadata-length field, the metadata, and the rows.
	AppendInt(buf, int32(4+meta.Len()+body.Len()))
	AppendInt(buf, int32(meta.Len()))
	buf.Write(meta.Bytes())
	buf.Write(body.Bytes())
	return nil
}
