// Package convert moves row data between the in-memory representation
// (ordered column maps), Arrow record batches, and the two on-disk formats
// (Parquet and Arrow IPC). Conversions between the formats are lossless:
// the row data read back from the target equals the source exactly.
package convert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Row is one table row, keyed by column name. Absent keys read as NULL.
type Row = map[string]any

// FieldIDMetaKey is the Arrow field metadata key carrying the stable column
// ID, so data files remain self-describing across renames.
const FieldIDMetaKey = "lakehouse.field-id"

// ArrowType maps a column type to its Arrow representation.
func ArrowType(t string) (arrow.DataType, error) {
	switch t {
	case catalog.TypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	case catalog.TypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case catalog.TypeString:
		return arrow.BinaryTypes.String, nil
	case catalog.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case catalog.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case catalog.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	}
	return nil, &lakeerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported column type %q", t)}
}

// ArrowSchema converts a table schema to an Arrow schema, stamping each
// field with its stable column ID.
func ArrowSchema(s catalog.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     dt,
			Nullable: !f.Required,
			Metadata: arrow.NewMetadata([]string{FieldIDMetaKey}, []string{strconv.Itoa(f.ID)}),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// BuildRecord materializes rows as an Arrow record batch in schema column
// order. Values are coerced leniently (JSON numbers arrive as float64) but a
// type mismatch or a NULL in a required column fails with a schema violation.
func BuildRecord(table string, s catalog.Schema, rows []Row) (arrow.RecordBatch, error) {
	as, err := ArrowSchema(s)
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, as)
	defer b.Release()

	for _, row := range rows {
		for i, f := range s.Fields {
			v, ok := row[f.Name]
			if !ok || v == nil {
				if f.Required {
					return nil, &lakeerr.SchemaViolationError{Table: table, Column: f.Name, Reason: "required column is null"}
				}
				b.Field(i).AppendNull()
				continue
			}
			if err := appendValue(b.Field(i), f, v); err != nil {
				return nil, &lakeerr.SchemaViolationError{Table: table, Column: f.Name, Reason: err.Error()}
			}
		}
	}
	return b.NewRecordBatch(), nil
}

func appendValue(fb array.Builder, f catalog.Field, v any) error {
	switch f.Type {
	case catalog.TypeLong:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		fb.(*array.Int64Builder).Append(n)
	case catalog.TypeDouble:
		n, err := toFloat64(v)
		if err != nil {
			return err
		}
		fb.(*array.Float64Builder).Append(n)
	case catalog.TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		fb.(*array.StringBuilder).Append(s)
	case catalog.TypeBoolean:
		bv, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		fb.(*array.BooleanBuilder).Append(bv)
	case catalog.TypeTimestamp:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		fb.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UnixMicro()))
	case catalog.TypeDate:
		t, err := toDate(v)
		if err != nil {
			return err
		}
		fb.(*array.Date32Builder).Append(arrow.Date32FromTime(t))
	default:
		return fmt.Errorf("unsupported column type %q", f.Type)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected integer, got fractional %v", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected double, got %T", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp: %v", err)
		}
		return parsed.UTC(), nil
	case int64:
		return time.UnixMicro(t).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
}

func toDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(24 * time.Hour), nil
	case string:
		parsed, err := time.Parse("2006-01-02", t)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected YYYY-MM-DD date: %v", err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("expected date, got %T", v)
}

// RecordRows converts a record batch back to rows. Timestamps come back as
// UTC time.Time, dates as midnight-UTC time.Time, NULLs as nil.
func RecordRows(rec arrow.RecordBatch) ([]Row, error) {
	n := int(rec.NumRows())
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{}
	}

	for c := 0; c < int(rec.NumCols()); c++ {
		name := rec.ColumnName(c)
		col := rec.Column(c)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				rows[i][name] = nil
				continue
			}
			v, err := columnValue(col, i)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			rows[i][name] = v
		}
	}
	return rows, nil
}

func columnValue(col arrow.Array, i int) (any, error) {
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Timestamp:
		return time.UnixMicro(int64(a.Value(i))).UTC(), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	}
	return nil, fmt.Errorf("unsupported arrow array type %T", col)
}
