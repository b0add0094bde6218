package convert

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

func testSchema() catalog.Schema {
	return catalog.Schema{Fields: []catalog.Field{
		{ID: 1, Name: "id", Type: catalog.TypeLong, Required: true},
		{ID: 2, Name: "name", Type: catalog.TypeString},
		{ID: 3, Name: "score", Type: catalog.TypeDouble},
		{ID: 4, Name: "active", Type: catalog.TypeBoolean},
		{ID: 5, Name: "seen_at", Type: catalog.TypeTimestamp},
		{ID: 6, Name: "day", Type: catalog.TypeDate},
	}}
}

func testRows() []Row {
	return []Row{
		{
			"id": int64(1), "name": "alpha", "score": 1.5, "active": true,
			"seen_at": time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
			"day":     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"id": int64(2), "name": nil, "score": nil, "active": false,
			"seen_at": nil,
			"day":     nil,
		},
	}
}

func writeTestFile(t *testing.T, f format.Format, compact bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "part-0"+f.Ext())
	if _, err := WriteRows("t", path, f, testSchema(), testRows(), compact); err != nil {
		t.Fatalf("WriteRows(%s): %v", f, err)
	}
	return path
}

func TestRoundtripBothFormats(t *testing.T) {
	for _, f := range []format.Format{format.Parquet, format.Arrow} {
		t.Run(f.String(), func(t *testing.T) {
			path := writeTestFile(t, f, false)
			got, err := ReadRows(context.Background(), path, f)
			if err != nil {
				t.Fatalf("ReadRows: %v", err)
			}
			want := testRows()
			if len(got) != len(want) {
				t.Fatalf("got %d rows, want %d", len(got), len(want))
			}
			for i := range want {
				for col, wv := range want[i] {
					if !reflect.DeepEqual(got[i][col], wv) {
						t.Errorf("row %d col %s = %#v, want %#v", i, col, got[i][col], wv)
					}
				}
			}
		})
	}
}

func TestConvertFileLossless(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		from   format.Format
		target format.Format
	}{
		{"parquet to arrow", format.Parquet, format.Arrow},
		{"arrow to parquet", format.Arrow, format.Parquet},
		{"parquet recompress", format.Parquet, format.Parquet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := writeTestFile(t, tc.from, false)
			dst := filepath.Join(t.TempDir(), "out"+tc.target.Ext())

			res, err := ConvertFile(ctx, src, dst, tc.target, true)
			if err != nil {
				t.Fatalf("ConvertFile: %v", err)
			}
			if res.Rows != 2 {
				t.Errorf("Rows = %d, want 2", res.Rows)
			}
			if res.InputSize <= 0 || res.OutputSize <= 0 {
				t.Errorf("sizes not reported: %+v", res)
			}

			got, err := ReadRows(ctx, dst, tc.target)
			if err != nil {
				t.Fatalf("read converted file: %v", err)
			}
			want := testRows()
			for i := range want {
				for col, wv := range want[i] {
					if !reflect.DeepEqual(got[i][col], wv) {
						t.Errorf("row %d col %s = %#v, want %#v", i, col, got[i][col], wv)
					}
				}
			}
		})
	}
}

func TestBuildRecordCoercion(t *testing.T) {
	s := catalog.Schema{Fields: []catalog.Field{
		{ID: 1, Name: "n", Type: catalog.TypeLong},
		{ID: 2, Name: "x", Type: catalog.TypeDouble},
		{ID: 3, Name: "ts", Type: catalog.TypeTimestamp},
		{ID: 4, Name: "d", Type: catalog.TypeDate},
	}}
	// JSON decoding hands over float64 numbers and string timestamps.
	rec, err := BuildRecord("t", s, []Row{{
		"n": float64(7), "x": 3, "ts": "2026-03-01T12:30:00Z", "d": "2026-03-01",
	}})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	defer rec.Release()

	rows, err := RecordRows(rec)
	if err != nil {
		t.Fatalf("RecordRows: %v", err)
	}
	if rows[0]["n"] != int64(7) {
		t.Errorf("n = %#v, want int64(7)", rows[0]["n"])
	}
	if rows[0]["x"] != float64(3) {
		t.Errorf("x = %#v, want 3.0", rows[0]["x"])
	}
	if ts := rows[0]["ts"].(time.Time); !ts.Equal(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", ts)
	}
}

func TestBuildRecordViolations(t *testing.T) {
	s := catalog.Schema{Fields: []catalog.Field{
		{ID: 1, Name: "id", Type: catalog.TypeLong, Required: true},
		{ID: 2, Name: "name", Type: catalog.TypeString},
	}}

	if _, err := BuildRecord("t", s, []Row{{"name": "x"}}); !lakeerr.IsSchemaViolation(err) {
		t.Errorf("missing required: got %v, want SchemaViolationError", err)
	}
	if _, err := BuildRecord("t", s, []Row{{"id": int64(1), "name": 42}}); !lakeerr.IsSchemaViolation(err) {
		t.Errorf("wrong type: got %v, want SchemaViolationError", err)
	}
	if _, err := BuildRecord("t", s, []Row{{"id": 1.5}}); !lakeerr.IsSchemaViolation(err) {
		t.Errorf("fractional long: got %v, want SchemaViolationError", err)
	}
}

func TestDetectFormat(t *testing.T) {
	p := writeTestFile(t, format.Parquet, false)
	a := writeTestFile(t, format.Arrow, false)

	if f, err := DetectFormat(p); err != nil || f != format.Parquet {
		t.Errorf("parquet: got %v/%v", f, err)
	}
	if f, err := DetectFormat(a); err != nil || f != format.Arrow {
		t.Errorf("arrow: got %v/%v", f, err)
	}
}

func TestInspect(t *testing.T) {
	path := writeTestFile(t, format.Parquet, true)
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Format != "parquet" || info.Rows != 2 {
		t.Errorf("info = %+v, want parquet with 2 rows", info)
	}
	if len(info.Columns) != 6 {
		t.Errorf("columns = %d, want 6", len(info.Columns))
	}
	if info.Compression != "zstd" {
		t.Errorf("compression = %q, want zstd", info.Compression)
	}

	arrowInfo, err := Inspect(writeTestFile(t, format.Arrow, false))
	if err != nil {
		t.Fatalf("Inspect arrow: %v", err)
	}
	if arrowInfo.Format != "arrow" || arrowInfo.Rows != 2 {
		t.Errorf("arrow info = %+v", arrowInfo)
	}
}

func TestWriteEmptyRows(t *testing.T) {
	for _, f := range []format.Format{format.Parquet, format.Arrow} {
		path := filepath.Join(t.TempDir(), "empty"+f.Ext())
		if _, err := WriteRows("t", path, f, testSchema(), nil, false); err != nil {
			t.Fatalf("WriteRows empty (%s): %v", f, err)
		}
		rows, err := ReadRows(context.Background(), path, f)
		if err != nil {
			t.Fatalf("ReadRows empty (%s): %v", f, err)
		}
		if len(rows) != 0 {
			t.Errorf("empty file read back %d rows", len(rows))
		}
	}
}
