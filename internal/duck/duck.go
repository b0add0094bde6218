// Package duck wraps the in-process DuckDB sessions shared by the mutation
// and query paths. Tables are exposed to SQL as temp views unioning per-file
// SELECTs; each file's columns are matched to the read schema by stable
// field ID, so files written before a rename or column add stay readable.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Quote escapes a SQL identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Literal escapes a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQLType maps a column type to its DuckDB type name.
func SQLType(t string) (string, error) {
	switch t {
	case catalog.TypeLong:
		return "BIGINT", nil
	case catalog.TypeDouble:
		return "DOUBLE", nil
	case catalog.TypeString:
		return "VARCHAR", nil
	case catalog.TypeBoolean:
		return "BOOLEAN", nil
	case catalog.TypeTimestamp:
		return "TIMESTAMP", nil
	case catalog.TypeDate:
		return "DATE", nil
	}
	return "", &lakeerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported column type %q", t)}
}

// ProbeArrowNative reports whether this process can load DuckDB's arrow
// extension. Called once at startup; when it fails, arrow files are read
// through the in-process bridge instead.
func ProbeArrowNative(ctx context.Context) bool {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return false
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "INSTALL arrow FROM community"); err != nil {
		return false
	}
	if _, err := db.ExecContext(ctx, "LOAD arrow"); err != nil {
		return false
	}
	return true
}

// FileRef points a session at one data file together with the schema the
// file was written under.
type FileRef struct {
	Path   string
	Format format.Format
	Schema catalog.Schema
}

// Session is one in-memory DuckDB connection.
type Session struct {
	db          *sql.DB
	arrowNative bool
	bridged     int // counter for bridge table names
}

// NewSession opens an in-memory session. arrowNative should carry the
// startup probe's result; when set, the arrow extension is loaded so arrow
// files can be scanned in place.
func NewSession(ctx context.Context, arrowNative bool) (*Session, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if arrowNative {
		if _, err := db.ExecContext(ctx, "INSTALL arrow FROM community"); err != nil {
			db.Close()
			return nil, fmt.Errorf("install arrow extension: %w", err)
		}
		if _, err := db.ExecContext(ctx, "LOAD arrow"); err != nil {
			db.Close()
			return nil, fmt.Errorf("load arrow extension: %w", err)
		}
	}
	return &Session{db: db, arrowNative: arrowNative}, nil
}

// DB exposes the underlying connection.
func (s *Session) DB() *sql.DB { return s.db }

// ArrowNative reports whether arrow files are scanned natively.
func (s *Session) ArrowNative() bool { return s.arrowNative }

func (s *Session) Close() error { return s.db.Close() }

// RegisterTable creates a temp view over the given files, projected to the
// read schema. Arrow files go through the bridge when the native extension
// is unavailable.
func (s *Session) RegisterTable(ctx context.Context, viewName string, readSchema catalog.Schema, files []FileRef) error {
	var selects []string
	for _, f := range files {
		src, err := s.fileSource(ctx, f)
		if err != nil {
			return err
		}
		sel, err := FileSelect(readSchema, f.Schema, src)
		if err != nil {
			return err
		}
		selects = append(selects, sel)
	}

	var body string
	if len(selects) == 0 {
		empty, err := emptySelect(readSchema)
		if err != nil {
			return err
		}
		body = empty
	} else {
		body = strings.Join(selects, " UNION ALL ")
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS %s", Quote(viewName), body)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("register table %s: %w", viewName, err)
	}
	return nil
}

// fileSource returns the FROM clause source for one data file, bridging
// arrow files through a materialized temp table when needed.
func (s *Session) fileSource(ctx context.Context, f FileRef) (string, error) {
	switch f.Format {
	case format.Arrow:
		if s.arrowNative {
			return fmt.Sprintf("read_arrow(%s)", Literal(f.Path)), nil
		}
		return s.bridgeArrowFile(ctx, f)
	default:
		return fmt.Sprintf("read_parquet(%s)", Literal(f.Path)), nil
	}
}

// bridgeArrowFile loads an arrow file through the in-process reader into a
// temp table and returns its name.
func (s *Session) bridgeArrowFile(ctx context.Context, f FileRef) (string, error) {
	rows, err := convert.ReadRows(ctx, f.Path, format.Arrow)
	if err != nil {
		return "", err
	}

	s.bridged++
	name := fmt.Sprintf("__bridge_%d", s.bridged)

	cols := make([]string, len(f.Schema.Fields))
	for i, fld := range f.Schema.Fields {
		t, err := SQLType(fld.Type)
		if err != nil {
			return "", err
		}
		cols[i] = Quote(fld.Name) + " " + t
	}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", Quote(name), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return "", fmt.Errorf("create bridge table: %w", err)
	}
	if err := s.insertRows(ctx, name, f.Schema, rows); err != nil {
		return "", err
	}
	return Quote(name), nil
}

// insertRows bulk-inserts rows in chunks of multi-row VALUES.
func (s *Session) insertRows(ctx context.Context, table string, schema catalog.Schema, rows []convert.Row) error {
	const chunk = 500

	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = Quote(f.Name)
	}
	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		batch := rows[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(names))
		for i, row := range batch {
			placeholders[i] = placeholderRow
			for _, f := range schema.Fields {
				args = append(args, row[f.Name])
			}
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			Quote(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
		if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("load bridge rows: %w", err)
		}
	}
	return nil
}

// FileSelect builds the SELECT projecting one file source to the read
// schema. Columns are matched by field ID: a column the file predates reads
// as a typed NULL, a renamed column reads under its current name.
func FileSelect(readSchema, fileSchema catalog.Schema, source string) (string, error) {
	exprs := make([]string, len(readSchema.Fields))
	for i, f := range readSchema.Fields {
		t, err := SQLType(f.Type)
		if err != nil {
			return "", err
		}
		if old, ok := fileSchema.FieldByID(f.ID); ok {
			if old.Name == f.Name {
				exprs[i] = Quote(f.Name)
			} else {
				exprs[i] = Quote(old.Name) + " AS " + Quote(f.Name)
			}
		} else {
			exprs[i] = "CAST(NULL AS " + t + ") AS " + Quote(f.Name)
		}
	}
	return "SELECT " + strings.Join(exprs, ", ") + " FROM " + source, nil
}

func emptySelect(schema catalog.Schema) (string, error) {
	exprs := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		t, err := SQLType(f.Type)
		if err != nil {
			return "", err
		}
		exprs[i] = "CAST(NULL AS " + t + ") AS " + Quote(f.Name)
	}
	return "SELECT " + strings.Join(exprs, ", ") + " WHERE 1=0", nil
}

// ScanRows drains a result set into ordered column names and generic rows.
func ScanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("result columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// ParseBoundInt converts a DuckDB scalar result to int64.
func ParseBoundInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected scalar type %T", v)
}
