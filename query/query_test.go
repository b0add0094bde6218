package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
	"github.com/jpequegn/iceberg-lakehouse/mutate"
)

func setup(t *testing.T) (*Engine, *catalog.Catalog, *mutate.Engine) {
	t.Helper()
	cat := catalog.New(t.TempDir())
	schema := catalog.Schema{Fields: []catalog.Field{
		{Name: "id", Type: catalog.TypeLong, Required: true},
		{Name: "name", Type: catalog.TypeString},
		{Name: "score", Type: catalog.TypeDouble},
	}}
	if _, err := cat.CreateTable(context.Background(), "events", schema, nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return New(cat), cat, mutate.New(cat, nil)
}

func insertSample(t *testing.T, m *mutate.Engine, opts mutate.WriteOptions) {
	t.Helper()
	rows := []convert.Row{
		{"id": int64(1), "name": "a", "score": 1.0},
		{"id": int64(2), "name": "b", "score": 2.0},
		{"id": int64(3), "name": "c", "score": 3.0},
	}
	if _, err := m.Insert(context.Background(), "events", rows, opts); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestExecute(t *testing.T) {
	q, _, m := setup(t)
	ctx := context.Background()
	insertSample(t, m, mutate.WriteOptions{})

	rs, err := q.Execute(ctx, `SELECT count(*) AS c, CAST(max("score") AS DOUBLE) AS top FROM events`, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rs.Rows))
	}
	if rs.Rows[0]["c"] != int64(3) {
		t.Errorf("c = %#v, want 3", rs.Rows[0]["c"])
	}
	if rs.Rows[0]["top"] != 3.0 {
		t.Errorf("top = %#v, want 3.0", rs.Rows[0]["top"])
	}
	if len(rs.Columns) != 2 || rs.Columns[0] != "c" {
		t.Errorf("columns = %v", rs.Columns)
	}
	if rs.Snapshots["events"] == 0 {
		t.Error("result does not record the snapshot served")
	}
}

func TestExecuteEmptyTable(t *testing.T) {
	q, _, _ := setup(t)
	rs, err := q.Execute(context.Background(), `SELECT * FROM events`, nil)
	if err != nil {
		t.Fatalf("Execute on empty table: %v", err)
	}
	if len(rs.Rows) != 0 {
		t.Errorf("empty table returned %d rows", len(rs.Rows))
	}
}

func TestExecuteErrors(t *testing.T) {
	q, _, _ := setup(t)
	ctx := context.Background()

	if _, err := q.Execute(ctx, "  ", nil); !lakeerr.IsValidation(err) {
		t.Errorf("blank sql: got %v, want ValidationError", err)
	}
	if _, err := q.Execute(ctx, "SELECT * FROM nosuch", nil); !lakeerr.IsQuery(err) {
		t.Errorf("unknown relation: got %v, want QueryError", err)
	}
	if _, err := q.Execute(ctx, "SELECT * FROM events", []Binding{{Table: "missing"}}); !lakeerr.IsNotFound(err) {
		t.Errorf("missing bound table: got %v, want NotFoundError", err)
	}
}

func TestAsOfSnapshotID(t *testing.T) {
	q, cat, m := setup(t)
	ctx := context.Background()
	insertSample(t, m, mutate.WriteOptions{})

	meta, err := cat.LoadTable(ctx, "events")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	firstSnap := meta.CurrentSnapshot

	if _, err := m.Insert(ctx, "events", []convert.Row{{"id": int64(4), "name": "d", "score": 4.0}}, mutate.WriteOptions{}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	rs, err := q.Execute(ctx, `SELECT count(*) AS c FROM events`, []Binding{{Table: "events", AsOfSnapshotID: firstSnap}})
	if err != nil {
		t.Fatalf("as-of query: %v", err)
	}
	if rs.Rows[0]["c"] != int64(3) {
		t.Errorf("as-of count = %#v, want 3", rs.Rows[0]["c"])
	}
	if rs.Snapshots["events"] != firstSnap {
		t.Errorf("served snapshot %d, want %d", rs.Snapshots["events"], firstSnap)
	}

	cur, err := q.Execute(ctx, `SELECT count(*) AS c FROM events`, nil)
	if err != nil {
		t.Fatalf("current query: %v", err)
	}
	if cur.Rows[0]["c"] != int64(4) {
		t.Errorf("current count = %#v, want 4", cur.Rows[0]["c"])
	}
}

func TestAsOfTime(t *testing.T) {
	q, _, m := setup(t)
	ctx := context.Background()
	insertSample(t, m, mutate.WriteOptions{})

	time.Sleep(20 * time.Millisecond)
	cut := time.Now()
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Insert(ctx, "events", []convert.Row{{"id": int64(4), "name": "d", "score": 4.0}}, mutate.WriteOptions{}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	rs, err := q.Execute(ctx, `SELECT count(*) AS c FROM events`, []Binding{{Table: "events", AsOfTime: cut}})
	if err != nil {
		t.Fatalf("as-of-time query: %v", err)
	}
	if rs.Rows[0]["c"] != int64(3) {
		t.Errorf("as-of-time count = %#v, want 3", rs.Rows[0]["c"])
	}

	// Before the table existed: nothing to serve.
	if _, err := q.Execute(ctx, `SELECT 1`, []Binding{{Table: "events", AsOfTime: cut.Add(-time.Hour)}}); !lakeerr.IsNotFound(err) {
		t.Errorf("pre-creation as-of: got %v, want NotFoundError", err)
	}
}

func TestAsOfValidation(t *testing.T) {
	q, _, _ := setup(t)
	ctx := context.Background()

	b := Binding{Table: "events", AsOfSnapshotID: 7, AsOfTime: time.Now()}
	if _, err := q.Execute(ctx, "SELECT 1", []Binding{b}); !lakeerr.IsValidation(err) {
		t.Errorf("both as-of fields: got %v, want ValidationError", err)
	}
	if _, err := q.Execute(ctx, "SELECT 1", []Binding{{Table: "events", AsOfSnapshotID: 424242}}); !lakeerr.IsNotFound(err) {
		t.Errorf("unknown snapshot: got %v, want NotFoundError", err)
	}
}

func TestBridgeReaderMatchesNativeShape(t *testing.T) {
	// Force the bridge path; the arrow files must still read correctly.
	cat := catalog.New(t.TempDir())
	schema := catalog.Schema{Fields: []catalog.Field{
		{Name: "id", Type: catalog.TypeLong, Required: true},
		{Name: "name", Type: catalog.TypeString},
	}}
	if _, err := cat.CreateTable(context.Background(), "events", schema, nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	m := mutate.New(cat, nil)
	q := New(cat, WithArrowNative(false))
	ctx := context.Background()

	rows := []convert.Row{
		{"id": int64(1), "name": "a"},
		{"id": int64(2), "name": nil},
	}
	if _, err := m.Insert(ctx, "events", rows, mutate.WriteOptions{Format: "arrow"}); err != nil {
		t.Fatalf("Insert arrow: %v", err)
	}

	rs, err := q.Execute(ctx, `SELECT "id", "name" FROM events ORDER BY "id"`, nil)
	if err != nil {
		t.Fatalf("bridge query: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rs.Rows))
	}
	if rs.Rows[0]["name"] != "a" || rs.Rows[1]["name"] != nil {
		t.Errorf("rows = %v", rs.Rows)
	}
	if q.ArrowNative(ctx) {
		t.Error("engine reports native despite forced bridge")
	}
}

func TestQueryAcrossSchemaEvolution(t *testing.T) {
	q, cat, m := setup(t)
	ctx := context.Background()
	insertSample(t, m, mutate.WriteOptions{})

	if _, err := cat.AlterSchema(ctx, "events", catalog.SchemaOp{Op: catalog.SchemaOpRenameColumn, Column: "name", NewName: "label"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := cat.AlterSchema(ctx, "events", catalog.SchemaOp{Op: catalog.SchemaOpAddColumn, Column: "region", Type: catalog.TypeString}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Files written before the evolution answer to the new column names;
	// the added column reads as NULL.
	rs, err := q.Execute(ctx, `SELECT "label", "region" FROM events ORDER BY "id"`, nil)
	if err != nil {
		t.Fatalf("query after evolution: %v", err)
	}
	if rs.Rows[0]["label"] != "a" {
		t.Errorf("label = %#v, want a", rs.Rows[0]["label"])
	}
	if rs.Rows[0]["region"] != nil {
		t.Errorf("region = %#v, want NULL", rs.Rows[0]["region"])
	}
}

func TestQueryExternal(t *testing.T) {
	q, _, _ := setup(t)
	ctx := context.Background()

	schema := catalog.Schema{Fields: []catalog.Field{
		{ID: 1, Name: "x", Type: catalog.TypeLong},
	}}
	path := filepath.Join(t.TempDir(), "ext.parquet")
	rows := []convert.Row{{"x": int64(10)}, {"x": int64(20)}}
	if _, err := convert.WriteRows("ext", path, format.Parquet, schema, rows, false); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}

	rs, err := q.QueryExternal(ctx, `SELECT count(*) AS c FROM data`, path, "")
	if err != nil {
		t.Fatalf("QueryExternal: %v", err)
	}
	if rs.Rows[0]["c"] != int64(2) {
		t.Errorf("c = %#v, want 2", rs.Rows[0]["c"])
	}
}

func TestRegisterExternal(t *testing.T) {
	q, _, m := setup(t)
	ctx := context.Background()
	insertSample(t, m, mutate.WriteOptions{})

	schema := catalog.Schema{Fields: []catalog.Field{
		{ID: 1, Name: "id", Type: catalog.TypeLong},
		{ID: 2, Name: "bonus", Type: catalog.TypeDouble},
	}}
	path := filepath.Join(t.TempDir(), "bonus.parquet")
	rows := []convert.Row{{"id": int64(1), "bonus": 0.5}}
	if _, err := convert.WriteRows("bonus", path, format.Parquet, schema, rows, false); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}

	if err := q.RegisterExternal("bonus", path, format.Parquet); err != nil {
		t.Fatalf("RegisterExternal: %v", err)
	}

	// Externals join against catalog tables in the same query.
	rs, err := q.Execute(ctx, `
		SELECT e."name", b."bonus"
		FROM events e JOIN bonus b ON e."id" = b."id"
	`, nil)
	if err != nil {
		t.Fatalf("join query: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0]["bonus"] != 0.5 {
		t.Errorf("rows = %v", rs.Rows)
	}

	q.UnregisterExternal("bonus")
	if _, err := q.Execute(ctx, `SELECT * FROM bonus`, nil); !lakeerr.IsQuery(err) {
		t.Errorf("after unregister: got %v, want QueryError", err)
	}
}
