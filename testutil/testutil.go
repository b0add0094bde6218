// Package testutil provides test helpers importable from any package.
package testutil

import (
	"context"
	"fmt"
	"testing"

	lakehouse "github.com/jpequegn/iceberg-lakehouse"
	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/mutate"
)

// OpenTestLakehouse opens a lakehouse over a fresh temp warehouse with the
// bridge arrow reader forced, so tests never depend on the DuckDB community
// extension being installable.
func OpenTestLakehouse(t *testing.T) *lakehouse.Lakehouse {
	t.Helper()
	lh, err := lakehouse.Open(context.Background(), t.TempDir(), lakehouse.WithArrowNative(false))
	if err != nil {
		t.Fatalf("open test lakehouse: %v", err)
	}
	return lh
}

// SampleSchema returns a small schema covering the common column types.
func SampleSchema() catalog.Schema {
	return catalog.Schema{
		Fields: []catalog.Field{
			{Name: "id", Type: catalog.TypeLong, Required: true},
			{Name: "name", Type: catalog.TypeString},
			{Name: "score", Type: catalog.TypeDouble},
			{Name: "active", Type: catalog.TypeBoolean},
		},
	}
}

// SampleRows returns n rows matching SampleSchema, with ids starting at 1.
func SampleRows(n int) []convert.Row {
	rows := make([]convert.Row, n)
	for i := range rows {
		rows[i] = convert.Row{
			"id":     int64(i + 1),
			"name":   fmt.Sprintf("row-%d", i+1),
			"score":  float64(i+1) * 1.5,
			"active": i%2 == 0,
		}
	}
	return rows
}

// CreateSampleTable creates a table named name with SampleSchema and inserts
// n sample rows through the mutation engine.
func CreateSampleTable(t *testing.T, lh *lakehouse.Lakehouse, name string, n int) {
	t.Helper()
	ctx := context.Background()
	if _, err := lh.Catalog().CreateTable(ctx, name, SampleSchema(), nil); err != nil {
		t.Fatalf("create table %s: %v", name, err)
	}
	if n == 0 {
		return
	}
	if _, err := lh.Mutate().Insert(ctx, name, SampleRows(n), mutate.WriteOptions{}); err != nil {
		t.Fatalf("insert sample rows into %s: %v", name, err)
	}
}
