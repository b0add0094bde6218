package testutil

import (
	"context"
	"testing"
)

func TestCreateSampleTable(t *testing.T) {
	lh := OpenTestLakehouse(t)
	CreateSampleTable(t, lh, "events", 3)

	meta, err := lh.Catalog().LoadTable(context.Background(), "events")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got := meta.CurrentSnapshotRef().TotalRecords; got != 3 {
		t.Errorf("TotalRecords = %d, want 3", got)
	}
	if got := len(meta.CurrentSchema().Fields); got != 4 {
		t.Errorf("schema has %d fields, want 4", got)
	}
}

func TestSampleRowsMatchSchema(t *testing.T) {
	schema := SampleSchema()
	for _, row := range SampleRows(2) {
		for col := range row {
			if f, ok := schema.FieldByName(col); !ok || f.Name != col {
				t.Errorf("row column %q not in sample schema", col)
			}
		}
	}
}
