package mutate

import (
	"context"
	"fmt"

	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Batch op kinds.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpUpdate = "update"
	OpUpsert = "upsert"
)

// Op is one step of a batch.
type Op struct {
	Kind        string            `json:"kind"`
	Rows        []convert.Row     `json:"rows,omitempty"`
	Predicate   string            `json:"predicate,omitempty"`
	Assignments map[string]string `json:"assignments,omitempty"`
	KeyColumns  []string          `json:"key_columns,omitempty"`
	Options     WriteOptions      `json:"-"`
}

// OpResult reports one executed batch step.
type OpResult struct {
	Kind       string `json:"kind"`
	Affected   int64  `json:"affected"`
	SnapshotID int64  `json:"snapshot_id"`
}

// Batch runs ops in order, each as its own snapshot commit. It stops at the
// first failure and returns the results of the steps that already committed;
// those commits are NOT rolled back. Callers needing atomicity across
// operations must express them as a single op.
func (e *Engine) Batch(ctx context.Context, table string, ops []Op) ([]OpResult, error) {
	if len(ops) == 0 {
		return nil, &lakeerr.ValidationError{Field: "ops", Reason: "no operations given"}
	}

	results := make([]OpResult, 0, len(ops))
	for i, op := range ops {
		var (
			res OpResult
			err error
		)
		switch op.Kind {
		case OpInsert:
			var r Result
			r, err = e.Insert(ctx, table, op.Rows, op.Options)
			res = OpResult{Kind: op.Kind, Affected: r.Affected, SnapshotID: r.SnapshotID}
		case OpDelete:
			var r Result
			r, err = e.Delete(ctx, table, op.Predicate)
			res = OpResult{Kind: op.Kind, Affected: r.Affected, SnapshotID: r.SnapshotID}
		case OpUpdate:
			var r Result
			r, err = e.Update(ctx, table, op.Predicate, op.Assignments)
			res = OpResult{Kind: op.Kind, Affected: r.Affected, SnapshotID: r.SnapshotID}
		case OpUpsert:
			var r UpsertResult
			r, err = e.Upsert(ctx, table, op.KeyColumns, op.Rows, op.Options)
			res = OpResult{Kind: op.Kind, Affected: r.Matched + r.Inserted, SnapshotID: r.SnapshotID}
		default:
			err = &lakeerr.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown operation %q", op.Kind)}
		}
		if err != nil {
			return results, fmt.Errorf("batch op %d (%s): %w", i, op.Kind, err)
		}
		results = append(results, res)
	}
	return results, nil
}
