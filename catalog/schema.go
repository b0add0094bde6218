package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Schema evolution actions.
const (
	SchemaOpAddColumn    = "add-column"
	SchemaOpDropColumn   = "drop-column"
	SchemaOpRenameColumn = "rename-column"
)

// SchemaOp describes one schema change. Column names the target column;
// Type is required for adds, NewName for renames. Added columns are always
// nullable since rows written under earlier schemas carry no value for them.
type SchemaOp struct {
	Op      string `json:"op"`
	Column  string `json:"column"`
	Type    string `json:"type,omitempty"`
	NewName string `json:"new_name,omitempty"`
	Doc     string `json:"doc,omitempty"`
}

func validType(t string) bool {
	switch t {
	case TypeLong, TypeDouble, TypeString, TypeBoolean, TypeTimestamp, TypeDate:
		return true
	}
	return false
}

// normalizeSchema validates a user-supplied schema and assigns field IDs
// when the caller left them zero.
func normalizeSchema(table string, schema Schema) (Schema, error) {
	if len(schema.Fields) == 0 {
		return Schema{}, &lakeerr.ValidationError{Field: "schema", Reason: "at least one column is required"}
	}

	fields := make([]Field, len(schema.Fields))
	copy(fields, schema.Fields)

	seen := map[string]bool{}
	maxID := 0
	for _, f := range fields {
		if f.ID > maxID {
			maxID = f.ID
		}
	}
	nextID := maxID
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return Schema{}, &lakeerr.ValidationError{Field: "schema", Reason: "column name must not be empty"}
		}
		if seen[f.Name] {
			return Schema{}, &lakeerr.SchemaViolationError{Table: table, Column: f.Name, Reason: "duplicate column name"}
		}
		seen[f.Name] = true
		if !validType(f.Type) {
			return Schema{}, &lakeerr.SchemaViolationError{Table: table, Column: f.Name, Reason: fmt.Sprintf("unsupported type %q", f.Type)}
		}
		if f.ID == 0 {
			nextID++
			f.ID = nextID
		}
	}
	return Schema{SchemaID: 1, Fields: fields}, nil
}

// AlterSchema applies a schema change, recording it as a new schema version
// and committing a new snapshot that shares the parent's data file set, so
// both the old and the new shape of the table stay time-travelable.
func (c *Catalog) AlterSchema(ctx context.Context, name string, op SchemaOp) (*TableMetadata, error) {
	ns, table := SplitName(name)
	lock := c.commitLock(ns, table)
	lock.Lock()
	defer lock.Unlock()

	meta, version, err := c.loadLatest(ctx, name)
	if err != nil {
		return nil, err
	}
	current := meta.CurrentSchema()

	next := Schema{SchemaID: current.SchemaID + 1}
	for _, s := range meta.Schemas {
		if s.SchemaID >= next.SchemaID {
			next.SchemaID = s.SchemaID + 1
		}
	}
	next.Fields = append([]Field(nil), current.Fields...)

	newMeta := cloneMetadata(meta)

	switch op.Op {
	case SchemaOpAddColumn:
		if op.Column == "" {
			return nil, &lakeerr.ValidationError{Field: "column", Reason: "column name must not be empty"}
		}
		if _, ok := current.FieldByName(op.Column); ok {
			return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: op.Column, Reason: "column already exists"}
		}
		if !validType(op.Type) {
			return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: op.Column, Reason: fmt.Sprintf("unsupported type %q", op.Type)}
		}
		newMeta.LastColumnID++
		next.Fields = append(next.Fields, Field{
			ID:   newMeta.LastColumnID,
			Name: op.Column,
			Type: op.Type,
			Doc:  op.Doc,
		})

	case SchemaOpDropColumn:
		idx := -1
		for i, f := range next.Fields {
			if f.Name == op.Column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &lakeerr.NotFoundError{Kind: "column", Name: op.Column}
		}
		if len(next.Fields) == 1 {
			return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: op.Column, Reason: "cannot drop the only column"}
		}
		next.Fields = append(next.Fields[:idx:idx], next.Fields[idx+1:]...)

	case SchemaOpRenameColumn:
		if op.NewName == "" {
			return nil, &lakeerr.ValidationError{Field: "new_name", Reason: "new column name must not be empty"}
		}
		if _, ok := current.FieldByName(op.NewName); ok {
			return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: op.NewName, Reason: "column already exists"}
		}
		idx := -1
		for i, f := range next.Fields {
			if f.Name == op.Column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &lakeerr.NotFoundError{Kind: "column", Name: op.Column}
		}
		next.Fields[idx].Name = op.NewName

	default:
		return nil, &lakeerr.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown schema operation %q", op.Op)}
	}

	now := time.Now()
	parent := meta.CurrentSnapshot
	parentSnap, _ := meta.SnapshotByID(parent)

	newMeta.Schemas = append(newMeta.Schemas, next)
	newMeta.CurrentSchemaID = next.SchemaID
	newMeta.LastSeqNumber++
	newMeta.LastUpdatedMS = now.UnixMilli()

	// The data file set is unchanged; the new snapshot reuses the parent's
	// manifest and only moves the schema pointer forward.
	snap := Snapshot{
		SnapshotID:       generateSnapshotID(),
		ParentSnapshotID: &parent,
		SequenceNumber:   newMeta.LastSeqNumber,
		TimestampMS:      now.UnixMilli(),
		ManifestPath:     parentSnap.ManifestPath,
		TotalRecords:     parentSnap.TotalRecords,
		Summary:          map[string]string{"operation": op.Op, "column": op.Column},
		SchemaID:         next.SchemaID,
	}
	newMeta.Snapshots = append(newMeta.Snapshots, snap)
	newMeta.SnapshotLog = append(newMeta.SnapshotLog, SnapshotLogEntry{
		TimestampMS: now.UnixMilli(),
		SnapshotID:  snap.SnapshotID,
	})
	newMeta.CurrentSnapshot = snap.SnapshotID

	if err := c.commitMetadata(ctx, newMeta, version); err != nil {
		return nil, err
	}
	c.logger.Info("schema evolved",
		"table", newMeta.Identifier(),
		"op", op.Op,
		"column", op.Column,
		"schema_version", next.SchemaID,
	)
	return newMeta, nil
}
