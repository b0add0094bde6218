package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// newTableMetadata creates initial table metadata with an empty first
// snapshot, so a freshly created table always has a valid current snapshot.
func newTableMetadata(namespace, name, location string, schema Schema, props map[string]string) *TableMetadata {
	now := time.Now().UnixMilli()
	if props == nil {
		props = map[string]string{}
	}

	snap := Snapshot{
		SnapshotID:     generateSnapshotID(),
		SequenceNumber: 1,
		TimestampMS:    now,
		TotalRecords:   0,
		Summary:        map[string]string{"operation": "create"},
		SchemaID:       schema.SchemaID,
	}

	return &TableMetadata{
		FormatVersion:   2,
		TableUUID:       uuid.New().String(),
		Namespace:       namespace,
		Name:            name,
		Location:        location,
		LastSeqNumber:   1,
		LastUpdatedMS:   now,
		LastColumnID:    lastFieldID(schema),
		Schemas:         []Schema{schema},
		CurrentSchemaID: schema.SchemaID,
		CurrentSnapshot: snap.SnapshotID,
		Snapshots:       []Snapshot{snap},
		SnapshotLog: []SnapshotLogEntry{
			{TimestampMS: now, SnapshotID: snap.SnapshotID},
		},
		Properties: props,
	}
}

// writeMetadata serializes table metadata to JSON.
func writeMetadata(meta *TableMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

// readMetadata deserializes table metadata from JSON.
func readMetadata(data []byte) (*TableMetadata, error) {
	var meta TableMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// generateSnapshotID produces a random positive int64 for snapshot IDs.
func generateSnapshotID() int64 {
	return rand.Int64N(1<<62) + 1
}

// lastFieldID returns the highest field ID in the schema.
func lastFieldID(s Schema) int {
	max := 0
	for _, f := range s.Fields {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}
