// Package catalog manages versioned table metadata: schemas, snapshots,
// manifests, and the current-snapshot pointer. Metadata is persisted as
// versioned JSON files (hadoop-catalog style), manifests as Avro OCF files,
// so tables remain readable by anything that speaks those layouts.
//
// Commits use optimistic concurrency: a commit names the snapshot it was
// based on, and fails with lakeerr.ConcurrentModificationError if the table
// moved in the meantime. The exclusive create of the next metadata version
// file is the atomicity primitive; per-table mutexes only reduce wasted
// retries between goroutines in the same process.
package catalog

// TableMetadata is the top-level metadata document for a versioned table.
// Schemas and Snapshots are append-only; Current* fields are movable pointers.
type TableMetadata struct {
	FormatVersion   int                `json:"format-version"`
	TableUUID       string             `json:"table-uuid"`
	Namespace       string             `json:"namespace"`
	Name            string             `json:"name"`
	Location        string             `json:"location"`
	LastSeqNumber   int64              `json:"last-sequence-number"`
	LastUpdatedMS   int64              `json:"last-updated-ms"`
	LastColumnID    int                `json:"last-column-id"`
	Schemas         []Schema           `json:"schemas"`
	CurrentSchemaID int                `json:"current-schema-id"`
	CurrentSnapshot int64              `json:"current-snapshot-id"`
	Snapshots       []Snapshot         `json:"snapshots"`
	SnapshotLog     []SnapshotLogEntry `json:"snapshot-log"`
	Properties      map[string]string  `json:"properties,omitempty"`
}

// Schema defines the ordered columns of a table at one schema version.
// Field IDs are stable across renames, which is what lets older data files
// stay interpretable after schema evolution.
type Schema struct {
	SchemaID int     `json:"schema-id"`
	Fields   []Field `json:"fields"`
}

// Field is a single column. Type is one of the Type* constants.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

// Column types supported by the engine.
const (
	TypeLong      = "long"
	TypeDouble    = "double"
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
)

// Snapshot records an immutable point-in-time view of the table. The data
// file set lives in the Avro manifest at ManifestPath; TotalRecords is the
// aggregate row count across those files.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMS      int64             `json:"timestamp-ms"`
	ManifestPath     string            `json:"manifest"`
	TotalRecords     int64             `json:"total-records"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         int               `json:"schema-id"`
}

// SnapshotLogEntry records when a snapshot became current (commits and
// rollbacks both append entries).
type SnapshotLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// DataFile describes one immutable data file referenced from a manifest.
// SchemaID records the schema version the file was written under.
type DataFile struct {
	FilePath      string `json:"file-path"`
	FileFormat    string `json:"file-format"`
	RecordCount   int64  `json:"record-count"`
	FileSizeBytes int64  `json:"file-size-in-bytes"`
	SchemaID      int    `json:"schema-id"`
}

// PropertyWriteFormat is the table property key holding the per-table format
// override. It wins over config-file settings but loses to explicit per-call
// overrides.
const PropertyWriteFormat = "write.format.default"

// Manifest entry status values.
const (
	ManifestEntryStatusExisting = 0
	ManifestEntryStatusAdded    = 1
)

// FieldByID returns the field with the given ID, or false if absent.
func (s Schema) FieldByID(id int) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName returns the field with the given name, or false if absent.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SchemaByID returns the schema version with the given ID, or false if absent.
func (m *TableMetadata) SchemaByID(id int) (Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == id {
			return s, true
		}
	}
	return Schema{}, false
}

// CurrentSchema returns the table's current schema version.
func (m *TableMetadata) CurrentSchema() Schema {
	s, _ := m.SchemaByID(m.CurrentSchemaID)
	return s
}

// SnapshotByID returns the snapshot with the given ID, or false if absent.
func (m *TableMetadata) SnapshotByID(id int64) (Snapshot, bool) {
	for _, s := range m.Snapshots {
		if s.SnapshotID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// CurrentSnapshotRef returns the snapshot the current pointer names.
func (m *TableMetadata) CurrentSnapshotRef() Snapshot {
	s, _ := m.SnapshotByID(m.CurrentSnapshot)
	return s
}

// Identifier returns the namespace-qualified table name.
func (m *TableMetadata) Identifier() string {
	return m.Namespace + "." + m.Name
}
