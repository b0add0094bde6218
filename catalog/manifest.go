package catalog

import (
	"bytes"
	"fmt"

	"github.com/hamba/avro/v2/ocf"
)

// Avro schema for manifest entries. One manifest file per snapshot, one
// entry per data file.
const manifestEntryAvroSchema = `{
	"type": "record",
	"name": "manifest_entry",
	"fields": [
		{"name": "status", "type": "int"},
		{"name": "snapshot_id", "type": "long"},
		{"name": "data_file", "type": {
			"type": "record",
			"name": "data_file",
			"fields": [
				{"name": "file_path", "type": "string"},
				{"name": "file_format", "type": "string"},
				{"name": "record_count", "type": "long"},
				{"name": "file_size_in_bytes", "type": "long"},
				{"name": "schema_id", "type": "int"}
			]
		}}
	]
}`

// manifestEntryAvro is the Avro-serializable form of a manifest entry.
type manifestEntryAvro struct {
	Status     int              `avro:"status"`
	SnapshotID int64            `avro:"snapshot_id"`
	DataFile   dataFileAvro     `avro:"data_file"`
}

type dataFileAvro struct {
	FilePath      string `avro:"file_path"`
	FileFormat    string `avro:"file_format"`
	RecordCount   int64  `avro:"record_count"`
	FileSizeBytes int64  `avro:"file_size_in_bytes"`
	SchemaID      int    `avro:"schema_id"`
}

// writeManifest serializes the data file set of a snapshot as an Avro OCF
// file. Files carried over from the parent snapshot are marked existing,
// newly added ones added; the distinction is informational only.
func writeManifest(snapshotID int64, files []DataFile, statuses []int) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(manifestEntryAvroSchema, &buf, ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return nil, fmt.Errorf("create manifest encoder: %w", err)
	}

	for i, f := range files {
		status := ManifestEntryStatusExisting
		if statuses != nil {
			status = statuses[i]
		}
		entry := manifestEntryAvro{
			Status:     status,
			SnapshotID: snapshotID,
			DataFile: dataFileAvro{
				FilePath:      f.FilePath,
				FileFormat:    f.FileFormat,
				RecordCount:   f.RecordCount,
				FileSizeBytes: f.FileSizeBytes,
				SchemaID:      f.SchemaID,
			},
		}
		if err := enc.Encode(entry); err != nil {
			return nil, fmt.Errorf("encode manifest entry %d: %w", i, err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close manifest encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// readManifest parses an Avro OCF manifest back into data file references,
// preserving entry order.
func readManifest(data []byte) ([]DataFile, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create manifest decoder: %w", err)
	}

	var files []DataFile
	for dec.HasNext() {
		var entry manifestEntryAvro
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode manifest entry: %w", err)
		}
		files = append(files, DataFile{
			FilePath:      entry.DataFile.FilePath,
			FileFormat:    entry.DataFile.FileFormat,
			RecordCount:   entry.DataFile.RecordCount,
			FileSizeBytes: entry.DataFile.FileSizeBytes,
			SchemaID:      entry.DataFile.SchemaID,
		})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return files, nil
}
