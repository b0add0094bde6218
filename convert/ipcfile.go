package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WriteIPC writes a record batch as an Arrow IPC file and returns the file
// size. Compact mode enables zstd buffer compression.
func WriteIPC(path string, rec arrow.RecordBatch, compact bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create arrow file: %w", err)
	}

	opts := []ipc.Option{
		ipc.WithSchema(rec.Schema()),
		ipc.WithAllocator(memory.DefaultAllocator),
	}
	if compact {
		opts = append(opts, ipc.WithZstd())
	}
	w, err := ipc.NewFileWriter(f, opts...)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("open arrow writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return 0, fmt.Errorf("write arrow rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("close arrow writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadIPCTable reads an Arrow IPC file into an Arrow table. The caller must
// Release it.
func ReadIPCTable(path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open arrow file %s: %w", path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open arrow reader %s: %w", path, err)
	}
	defer r.Close()

	recs := make([]arrow.RecordBatch, 0, r.NumRecords())
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			releaseAll(recs)
			return nil, fmt.Errorf("read arrow batch %d of %s: %w", i, path, err)
		}
		rec.Retain()
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		// An empty file still carries a schema.
		empty := array.NewRecordBuilder(memory.DefaultAllocator, r.Schema())
		defer empty.Release()
		recs = append(recs, empty.NewRecordBatch())
	}

	tbl := array.NewTableFromRecords(r.Schema(), recs)
	releaseAll(recs)
	return tbl, nil
}

func releaseAll(recs []arrow.RecordBatch) {
	for _, r := range recs {
		r.Release()
	}
}
