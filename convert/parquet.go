package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// writerProps picks the parquet compression codec. Snappy is the default;
// compact mode trades CPU for zstd's tighter encoding.
func writerProps(compact bool) *parquet.WriterProperties {
	codec := compress.Codecs.Snappy
	if compact {
		codec = compress.Codecs.Zstd
	}
	return parquet.NewWriterProperties(parquet.WithCompression(codec))
}

// WriteParquet writes a record batch as a parquet file and returns the file
// size. The Arrow schema is stored in the footer so reads reconstruct the
// exact logical types.
func WriteParquet(path string, rec arrow.RecordBatch, compact bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create parquet file: %w", err)
	}

	w, err := pqarrow.NewFileWriter(rec.Schema(), f, writerProps(compact),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("open parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	// pqarrow's FileWriter.Close closes the underlying sink.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadParquetTable reads a parquet file into an Arrow table. The caller must
// Release it.
func ReadParquetTable(ctx context.Context, path string) (arrow.Table, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet file %s: %w", path, err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("open parquet reader %s: %w", path, err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet table %s: %w", path, err)
	}
	return tbl, nil
}
