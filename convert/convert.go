package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	parquetgo "github.com/parquet-go/parquet-go"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
	"github.com/jpequegn/iceberg-lakehouse/metrics"
)

// ReadTable reads a data file of either format into an Arrow table. The
// caller must Release it.
func ReadTable(ctx context.Context, path string, f format.Format) (arrow.Table, error) {
	switch f {
	case format.Arrow:
		return ReadIPCTable(path)
	default:
		return ReadParquetTable(ctx, path)
	}
}

// ReadRows reads a data file of either format into rows.
func ReadRows(ctx context.Context, path string, f format.Format) ([]Row, error) {
	tbl, err := ReadTable(ctx, path, f)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return TableRows(tbl)
}

// TableRows flattens an Arrow table into rows.
func TableRows(tbl arrow.Table) ([]Row, error) {
	rows := make([]Row, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 64*1024)
	defer tr.Release()
	for tr.Next() {
		batch, err := RecordRows(tr.RecordBatch())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// WriteRows materializes rows into a data file of the given format and
// returns its size in bytes.
func WriteRows(table string, path string, f format.Format, s catalog.Schema, rows []Row, compact bool) (int64, error) {
	rec, err := BuildRecord(table, s, rows)
	if err != nil {
		return 0, err
	}
	defer rec.Release()

	var size int64
	switch f {
	case format.Arrow:
		size, err = WriteIPC(path, rec, compact)
	default:
		size, err = WriteParquet(path, rec, compact)
	}
	if err != nil {
		return 0, err
	}
	metrics.DataFilesWritten.WithLabelValues(f.String()).Inc()
	metrics.BytesWritten.WithLabelValues(f.String()).Add(float64(size))
	return size, nil
}

// DetectFormat infers a file's format from its extension, falling back to
// the magic bytes when the extension says nothing.
func DetectFormat(path string) (format.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return format.Parquet, nil
	case ".arrow", ".arrows", ".ipc":
		return format.Arrow, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	magic := make([]byte, 6)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", &lakeerr.ConversionError{Source: path, Err: fmt.Errorf("file too short to identify")}
	}
	switch {
	case bytes.Equal(magic[:4], []byte("PAR1")):
		return format.Parquet, nil
	case bytes.Equal(magic, []byte("ARROW1")):
		return format.Arrow, nil
	}
	return "", &lakeerr.ConversionError{Source: path, Err: fmt.Errorf("unrecognized file format")}
}

// Result summarizes one file conversion.
type Result struct {
	Rows       int64 `json:"rows"`
	InputSize  int64 `json:"input_size"`
	OutputSize int64 `json:"output_size"`
}

// ConvertFile rewrites src into dst in the target format. The conversion is
// lossless: batches stream through Arrow untouched, so reading dst yields
// exactly the rows of src. Converting a file to its own format is a plain
// recompression pass (useful with compact set).
func ConvertFile(ctx context.Context, src, dst string, target format.Format, compact bool) (Result, error) {
	source, err := DetectFormat(src)
	if err != nil {
		return Result{}, err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", src, err)
	}

	tbl, err := ReadTable(ctx, src, source)
	if err != nil {
		return Result{}, &lakeerr.ConversionError{Source: src, Target: dst, Err: err}
	}
	defer tbl.Release()

	size, err := writeTable(dst, target, tbl, compact)
	if err != nil {
		return Result{}, &lakeerr.ConversionError{Source: src, Target: dst, Err: err}
	}

	metrics.Conversions.WithLabelValues(source.String(), target.String()).Inc()
	return Result{
		Rows:       tbl.NumRows(),
		InputSize:  srcInfo.Size(),
		OutputSize: size,
	}, nil
}

// writeTable streams a table's batches into a new data file.
func writeTable(path string, f format.Format, tbl arrow.Table, compact bool) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create data dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	var w interface {
		Write(arrow.RecordBatch) error
		Close() error
	}
	switch f {
	case format.Arrow:
		opts := []ipc.Option{ipc.WithSchema(tbl.Schema()), ipc.WithAllocator(memory.DefaultAllocator)}
		if compact {
			opts = append(opts, ipc.WithZstd())
		}
		w, err = ipc.NewFileWriter(out, opts...)
	default:
		w, err = pqarrow.NewFileWriter(tbl.Schema(), out, writerProps(compact),
			pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	}
	if err != nil {
		out.Close()
		return 0, err
	}

	tr := array.NewTableReader(tbl, 64*1024)
	defer tr.Release()
	for tr.Next() {
		if err := w.Write(tr.RecordBatch()); err != nil {
			w.Close()
			out.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		out.Close()
		return 0, err
	}
	// pqarrow's FileWriter.Close closes the underlying sink.
	if err := out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ColumnInfo describes one column of an inspected file.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Info describes an on-disk data file.
type Info struct {
	Path        string       `json:"path"`
	Format      string       `json:"format"`
	Rows        int64        `json:"rows"`
	SizeBytes   int64        `json:"size_bytes"`
	Columns     []ColumnInfo `json:"columns"`
	Compression string       `json:"compression,omitempty"`
}

// Inspect reports a data file's format, row count, size, and columns without
// loading its data. Parquet row counts and codecs come straight from the
// footer.
func Inspect(path string) (Info, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return Info{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", path, err)
	}

	info := Info{Path: path, Format: f.String(), SizeBytes: st.Size()}
	switch f {
	case format.Parquet:
		if err := inspectParquet(path, st.Size(), &info); err != nil {
			return Info{}, err
		}
	case format.Arrow:
		if err := inspectIPC(path, &info); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}

func inspectParquet(path string, size int64, info *Info) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pf, err := parquetgo.OpenFile(f, size)
	if err != nil {
		return fmt.Errorf("parse parquet footer of %s: %w", path, err)
	}
	info.Rows = pf.NumRows()
	for _, field := range pf.Schema().Fields() {
		info.Columns = append(info.Columns, ColumnInfo{Name: field.Name(), Type: field.Type().String()})
	}
	md := pf.Metadata()
	if len(md.RowGroups) > 0 && len(md.RowGroups[0].Columns) > 0 {
		info.Compression = strings.ToLower(md.RowGroups[0].Columns[0].MetaData.Codec.String())
	}
	return nil
}

func inspectIPC(path string, info *Info) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return fmt.Errorf("open arrow reader %s: %w", path, err)
	}
	defer r.Close()

	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			return fmt.Errorf("read arrow batch %d of %s: %w", i, path, err)
		}
		info.Rows += rec.NumRows()
		rec.Release()
	}
	for _, field := range r.Schema().Fields() {
		info.Columns = append(info.Columns, ColumnInfo{Name: field.Name, Type: field.Type.String()})
	}
	return nil
}
