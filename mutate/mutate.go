// Package mutate implements row mutations over versioned tables: insert,
// predicate delete/update, key-based upsert, and ordered batches. Data files
// are immutable, so every mutation is copy-on-write: affected files are
// rewritten, untouched files carry over by reference, and the result becomes
// visible through a single snapshot commit.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/internal/backoff"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
	"github.com/jpequegn/iceberg-lakehouse/metrics"
)

// DefaultMaxRetries bounds how often a mutation rereads and retries after
// losing the commit race.
const DefaultMaxRetries = 5

// Engine applies mutations against catalog tables.
type Engine struct {
	cat         *catalog.Catalog
	resolver    *format.Resolver
	arrowNative bool
	maxRetries  int
	rewriters   int
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArrowNative passes the startup probe result for DuckDB's arrow
// extension down to the sessions this engine opens.
func WithArrowNative(native bool) Option {
	return func(e *Engine) { e.arrowNative = native }
}

// WithMaxRetries overrides the commit retry bound.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithRewriters bounds how many files are rewritten concurrently.
func WithRewriters(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.rewriters = n
		}
	}
}

// New creates a mutation engine over the given catalog and format resolver.
func New(cat *catalog.Catalog, resolver *format.Resolver, opts ...Option) *Engine {
	e := &Engine{
		cat:        cat,
		resolver:   resolver,
		maxRetries: DefaultMaxRetries,
		rewriters:  4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "mutate")
	return e
}

// WriteOptions tune a single write.
type WriteOptions struct {
	// Format overrides the resolved write format; empty means resolve.
	Format string
	// Compact trades write CPU for tighter compression.
	Compact bool
}

// Result reports rows affected by a mutation.
type Result struct {
	Affected   int64                  `json:"affected"`
	SnapshotID int64                  `json:"snapshot_id,omitempty"`
	Table      *catalog.TableMetadata `json:"-"`
}

// withRetry runs one mutation attempt against a fresh read of the table,
// retrying when the commit loses the compare-and-swap race. Each attempt
// sees the table state its commit will be validated against.
func (e *Engine) withRetry(ctx context.Context, table string, attempt func(meta *catalog.TableMetadata) (*catalog.TableMetadata, error)) (*catalog.TableMetadata, error) {
	var lastErr error
	for i := 0; i < e.maxRetries; i++ {
		meta, err := e.cat.LoadTable(ctx, table)
		if err != nil {
			return nil, err
		}
		out, err := attempt(meta)
		if err == nil {
			return out, nil
		}
		if !lakeerr.IsConcurrentModification(err) {
			return nil, err
		}
		lastErr = err
		metrics.CommitRetries.Inc()
		e.logger.Debug("commit conflict, retrying", "table", table, "attempt", i+1)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.Jitter(i, 5*time.Millisecond, 100*time.Millisecond)):
		}
	}
	return nil, lastErr
}

// resolveFormat picks the write format for this call.
func (e *Engine) resolveFormat(meta *catalog.TableMetadata, override string) (format.Format, error) {
	if e.resolver != nil {
		f, _, err := e.resolver.Resolve(meta, override)
		return f, err
	}
	if override != "" {
		return format.Parse(override)
	}
	return format.Parquet, nil
}

// validateRows rejects rows naming columns the current schema does not have.
// Type and nullability checks happen when the record is built.
func validateRows(meta *catalog.TableMetadata, rows []convert.Row) error {
	if len(rows) == 0 {
		return &lakeerr.ValidationError{Field: "rows", Reason: "no rows given"}
	}
	schema := meta.CurrentSchema()
	for _, row := range rows {
		for col := range row {
			if _, ok := schema.FieldByName(col); !ok {
				return &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: col, Reason: "unknown column"}
			}
		}
	}
	return nil
}

// writeDataFile materializes rows as a new data file under the table
// location and returns its manifest entry.
func (e *Engine) writeDataFile(meta *catalog.TableMetadata, f format.Format, rows []convert.Row, compact bool) (catalog.DataFile, error) {
	path := e.cat.NewDataFilePath(meta, f.Ext())
	size, err := convert.WriteRows(meta.Identifier(), path, f, meta.CurrentSchema(), rows, compact)
	if err != nil {
		return catalog.DataFile{}, err
	}
	return catalog.DataFile{
		FilePath:      path,
		FileFormat:    f.String(),
		RecordCount:   int64(len(rows)),
		FileSizeBytes: size,
		SchemaID:      meta.CurrentSchemaID,
	}, nil
}

// removeFiles best-effort deletes data files that ended up unreferenced
// (e.g. written for a commit attempt that lost the race).
func (e *Engine) removeFiles(ctx context.Context, files []catalog.DataFile) {
	for _, f := range files {
		if err := e.cat.Storage().Delete(ctx, f.FilePath); err != nil {
			e.logger.Warn("orphan data file left behind", "path", f.FilePath, "error", err)
		}
	}
}

// Insert appends rows as one new data file in a new snapshot.
func (e *Engine) Insert(ctx context.Context, table string, rows []convert.Row, opts WriteOptions) (Result, error) {
	var res Result
	meta, err := e.withRetry(ctx, table, func(meta *catalog.TableMetadata) (*catalog.TableMetadata, error) {
		if err := validateRows(meta, rows); err != nil {
			return nil, err
		}
		f, err := e.resolveFormat(meta, opts.Format)
		if err != nil {
			return nil, err
		}

		df, err := e.writeDataFile(meta, f, rows, opts.Compact)
		if err != nil {
			return nil, err
		}

		parent, err := e.cat.ManifestDataFiles(ctx, meta.CurrentSnapshotRef())
		if err != nil {
			e.removeFiles(ctx, []catalog.DataFile{df})
			return nil, err
		}
		out, err := e.cat.CommitSnapshot(ctx, table, meta.CurrentSnapshot, append(parent, df), meta.CurrentSchemaID,
			map[string]string{"operation": "append"})
		if err != nil {
			e.removeFiles(ctx, []catalog.DataFile{df})
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return res, err
	}
	res = Result{Affected: int64(len(rows)), SnapshotID: meta.CurrentSnapshot, Table: meta}
	return res, nil
}

// Delete removes rows matching the SQL predicate. Files without matches
// carry over untouched; files with matches are rewritten without the
// matching rows, or dropped entirely when nothing survives.
func (e *Engine) Delete(ctx context.Context, table, predicate string) (Result, error) {
	if predicate == "" {
		return Result{}, &lakeerr.ValidationError{Field: "predicate", Reason: "predicate must not be empty"}
	}

	var affected int64
	meta, err := e.withRetry(ctx, table, func(meta *catalog.TableMetadata) (*catalog.TableMetadata, error) {
		plan, err := e.rewriteMatching(ctx, meta, predicate, nil)
		if err != nil {
			return nil, err
		}
		affected = plan.matched
		if plan.matched == 0 {
			return meta, nil
		}
		out, err := e.cat.CommitSnapshot(ctx, table, meta.CurrentSnapshot, plan.files, meta.CurrentSchemaID,
			map[string]string{"operation": "delete", "matched": fmt.Sprint(plan.matched)})
		if err != nil {
			e.removeFiles(ctx, plan.rewritten)
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Affected: affected, SnapshotID: meta.CurrentSnapshot, Table: meta}, nil
}

// Update rewrites rows matching the predicate with the given column
// assignments (SQL expressions, evaluated per row).
func (e *Engine) Update(ctx context.Context, table, predicate string, assignments map[string]string) (Result, error) {
	if predicate == "" {
		return Result{}, &lakeerr.ValidationError{Field: "predicate", Reason: "predicate must not be empty"}
	}
	if len(assignments) == 0 {
		return Result{}, &lakeerr.ValidationError{Field: "assignments", Reason: "no assignments given"}
	}

	var affected int64
	meta, err := e.withRetry(ctx, table, func(meta *catalog.TableMetadata) (*catalog.TableMetadata, error) {
		schema := meta.CurrentSchema()
		for col := range assignments {
			if _, ok := schema.FieldByName(col); !ok {
				return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: col, Reason: "unknown column"}
			}
		}

		plan, err := e.rewriteMatching(ctx, meta, predicate, assignments)
		if err != nil {
			return nil, err
		}
		affected = plan.matched
		if plan.matched == 0 {
			return meta, nil
		}
		out, err := e.cat.CommitSnapshot(ctx, table, meta.CurrentSnapshot, plan.files, meta.CurrentSchemaID,
			map[string]string{"operation": "update", "matched": fmt.Sprint(plan.matched)})
		if err != nil {
			e.removeFiles(ctx, plan.rewritten)
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Affected: affected, SnapshotID: meta.CurrentSnapshot, Table: meta}, nil
}

// UpsertResult splits an upsert's effect into replaced and appended rows.
type UpsertResult struct {
	Matched    int64                  `json:"matched"`
	Inserted   int64                  `json:"inserted"`
	SnapshotID int64                  `json:"snapshot_id"`
	Table      *catalog.TableMetadata `json:"-"`
}

// Upsert replaces rows whose key columns match an incoming row and appends
// the full incoming set as one new data file, all in a single snapshot.
func (e *Engine) Upsert(ctx context.Context, table string, keyColumns []string, rows []convert.Row, opts WriteOptions) (UpsertResult, error) {
	if len(keyColumns) == 0 {
		return UpsertResult{}, &lakeerr.ValidationError{Field: "key_columns", Reason: "at least one key column is required"}
	}

	var matched int64
	meta, err := e.withRetry(ctx, table, func(meta *catalog.TableMetadata) (*catalog.TableMetadata, error) {
		if err := validateRows(meta, rows); err != nil {
			return nil, err
		}
		schema := meta.CurrentSchema()
		keyFields := make([]catalog.Field, len(keyColumns))
		for i, col := range keyColumns {
			f, ok := schema.FieldByName(col)
			if !ok {
				return nil, &lakeerr.SchemaViolationError{Table: meta.Identifier(), Column: col, Reason: "unknown key column"}
			}
			keyFields[i] = f
		}

		predicate, err := keyMatchPredicate(keyFields, rows)
		if err != nil {
			return nil, err
		}

		plan, err := e.rewriteMatching(ctx, meta, predicate, nil)
		if err != nil {
			return nil, err
		}
		matched = plan.matched

		f, err := e.resolveFormat(meta, opts.Format)
		if err != nil {
			return nil, err
		}
		df, err := e.writeDataFile(meta, f, rows, opts.Compact)
		if err != nil {
			e.removeFiles(ctx, plan.rewritten)
			return nil, err
		}

		out, err := e.cat.CommitSnapshot(ctx, table, meta.CurrentSnapshot, append(plan.files, df), meta.CurrentSchemaID,
			map[string]string{"operation": "upsert", "matched": fmt.Sprint(plan.matched)})
		if err != nil {
			e.removeFiles(ctx, append(plan.rewritten, df))
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{
		Matched:    matched,
		Inserted:   int64(len(rows)),
		SnapshotID: meta.CurrentSnapshot,
		Table:      meta,
	}, nil
}
