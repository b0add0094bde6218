// Package query runs SQL over catalog tables and external data files
// through an in-process DuckDB session. Each query resolves its snapshots
// once at start, so results are consistent even while writers commit.
//
// Arrow data files are read on one of two paths: natively through DuckDB's
// community arrow extension when the startup probe finds it loadable, or
// through an in-process bridge that materializes the file into a temp table.
// Both paths return identical rows; the active one is visible via
// ArrowNative.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/internal/duck"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
	"github.com/jpequegn/iceberg-lakehouse/metrics"
)

// Engine executes queries against a catalog.
type Engine struct {
	cat    *catalog.Catalog
	logger *slog.Logger

	probeOnce sync.Once
	probe     func(context.Context) bool
	native    bool
	forced    bool // arrow capability fixed by option, skip the probe

	mu        sync.Mutex
	externals map[string]External
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArrowNative fixes the arrow reader path instead of probing. Mainly
// for the facade, which probes once and shares the result.
func WithArrowNative(native bool) Option {
	return func(e *Engine) {
		e.native = native
		e.forced = true
	}
}

// New creates a query engine. Unless WithArrowNative is given, the first
// query probes for the DuckDB arrow extension and the result sticks for the
// engine's lifetime.
func New(cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		cat:       cat,
		probe:     duck.ProbeArrowNative,
		externals: map[string]External{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "query")
	return e
}

// ArrowNative reports which arrow reader path this engine uses.
func (e *Engine) ArrowNative(ctx context.Context) bool {
	e.probeOnce.Do(func() {
		if e.forced {
			return
		}
		e.native = e.probe(ctx)
		e.logger.Info("arrow reader selected", "native", e.native)
	})
	return e.native
}

// Binding exposes one catalog table to the query under an alias. Zero AsOf
// fields mean "current snapshot"; at most one may be set.
type Binding struct {
	Table          string
	Alias          string
	AsOfSnapshotID int64
	AsOfTime       time.Time
}

// External exposes a standalone data file to the query under an alias.
// Empty Format means detect from the file.
type External struct {
	Alias  string
	Path   string
	Format format.Format
}

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Elapsed time.Duration    `json:"elapsed"`
	// Snapshots records which snapshot served each bound table.
	Snapshots map[string]int64 `json:"snapshots,omitempty"`
}

// Execute runs sql with the given table bindings. A nil bindings slice
// binds every catalog table under its short name (namespace-qualified
// tables under namespace_name when short names collide).
func (e *Engine) Execute(ctx context.Context, sql string, bindings []Binding) (*ResultSet, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &lakeerr.ValidationError{Field: "sql", Reason: "query must not be empty"}
	}

	start := time.Now()
	rs, err := e.execute(ctx, sql, bindings)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Queries.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Queries.WithLabelValues("ok").Inc()
	rs.Elapsed = time.Since(start)
	e.logger.Debug("query executed", "rows", len(rs.Rows), "elapsed", rs.Elapsed)
	return rs, nil
}

func (e *Engine) execute(ctx context.Context, sql string, bindings []Binding) (*ResultSet, error) {
	if bindings == nil {
		var err error
		bindings, err = e.allTableBindings(ctx)
		if err != nil {
			return nil, err
		}
	}

	sess, err := duck.NewSession(ctx, e.ArrowNative(ctx))
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	snapshots := map[string]int64{}
	for _, b := range bindings {
		snapID, err := e.bindTable(ctx, sess, b)
		if err != nil {
			return nil, err
		}
		snapshots[b.Table] = snapID
	}

	e.mu.Lock()
	externals := make([]External, 0, len(e.externals))
	for _, ext := range e.externals {
		externals = append(externals, ext)
	}
	e.mu.Unlock()
	for _, ext := range externals {
		if err := e.bindExternal(ctx, sess, ext); err != nil {
			return nil, err
		}
	}

	rows, err := sess.DB().QueryContext(ctx, sql)
	if err != nil {
		return nil, &lakeerr.QueryError{SQL: sql, Err: err}
	}
	defer rows.Close()

	columns, out, err := duck.ScanRows(rows)
	if err != nil {
		return nil, &lakeerr.QueryError{SQL: sql, Err: err}
	}
	return &ResultSet{Columns: columns, Rows: out, Snapshots: snapshots}, nil
}

// bindTable resolves a binding's snapshot and registers the table view.
// The snapshot choice happens here, once, before any SQL runs: that is the
// isolation boundary.
func (e *Engine) bindTable(ctx context.Context, sess *duck.Session, b Binding) (int64, error) {
	if b.AsOfSnapshotID != 0 && !b.AsOfTime.IsZero() {
		return 0, &lakeerr.ValidationError{Field: "as_of", Reason: "snapshot id and timestamp are mutually exclusive"}
	}

	meta, err := e.cat.LoadTable(ctx, b.Table)
	if err != nil {
		return 0, err
	}

	var snap catalog.Snapshot
	switch {
	case b.AsOfSnapshotID != 0:
		s, ok := meta.SnapshotByID(b.AsOfSnapshotID)
		if !ok {
			return 0, &lakeerr.NotFoundError{Kind: "snapshot", Name: fmt.Sprint(b.AsOfSnapshotID)}
		}
		snap = s
	case !b.AsOfTime.IsZero():
		s, ok := meta.SnapshotAsOf(b.AsOfTime)
		if !ok {
			return 0, &lakeerr.NotFoundError{
				Kind: "snapshot",
				Name: fmt.Sprintf("%s as of %s", meta.Identifier(), b.AsOfTime.Format(time.RFC3339)),
			}
		}
		snap = s
	default:
		snap = meta.CurrentSnapshotRef()
	}

	// Read under the schema the snapshot was committed with, so time travel
	// across schema changes shows the shape of that era.
	readSchema, ok := meta.SchemaByID(snap.SchemaID)
	if !ok {
		readSchema = meta.CurrentSchema()
	}

	files, err := e.cat.ManifestDataFiles(ctx, snap)
	if err != nil {
		return 0, err
	}
	refs := make([]duck.FileRef, len(files))
	for i, f := range files {
		fs, ok := meta.SchemaByID(f.SchemaID)
		if !ok {
			return 0, fmt.Errorf("data file %s references unknown schema %d", f.FilePath, f.SchemaID)
		}
		refs[i] = duck.FileRef{Path: f.FilePath, Format: format.Format(f.FileFormat), Schema: fs}
	}

	alias := b.Alias
	if alias == "" {
		_, alias = catalog.SplitName(b.Table)
	}
	if err := sess.RegisterTable(ctx, alias, readSchema, refs); err != nil {
		return 0, err
	}
	return snap.SnapshotID, nil
}

// bindExternal registers an external file as a view under its alias.
func (e *Engine) bindExternal(ctx context.Context, sess *duck.Session, ext External) error {
	f := ext.Format
	if f == "" {
		detected, err := convert.DetectFormat(ext.Path)
		if err != nil {
			return err
		}
		f = detected
	}

	var body string
	switch f {
	case format.Arrow:
		if sess.ArrowNative() {
			body = fmt.Sprintf("SELECT * FROM read_arrow(%s)", duck.Literal(ext.Path))
		} else {
			// Bridge: derive the column set from the file itself, then
			// materialize it.
			tbl, err := convert.ReadIPCTable(ext.Path)
			if err != nil {
				return err
			}
			schema, err := convert.SchemaFromArrow(tbl.Schema())
			tbl.Release()
			if err != nil {
				return err
			}
			ref := duck.FileRef{Path: ext.Path, Format: format.Arrow, Schema: schema}
			return sess.RegisterTable(ctx, ext.Alias, schema, []duck.FileRef{ref})
		}
	default:
		body = fmt.Sprintf("SELECT * FROM read_parquet(%s)", duck.Literal(ext.Path))
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS %s", duck.Quote(ext.Alias), body)
	if _, err := sess.DB().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("register external %s: %w", ext.Alias, err)
	}
	return nil
}

// allTableBindings binds every table in the catalog. Short names win; when
// two namespaces share a short name, both get namespace_name aliases.
func (e *Engine) allTableBindings(ctx context.Context) ([]Binding, error) {
	names, err := e.cat.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	shortCount := map[string]int{}
	for _, name := range names {
		_, short := catalog.SplitName(name)
		shortCount[short]++
	}

	bindings := make([]Binding, len(names))
	for i, name := range names {
		ns, short := catalog.SplitName(name)
		alias := short
		if shortCount[short] > 1 {
			alias = ns + "_" + short
		}
		bindings[i] = Binding{Table: name, Alias: alias}
	}
	return bindings, nil
}

// ExternalAlias is the view name QueryExternal binds the file under.
const ExternalAlias = "data"

// QueryExternal runs sql over a standalone data file, bound as the view
// "data". The catalog is not consulted.
func (e *Engine) QueryExternal(ctx context.Context, sql, path string, f format.Format) (*ResultSet, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &lakeerr.ValidationError{Field: "sql", Reason: "query must not be empty"}
	}

	start := time.Now()
	sess, err := duck.NewSession(ctx, e.ArrowNative(ctx))
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := e.bindExternal(ctx, sess, External{Alias: ExternalAlias, Path: path, Format: f}); err != nil {
		metrics.Queries.WithLabelValues("error").Inc()
		return nil, err
	}
	rows, err := sess.DB().QueryContext(ctx, sql)
	if err != nil {
		metrics.Queries.WithLabelValues("error").Inc()
		return nil, &lakeerr.QueryError{SQL: sql, Err: err}
	}
	defer rows.Close()

	columns, out, err := duck.ScanRows(rows)
	if err != nil {
		metrics.Queries.WithLabelValues("error").Inc()
		return nil, &lakeerr.QueryError{SQL: sql, Err: err}
	}
	metrics.Queries.WithLabelValues("ok").Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	return &ResultSet{Columns: columns, Rows: out, Elapsed: time.Since(start)}, nil
}

// RegisterExternal makes a file visible to every later Execute call on this
// engine under the given alias.
func (e *Engine) RegisterExternal(alias, path string, f format.Format) error {
	if alias == "" {
		return &lakeerr.ValidationError{Field: "alias", Reason: "alias must not be empty"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.externals[alias] = External{Alias: alias, Path: path, Format: f}
	return nil
}

// UnregisterExternal removes a registered external file.
func (e *Engine) UnregisterExternal(alias string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.externals, alias)
}
