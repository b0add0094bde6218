// Package lakehouse is a local-first tabular data engine: versioned tables
// with snapshot time travel, copy-on-write mutations, dual Parquet/Arrow
// data files, and SQL over everything through embedded DuckDB.
package lakehouse

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/internal/duck"
	"github.com/jpequegn/iceberg-lakehouse/mutate"
	"github.com/jpequegn/iceberg-lakehouse/queries"
	"github.com/jpequegn/iceberg-lakehouse/query"
)

// ConfigFileName is the default format config file, kept inside the
// warehouse directory.
const ConfigFileName = "lakehouse.yaml"

// QueryStoreFileName holds saved queries and execution history, kept inside
// the warehouse directory.
const QueryStoreFileName = "queries.json"

// Lakehouse wires the catalog, format resolution, mutation engine, and
// query engine over one warehouse directory. It is the primary entry point
// for using the engine as a library.
type Lakehouse struct {
	warehouse   string
	configPath  string
	logger      *slog.Logger
	arrowNative bool
	probeSkip   bool

	cat      *catalog.Catalog
	cfg      *format.Config
	resolver *format.Resolver
	mutator  *mutate.Engine
	queries  *query.Engine
	saved    *queries.Store
}

// Option configures a Lakehouse.
type Option func(*Lakehouse)

// WithLogger sets the logger for all components.
// If not set, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(lh *Lakehouse) { lh.logger = l }
}

// WithConfigPath overrides the format config file location
// (default: <warehouse>/lakehouse.yaml).
func WithConfigPath(path string) Option {
	return func(lh *Lakehouse) { lh.configPath = path }
}

// WithArrowNative fixes the arrow reader path instead of probing DuckDB for
// the arrow extension at open time.
func WithArrowNative(native bool) Option {
	return func(lh *Lakehouse) {
		lh.arrowNative = native
		lh.probeSkip = true
	}
}

// Open loads (or implicitly initializes) the warehouse at the given
// directory and wires the engines. The arrow capability probe runs once
// here; every session the engines open inherits its result.
func Open(ctx context.Context, warehouse string, opts ...Option) (*Lakehouse, error) {
	lh := &Lakehouse{warehouse: warehouse}
	for _, opt := range opts {
		opt(lh)
	}
	if lh.logger == nil {
		lh.logger = slog.Default()
	}
	if lh.configPath == "" {
		lh.configPath = filepath.Join(warehouse, ConfigFileName)
	}

	cfg, err := format.LoadConfig(lh.configPath)
	if err != nil {
		return nil, err
	}
	lh.cfg = cfg

	if !lh.probeSkip {
		lh.arrowNative = duck.ProbeArrowNative(ctx)
		lh.logger.Info("arrow reader selected", "native", lh.arrowNative)
	}

	lh.cat = catalog.New(warehouse, catalog.WithLogger(lh.logger))
	lh.resolver = format.NewResolver(cfg, lh.logger)
	lh.mutator = mutate.New(lh.cat, lh.resolver,
		mutate.WithLogger(lh.logger),
		mutate.WithArrowNative(lh.arrowNative),
	)
	lh.queries = query.New(lh.cat,
		query.WithLogger(lh.logger),
		query.WithArrowNative(lh.arrowNative),
	)

	lh.saved, err = queries.OpenStore(filepath.Join(warehouse, QueryStoreFileName))
	if err != nil {
		return nil, err
	}
	return lh, nil
}

// Warehouse returns the warehouse root directory.
func (lh *Lakehouse) Warehouse() string { return lh.warehouse }

// Catalog returns the table catalog.
func (lh *Lakehouse) Catalog() *catalog.Catalog { return lh.cat }

// Config returns the format config.
func (lh *Lakehouse) Config() *format.Config { return lh.cfg }

// Resolver returns the format resolver.
func (lh *Lakehouse) Resolver() *format.Resolver { return lh.resolver }

// Mutate returns the mutation engine.
func (lh *Lakehouse) Mutate() *mutate.Engine { return lh.mutator }

// Query returns the query engine.
func (lh *Lakehouse) Query() *query.Engine { return lh.queries }

// Saved returns the saved-query and history store.
func (lh *Lakehouse) Saved() *queries.Store { return lh.saved }

// ArrowNative reports whether arrow data files are read natively by DuckDB
// in this process.
func (lh *Lakehouse) ArrowNative() bool { return lh.arrowNative }
