package format

import (
	"fmt"
	"log/slog"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Source says which precedence step decided a resolution.
type Source string

const (
	SourceOverride      Source = "override"
	SourceTableProperty Source = "table-property"
	SourceTableConfig   Source = "table-config"
	SourceDefaultConfig Source = "default-config"
	SourceFallback      Source = "fallback"
)

// Resolver picks the write format for a table. Precedence, strongest first:
// explicit override, table property, per-table config, config default,
// parquet.
type Resolver struct {
	cfg    *Config
	logger *slog.Logger
}

// NewResolver creates a resolver over the given config. cfg may be nil, in
// which case only overrides, table properties, and the fallback apply.
func NewResolver(cfg *Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger.With("component", "format")}
}

// Resolve decides the format for writes against the given table state.
// override is the explicit per-call choice; empty means "not specified".
func (r *Resolver) Resolve(meta *catalog.TableMetadata, override string) (Format, Source, error) {
	if override != "" {
		f, err := Parse(override)
		if err != nil {
			return "", "", err
		}
		return f, SourceOverride, nil
	}

	if prop, ok := meta.Properties[catalog.PropertyWriteFormat]; ok {
		f, err := Parse(prop)
		if err != nil {
			// A corrupt property must not silently fall through to a
			// weaker source.
			return "", "", &lakeerr.ValidationError{
				Field:  catalog.PropertyWriteFormat,
				Reason: fmt.Sprintf("table %s carries invalid format %q", meta.Identifier(), prop),
			}
		}
		return f, SourceTableProperty, nil
	}

	if r.cfg != nil {
		if f, ok := r.tableConfig(meta); ok {
			return f, SourceTableConfig, nil
		}
		if f, ok := r.cfg.DefaultFormat(); ok {
			return f, SourceDefaultConfig, nil
		}
	}

	return Parquet, SourceFallback, nil
}

// tableConfig looks up the per-table entry under the qualified name first,
// then the bare name for tables in the default namespace.
func (r *Resolver) tableConfig(meta *catalog.TableMetadata) (Format, bool) {
	if f, ok := r.cfg.TableFormat(meta.Identifier()); ok {
		return f, true
	}
	if meta.Namespace == catalog.DefaultNamespace {
		if f, ok := r.cfg.TableFormat(meta.Name); ok {
			return f, true
		}
	}
	return "", false
}
