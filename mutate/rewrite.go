package mutate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/internal/duck"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// rewritePlan is the outcome of a copy-on-write pass: the full data file set
// for the next snapshot, the subset that was freshly written (for cleanup if
// the commit fails), and how many rows matched the predicate.
type rewritePlan struct {
	files     []catalog.DataFile
	rewritten []catalog.DataFile
	matched   int64
}

// rewriteMatching scans every data file of the current snapshot for
// predicate matches. Matching files are rewritten: without the matching rows
// when assignments is nil (delete), or with assignments applied to matching
// rows (update). Files are processed concurrently, each in its own session.
func (e *Engine) rewriteMatching(ctx context.Context, meta *catalog.TableMetadata, predicate string, assignments map[string]string) (*rewritePlan, error) {
	files, err := e.cat.ManifestDataFiles(ctx, meta.CurrentSnapshotRef())
	if err != nil {
		return nil, err
	}
	schema := meta.CurrentSchema()

	if len(files) == 0 {
		// Still validate the predicate against the table shape.
		if err := e.validatePredicate(ctx, meta, predicate); err != nil {
			return nil, err
		}
		return &rewritePlan{}, nil
	}

	writeFormat, err := e.resolveFormat(meta, "")
	if err != nil {
		return nil, err
	}

	type outcome struct {
		keep    *catalog.DataFile // nil when the file is dropped
		fresh   bool
		matched int64
	}
	outcomes := make([]outcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.rewriters)
	for i, df := range files {
		g.Go(func() error {
			res, err := e.rewriteFile(gctx, meta, schema, df, predicate, assignments, writeFormat)
			if err != nil {
				return err
			}
			outcomes[i] = outcome{keep: res.keep, fresh: res.fresh, matched: res.matched}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Drop any files written by goroutines that did finish.
		var written []catalog.DataFile
		for _, o := range outcomes {
			if o.fresh && o.keep != nil {
				written = append(written, *o.keep)
			}
		}
		e.removeFiles(ctx, written)
		return nil, err
	}

	plan := &rewritePlan{}
	for _, o := range outcomes {
		plan.matched += o.matched
		if o.keep != nil {
			plan.files = append(plan.files, *o.keep)
			if o.fresh {
				plan.rewritten = append(plan.rewritten, *o.keep)
			}
		}
	}
	return plan, nil
}

type fileOutcome struct {
	keep    *catalog.DataFile
	fresh   bool
	matched int64
}

// rewriteFile handles one data file: count matches, then rewrite if any.
// COALESCE pins NULL predicate results to false, so rows the predicate
// cannot decide are never deleted or updated.
func (e *Engine) rewriteFile(ctx context.Context, meta *catalog.TableMetadata, schema catalog.Schema, df catalog.DataFile, predicate string, assignments map[string]string, writeFormat format.Format) (fileOutcome, error) {
	fileSchema, ok := meta.SchemaByID(df.SchemaID)
	if !ok {
		return fileOutcome{}, fmt.Errorf("data file %s references unknown schema %d", df.FilePath, df.SchemaID)
	}

	sess, err := duck.NewSession(ctx, e.arrowNative)
	if err != nil {
		return fileOutcome{}, err
	}
	defer sess.Close()

	ref := duck.FileRef{Path: df.FilePath, Format: format.Format(df.FileFormat), Schema: fileSchema}
	if err := sess.RegisterTable(ctx, "f", schema, []duck.FileRef{ref}); err != nil {
		return fileOutcome{}, err
	}

	guard := fmt.Sprintf("COALESCE((%s), FALSE)", predicate)
	var count int64
	row := sess.DB().QueryRowContext(ctx, `SELECT count(*) FROM "f" WHERE `+guard)
	var raw any
	if err := row.Scan(&raw); err != nil {
		return fileOutcome{}, classifySQLError(meta, err)
	}
	if count, err = duck.ParseBoundInt(raw); err != nil {
		return fileOutcome{}, err
	}

	if count == 0 {
		return fileOutcome{keep: &df}, nil
	}

	var query string
	if assignments == nil {
		query = `SELECT * FROM "f" WHERE NOT ` + guard
	} else {
		exprs := make([]string, len(schema.Fields))
		for i, f := range schema.Fields {
			if expr, ok := assignments[f.Name]; ok {
				t, err := duck.SQLType(f.Type)
				if err != nil {
					return fileOutcome{}, err
				}
				exprs[i] = fmt.Sprintf("CASE WHEN %s THEN CAST((%s) AS %s) ELSE %s END AS %s",
					guard, expr, t, duck.Quote(f.Name), duck.Quote(f.Name))
			} else {
				exprs[i] = duck.Quote(f.Name)
			}
		}
		query = "SELECT " + strings.Join(exprs, ", ") + ` FROM "f"`
	}

	rows, err := sess.DB().QueryContext(ctx, query)
	if err != nil {
		return fileOutcome{}, classifySQLError(meta, err)
	}
	_, survivors, err := duck.ScanRows(rows)
	rows.Close()
	if err != nil {
		return fileOutcome{}, err
	}

	if len(survivors) == 0 {
		// Delete emptied the file; it simply leaves the manifest.
		return fileOutcome{matched: count}, nil
	}

	converted := make([]convert.Row, len(survivors))
	for i, r := range survivors {
		converted[i] = convert.Row(r)
	}
	newFile, err := e.writeDataFile(meta, writeFormat, converted, false)
	if err != nil {
		return fileOutcome{}, err
	}
	return fileOutcome{keep: &newFile, fresh: true, matched: count}, nil
}

// validatePredicate checks a predicate against an empty projection of the
// table, so malformed SQL and unknown columns fail even on empty tables.
func (e *Engine) validatePredicate(ctx context.Context, meta *catalog.TableMetadata, predicate string) error {
	sess, err := duck.NewSession(ctx, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.RegisterTable(ctx, "f", meta.CurrentSchema(), nil); err != nil {
		return err
	}
	var n any
	row := sess.DB().QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM "f" WHERE COALESCE((%s), FALSE)`, predicate))
	if err := row.Scan(&n); err != nil {
		return classifySQLError(meta, err)
	}
	return nil
}

// classifySQLError maps DuckDB binder/parser failures to the engine's error
// kinds: unknown columns are schema violations, everything else about the
// statement text is a validation error.
func classifySQLError(meta *catalog.TableMetadata, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Referenced column") || strings.Contains(msg, "not found in FROM clause") {
		return &lakeerr.SchemaViolationError{Table: meta.Identifier(), Reason: msg}
	}
	return &lakeerr.ValidationError{Field: "predicate", Reason: msg, Err: err}
}

// keyMatchPredicate builds the predicate matching existing rows whose key
// columns equal any incoming row's keys.
func keyMatchPredicate(keyFields []catalog.Field, rows []convert.Row) (string, error) {
	clauses := make([]string, len(rows))
	for i, row := range rows {
		parts := make([]string, len(keyFields))
		for j, f := range keyFields {
			v, ok := row[f.Name]
			if !ok || v == nil {
				return "", &lakeerr.ValidationError{Field: f.Name, Reason: "upsert rows must carry every key column"}
			}
			lit, err := sqlLiteral(f, v)
			if err != nil {
				return "", err
			}
			parts[j] = duck.Quote(f.Name) + " = " + lit
		}
		clauses[i] = "(" + strings.Join(parts, " AND ") + ")"
	}
	return strings.Join(clauses, " OR "), nil
}

// sqlLiteral renders a key value as a SQL literal of the column's type.
func sqlLiteral(f catalog.Field, v any) (string, error) {
	fail := func() (string, error) {
		return "", &lakeerr.ValidationError{Field: f.Name, Reason: fmt.Sprintf("cannot use %T as %s key", v, f.Type)}
	}
	switch f.Type {
	case catalog.TypeLong:
		switch n := v.(type) {
		case int64:
			return strconv.FormatInt(n, 10), nil
		case int:
			return strconv.Itoa(n), nil
		case int32:
			return strconv.FormatInt(int64(n), 10), nil
		case float64:
			if n != float64(int64(n)) {
				return fail()
			}
			return strconv.FormatInt(int64(n), 10), nil
		}
	case catalog.TypeDouble:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case int:
			return strconv.Itoa(n), nil
		}
	case catalog.TypeString:
		if s, ok := v.(string); ok {
			return duck.Literal(s), nil
		}
	case catalog.TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
	case catalog.TypeTimestamp:
		switch t := v.(type) {
		case time.Time:
			return "TIMESTAMP " + duck.Literal(t.UTC().Format("2006-01-02 15:04:05.000000")), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return fail()
			}
			return "TIMESTAMP " + duck.Literal(parsed.UTC().Format("2006-01-02 15:04:05.000000")), nil
		}
	case catalog.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return "DATE " + duck.Literal(t.UTC().Format("2006-01-02")), nil
		case string:
			if _, err := time.Parse("2006-01-02", t); err != nil {
				return fail()
			}
			return "DATE " + duck.Literal(t), nil
		}
	}
	return fail()
}
