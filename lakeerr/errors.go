// Package lakeerr defines the error taxonomy surfaced by the lakehouse core.
// Callers are expected to classify failures with the Is* helpers (which use
// errors.As under the hood) rather than matching on message text.
package lakeerr

import (
	"errors"
	"fmt"
)

// NotFoundError indicates that a table, snapshot, or file does not exist.
type NotFoundError struct {
	Kind string // "table", "snapshot", "file", "query"
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q not found: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// AlreadyExistsError indicates a duplicate table (or other named object).
type AlreadyExistsError struct {
	Kind string
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// ConcurrentModificationError indicates a snapshot commit lost the
// compare-and-swap race: the table's current snapshot moved between the
// caller reading it and attempting to commit.
type ConcurrentModificationError struct {
	Table          string
	BaseSnapshotID int64
	CurrentID      int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of table %q: commit based on snapshot %d but current is %d",
		e.Table, e.BaseSnapshotID, e.CurrentID)
}

// SchemaViolationError indicates a row or schema change that conflicts with
// the table's current schema (unknown column, type mismatch, null in a
// required column).
type SchemaViolationError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema violation on table %q, column %q: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("schema violation on table %q: %s", e.Table, e.Reason)
}

// ValidationError indicates a malformed predicate, assignment, or
// configuration value.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConversionError indicates a format conversion could not preserve the
// roundtrip contract (or failed outright).
type ConversionError struct {
	Source string
	Target string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion %s -> %s failed: %v", e.Source, e.Target, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// QueryError indicates the underlying SQL engine reported a parse or
// execution failure.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAlreadyExists reports whether err is (or wraps) an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	var target *AlreadyExistsError
	return errors.As(err, &target)
}

// IsConcurrentModification reports whether err is (or wraps) a
// ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}

// IsSchemaViolation reports whether err is (or wraps) a SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var target *SchemaViolationError
	return errors.As(err, &target)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConversion reports whether err is (or wraps) a ConversionError.
func IsConversion(err error) bool {
	var target *ConversionError
	return errors.As(err, &target)
}

// IsQuery reports whether err is (or wraps) a QueryError.
func IsQuery(err error) bool {
	var target *QueryError
	return errors.As(err, &target)
}
