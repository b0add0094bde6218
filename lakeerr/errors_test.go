package lakeerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

func TestNotFoundError(t *testing.T) {
	cause := fmt.Errorf("stat failed")
	err := &lakeerr.NotFoundError{Kind: "table", Name: "expenses", Err: cause}

	if !lakeerr.IsNotFound(err) {
		t.Error("IsNotFound should match NotFoundError")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match underlying cause via Unwrap")
	}

	wrapped := fmt.Errorf("load: %w", err)
	if !lakeerr.IsNotFound(wrapped) {
		t.Error("IsNotFound should match through wrapping")
	}

	var target *lakeerr.NotFoundError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should match through wrapping")
	}
	if target.Name != "expenses" {
		t.Errorf("Name = %q, want expenses", target.Name)
	}
}

func TestConcurrentModificationError(t *testing.T) {
	err := &lakeerr.ConcurrentModificationError{
		Table:          "expenses",
		BaseSnapshotID: 41,
		CurrentID:      42,
	}

	if !lakeerr.IsConcurrentModification(err) {
		t.Error("IsConcurrentModification should match")
	}
	if lakeerr.IsNotFound(err) {
		t.Error("IsNotFound should not match a ConcurrentModificationError")
	}
	if err.Error() == "" {
		t.Error("Error() should return non-empty string")
	}
}

func TestSchemaViolationError(t *testing.T) {
	err := &lakeerr.SchemaViolationError{Table: "health", Column: "value", Reason: "expected double"}

	wrapped := fmt.Errorf("insert: %w", err)
	if !lakeerr.IsSchemaViolation(wrapped) {
		t.Error("IsSchemaViolation should match through wrapping")
	}

	var target *lakeerr.SchemaViolationError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should match through wrapping")
	}
	if target.Column != "value" {
		t.Errorf("Column = %q, want value", target.Column)
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("parse error")
	err := &lakeerr.ValidationError{Field: "predicate", Reason: "unparseable", Err: cause}

	if !lakeerr.IsValidation(err) {
		t.Error("IsValidation should match")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match underlying cause via Unwrap")
	}
}

func TestQueryAndConversionErrors(t *testing.T) {
	qerr := &lakeerr.QueryError{SQL: "SELEC 1", Err: fmt.Errorf("syntax error")}
	if !lakeerr.IsQuery(qerr) {
		t.Error("IsQuery should match QueryError")
	}

	cerr := &lakeerr.ConversionError{Source: "parquet", Target: "arrow", Err: fmt.Errorf("short read")}
	if !lakeerr.IsConversion(cerr) {
		t.Error("IsConversion should match ConversionError")
	}
	if lakeerr.IsQuery(cerr) {
		t.Error("IsQuery should not match a ConversionError")
	}
}
