// Package format decides which file format a table's data files are written
// in. Resolution walks a fixed precedence chain: explicit per-call override,
// the table's write.format.default property, a per-table config entry, the
// config-wide default, and finally parquet.
package format

import (
	"fmt"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Format names a data file format.
type Format string

const (
	// Parquet is the default format and the compatibility baseline.
	Parquet Format = "parquet"
	// Arrow is the Arrow IPC file format, readable natively by query
	// engines that ship an arrow extension.
	Arrow Format = "arrow"
)

// Parse validates a format name.
func Parse(s string) (Format, error) {
	switch Format(s) {
	case Parquet, Arrow:
		return Format(s), nil
	}
	return "", &lakeerr.ValidationError{
		Field:  "format",
		Reason: fmt.Sprintf("unknown format %q (expected parquet or arrow)", s),
	}
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case Arrow:
		return ".arrow"
	default:
		return ".parquet"
	}
}

func (f Format) String() string { return string(f) }
