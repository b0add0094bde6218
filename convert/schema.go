package convert

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// CatalogType maps an Arrow data type back to a column type.
func CatalogType(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.INT64:
		return catalog.TypeLong, nil
	case arrow.FLOAT64:
		return catalog.TypeDouble, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return catalog.TypeString, nil
	case arrow.BOOL:
		return catalog.TypeBoolean, nil
	case arrow.TIMESTAMP:
		return catalog.TypeTimestamp, nil
	case arrow.DATE32:
		return catalog.TypeDate, nil
	}
	return "", &lakeerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported arrow type %s", dt)}
}

// SchemaFromArrow reconstructs a table schema from an Arrow schema, reading
// stable field IDs back from field metadata when present and numbering
// positionally otherwise.
func SchemaFromArrow(as *arrow.Schema) (catalog.Schema, error) {
	fields := make([]catalog.Field, len(as.Fields()))
	for i, f := range as.Fields() {
		t, err := CatalogType(f.Type)
		if err != nil {
			return catalog.Schema{}, fmt.Errorf("column %s: %w", f.Name, err)
		}
		id := i + 1
		if v, ok := f.Metadata.GetValue(FieldIDMetaKey); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				id = parsed
			}
		}
		fields[i] = catalog.Field{
			ID:       id,
			Name:     f.Name,
			Type:     t,
			Required: !f.Nullable,
		}
	}
	return catalog.Schema{SchemaID: 1, Fields: fields}, nil
}
