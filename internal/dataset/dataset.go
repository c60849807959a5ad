package dataset

import (
	"fmt"
	"time"
)

// ColumnType is the declared type of a dataset column.
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeNumber   ColumnType = "number"
	TypeInteger  ColumnType = "integer"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDatetime ColumnType = "datetime"
)

var validColumnTypes = map[ColumnType]bool{
	TypeString:   true,
	TypeNumber:   true,
	TypeInteger:  true,
	TypeBoolean:  true,
	TypeDate:     true,
	TypeDatetime: true,
}

// ValidColumnType reports whether t is a recognized column type.
func ValidColumnType(t ColumnType) bool {
	return validColumnTypes[t]
}

// Column is one named, typed column of a dataset schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered column list of a dataset. Order reflects the source
// file; identity derivation is order-independent (see internal/fingerprint).
type Schema []Column

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// TypeOf returns the declared type of the named column, or false if absent.
func (s Schema) TypeOf(name string) (ColumnType, bool) {
	for _, c := range s {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// IsNumeric reports whether t carries numeric values.
func (t ColumnType) IsNumeric() bool {
	return t == TypeNumber || t == TypeInteger
}

// DataSet is a validated in-memory tabular dataset delivered by the upload/
// parsing collaborator. Immutable once registered: the orchestrator never
// re-parses raw files and never mutates rows.
type DataSet struct {
	// UploadID is the unique identifier assigned at ingestion.
	UploadID string `json:"upload_id"`

	// Name is a human-readable label (typically the source file name).
	Name string `json:"name,omitempty"`

	// Schema is the finalized column list.
	Schema Schema `json:"schema"`

	// RowCount is the total number of rows.
	RowCount int `json:"row_count"`

	// Rows holds the row data as column-name keyed values.
	Rows []map[string]any `json:"rows,omitempty"`

	// RegisteredAt is when the dataset entered the system (server clock).
	RegisteredAt time.Time `json:"registered_at"`
}

// Validate ensures the dataset has a usable identity and a coherent schema.
func (d *DataSet) Validate() error {
	if d.UploadID == "" {
		return fmt.Errorf("upload_id is required")
	}

	if len(d.Schema) == 0 {
		return fmt.Errorf("schema must declare at least one column")
	}

	seen := make(map[string]bool, len(d.Schema))
	for _, c := range d.Schema {
		if c.Name == "" {
			return fmt.Errorf("schema contains a column with an empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("schema contains duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if !ValidColumnType(c.Type) {
			return fmt.Errorf("column %q has unsupported type %q", c.Name, c.Type)
		}
	}

	if d.RowCount < 0 {
		return fmt.Errorf("row_count must not be negative")
	}
	if len(d.Rows) > 0 && d.RowCount != len(d.Rows) {
		return fmt.Errorf("row_count %d does not match %d supplied rows", d.RowCount, len(d.Rows))
	}

	return nil
}
