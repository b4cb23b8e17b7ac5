// Package schema stores per-datasource schema snapshots and computes
// deterministic fingerprints over them, so the SQL Agent can detect a stale
// plan against a schema that has drifted since the plan was generated.
package schema

// ColumnType is the small set of logical types schema retrieval normalizes
// every driver-specific column type down to before handing it to the LLM
// gateway or the planner.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
	TypeTime    ColumnType = "timestamp"
	TypeJSON    ColumnType = "json"
	TypeUnknown ColumnType = "unknown"
)

// Column describes one column of one table.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey describes a single-column foreign key relationship, the
// granularity schema retrieval needs to let the planner propose joins.
type ForeignKey struct {
	Column          string
	ReferencedTable string
	ReferencedColumn string
}

// Table is one table or view within a datasource.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	RowEstimate int64
}

// Snapshot is the full schema of one datasource as of the moment it was
// retrieved, the Go representation of spec.md's SchemaSnapshot entity.
type Snapshot struct {
	Datasource  string
	Tables      []Table
	Fingerprint Fingerprint
}
