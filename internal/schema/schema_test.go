package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/schema"
)

func sampleTables() []schema.Table {
	return []schema.Table{
		{
			Name: "orders",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
				{Name: "customer_id", Type: schema.TypeInteger},
			},
			ForeignKeys: []schema.ForeignKey{
				{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
			},
		},
		{
			Name: "customers",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
				{Name: "name", Type: schema.TypeString},
			},
		},
	}
}

func TestFingerprintStableUnderReordering(t *testing.T) {
	tables := sampleTables()
	reordered := []schema.Table{tables[1], tables[0]}

	reordered[1].Columns = []schema.Column{tables[0].Columns[1], tables[0].Columns[0]}

	assert.Equal(t, schema.ComputeFingerprint(tables), schema.ComputeFingerprint(reordered))
}

func TestFingerprintChangesOnStructuralDrift(t *testing.T) {
	tables := sampleTables()
	fp1 := schema.ComputeFingerprint(tables)

	tables[0].Columns = append(tables[0].Columns, schema.Column{Name: "total", Type: schema.TypeFloat})
	fp2 := schema.ComputeFingerprint(tables)

	assert.NotEqual(t, fp1, fp2)
}

func TestMemoryStorePutGetDelete(t *testing.T) {
	store := schema.NewMemoryStore()
	snap := schema.NewSnapshot("sales_db", sampleTables())

	store.Put(snap)

	got, ok := store.Get("sales_db")
	require.True(t, ok)
	assert.Equal(t, snap.Fingerprint, got.Fingerprint)

	store.Delete("sales_db")
	_, ok = store.Get("sales_db")
	assert.False(t, ok)
}

func TestCheckFingerprintMismatch(t *testing.T) {
	store := schema.NewMemoryStore()
	snap := schema.NewSnapshot("sales_db", sampleTables())
	store.Put(snap)

	err := schema.CheckFingerprint(store, "sales_db", schema.Fingerprint("stale"))
	require.Error(t, err)

	pe, ok := pipelineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, pipelineerr.CodeSchemaVersionMismatch, pe.Code)
}

func TestCheckFingerprintUnknownDatasource(t *testing.T) {
	store := schema.NewMemoryStore()

	err := schema.CheckFingerprint(store, "missing", schema.Fingerprint("anything"))
	require.Error(t, err)

	pe, ok := pipelineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, pipelineerr.CodeSchemaVersionMismatch, pe.Code)
}

func TestCheckFingerprintMatch(t *testing.T) {
	store := schema.NewMemoryStore()
	snap := schema.NewSnapshot("sales_db", sampleTables())
	store.Put(snap)

	err := schema.CheckFingerprint(store, "sales_db", snap.Fingerprint)
	assert.NoError(t, err)
}
