package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/artifact"
	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
	"github.com/lerianstudio/nl2sql/internal/schema"
	"github.com/lerianstudio/nl2sql/internal/vectorindex"
)

// fakeAdapter is a minimal in-memory adapter.Adapter, optionally also
// implementing SchemaIntrospector.
type fakeAdapter struct {
	name        string
	dialect     adapter.Dialect
	tables      []schema.Table
	introspect  bool
	rows        []adapter.Row
	dryRunErr   error
	executeErr  error
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Dialect: a.dialect, PlaceholderFormat: "dollar"}
}
func (a *fakeAdapter) DryRun(context.Context, string, []any) error { return a.dryRunErr }
func (a *fakeAdapter) Execute(context.Context, string, []any) ([]adapter.Row, error) {
	return a.rows, a.executeErr
}
func (a *fakeAdapter) Ping(context.Context) error { return nil }
func (a *fakeAdapter) Close() error               { return nil }
func (a *fakeAdapter) IntrospectSchema(context.Context) ([]schema.Table, error) {
	if !a.introspect {
		return nil, assert.AnError
	}

	return a.tables, nil
}

// plainAdapter implements adapter.Adapter only, not SchemaIntrospector —
// a remote-driver adapter with no generic schema-introspection capability.
type plainAdapter struct {
	name    string
	dialect adapter.Dialect
}

func (a *plainAdapter) Name() string                      { return a.name }
func (a *plainAdapter) Capabilities() adapter.Capabilities { return adapter.Capabilities{Dialect: a.dialect} }
func (a *plainAdapter) DryRun(context.Context, string, []any) error         { return nil }
func (a *plainAdapter) Execute(context.Context, string, []any) ([]adapter.Row, error) {
	return nil, nil
}
func (a *plainAdapter) Ping(context.Context) error { return nil }
func (a *plainAdapter) Close() error               { return nil }

// fixedIndex is a vectorindex.Index backed by a fixed set of chunks per
// datasource, every chunk carrying the same embedding as fixedEmbedder
// returns, so Gateway.Search's L1 threshold always passes.
type fixedIndex struct {
	chunks map[string][]vectorindex.Chunk
}

func newFixedIndex() *fixedIndex { return &fixedIndex{chunks: make(map[string][]vectorindex.Chunk)} }

func (i *fixedIndex) Upsert(_ context.Context, chunks []vectorindex.Chunk) error {
	for _, c := range chunks {
		i.chunks[c.Datasource] = append(i.chunks[c.Datasource], c)
	}

	return nil
}

func (i *fixedIndex) DeleteDatasource(_ context.Context, datasource string) error {
	delete(i.chunks, datasource)
	return nil
}

func (i *fixedIndex) All(_ context.Context, datasource string) ([]vectorindex.Chunk, error) {
	return i.chunks[datasource], nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// scriptedAgent replies according to which stage's system prompt it sees,
// so one fake Agent can drive the whole pipeline end to end.
type scriptedAgent struct {
	name string
}

func (a *scriptedAgent) Name() string { return a.name }

func (a *scriptedAgent) Invoke(_ context.Context, req llmgateway.Request) (llmgateway.Response, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "security gate"):
		return llmgateway.Response{Text: "ALLOW", InputTokens: 3, OutputTokens: 1}, nil
	case strings.Contains(req.SystemPrompt, "planning stage"):
		payload, _ := json.Marshal(map[string]any{
			"from":         "orders",
			"columns":      []string{"id"},
			"where_column": "",
			"where_op":     "",
			"where_value":  nil,
			"limit":        0,
		})

		return llmgateway.Response{Text: string(payload), InputTokens: 5, OutputTokens: 2}, nil
	default:
		return llmgateway.Response{Text: "noted"}, nil
	}
}

func ordersSnapshotTables() []schema.Table {
	return []schema.Table{{Name: "orders", Columns: []schema.Column{{Name: "id", Type: schema.TypeInteger}}}}
}

func newTestEngine(t *testing.T) (*Engine, *fixedIndex) {
	t.Helper()

	dir := t.TempDir()
	store, err := artifact.NewLocalFS(dir)
	require.NoError(t, err)

	idx := newFixedIndex()
	registry := adapter.NewRegistry()

	e := New(Dependencies{
		Adapters:     registry,
		PolicyEngine: policy.NewEngine([]policy.Role{{Name: "analyst", Resources: []string{"*"}}}),
		VectorIndex:  idx,
		Embedder:     fixedEmbedder{},
		SandboxMgr:   sandbox.NewManager(sandbox.Config{ExecPoolSize: 2, IndexPoolSize: 2}, registry, logging.NoneLogger{}),
		Artifacts:    store,
		Settings:     Settings{"env": "test"},
	})

	return e, idx
}

func registerOrders(t *testing.T, e *Engine, idx *fixedIndex) *fakeAdapter {
	t.Helper()

	a := &fakeAdapter{
		name:       "orders_db",
		dialect:    adapter.DialectPostgres,
		tables:     ordersSnapshotTables(),
		introspect: true,
		rows:       []adapter.Row{{"id": 1}},
	}

	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: a}))

	_, err := e.IndexDatasource(context.Background(), "orders_db")
	require.NoError(t, err)

	require.NoError(t, e.ConfigureLLM(AgentConfig{Name: "test-llm", Agent: &scriptedAgent{name: "test-llm"}}))

	return a
}

func TestRunQueryEndToEndSuccess(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	uc := policy.UserContext{TenantID: "tenant-a", Role: "analyst"}
	result := e.RunQuery(context.Background(), NaturalLanguageQuery{Text: "show me orders"}, uc)

	require.Empty(t, result.Errors, "expected no pipeline errors, got %+v", result.Errors)
	assert.NotEmpty(t, result.FinalAnswer)
	assert.NotEmpty(t, result.TraceID)
}

func TestRunQueryConcurrentCallsDoNotCollideOnArtifactPaths(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	uc := policy.UserContext{TenantID: "tenant-a", Role: "analyst"}

	type outcome struct {
		traceID string
		uri     string
	}

	results := make(chan outcome, 2)

	run := func() {
		res := e.RunQuery(context.Background(), NaturalLanguageQuery{Text: "show me orders"}, uc)
		require.Empty(t, res.Errors)

		var uri string
		for _, ref := range res.SubResults {
			uri = ref.URI
		}

		results <- outcome{traceID: res.TraceID, uri: uri}
	}

	go run()
	go run()

	first := <-results
	second := <-results

	assert.NotEqual(t, first.traceID, second.traceID)
	assert.NotEqual(t, first.uri, second.uri, "concurrent requests must not share an artifact path")
}

func TestRunQueryGeneratesTraceIDWhenEmpty(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	uc := policy.UserContext{TenantID: "tenant-a", Role: "analyst"}
	result := e.RunQuery(context.Background(), NaturalLanguageQuery{Text: "show me orders"}, uc)

	assert.NotEmpty(t, result.TraceID)
}

func TestRunQueryFailsClosedWithNoLLMConfigured(t *testing.T) {
	e, idx := newTestEngine(t)

	a := &fakeAdapter{name: "orders_db", dialect: adapter.DialectPostgres, tables: ordersSnapshotTables(), introspect: true}
	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: a}))
	_, err := e.IndexDatasource(context.Background(), "orders_db")
	require.NoError(t, err)

	_ = idx

	uc := policy.UserContext{TenantID: "tenant-a", Role: "analyst"}
	result := e.RunQuery(context.Background(), NaturalLanguageQuery{Text: "show me orders"}, uc)

	require.NotEmpty(t, result.Errors)
}

func TestAddDatasourceRejectsNilAdapter(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.AddDatasource(DatasourceConfig{})
	assert.Error(t, err)
}

func TestListDatasourcesReportsIndexedState(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	infos := e.ListDatasources()
	require.Len(t, infos, 1)
	assert.Equal(t, "orders_db", infos[0].Name)
	assert.True(t, infos[0].Indexed)
	assert.Equal(t, 1, infos[0].TableCount)
}

func TestIndexDatasourceFailsForUnregisteredDatasource(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.IndexDatasource(context.Background(), "missing")
	assert.Error(t, err)
}

func TestIndexDatasourceFailsWhenAdapterCannotIntrospect(t *testing.T) {
	e, _ := newTestEngine(t)
	a := &plainAdapter{name: "no_introspect", dialect: adapter.DialectMongo}
	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: a}))

	_, err := e.IndexDatasource(context.Background(), "no_introspect")
	assert.Error(t, err)
}

func TestIndexAllDatasourcesIsolatesPerDatasourceFailures(t *testing.T) {
	e, _ := newTestEngine(t)

	good := &fakeAdapter{name: "good", dialect: adapter.DialectPostgres, tables: ordersSnapshotTables(), introspect: true}
	bad := &plainAdapter{name: "bad", dialect: adapter.DialectMongo}

	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: good}))
	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: bad}))

	results := e.IndexAllDatasources(context.Background())

	require.Len(t, results, 2)
	assert.NoError(t, results["good"].Err)
	assert.Error(t, results["bad"].Err)
}

func TestClearIndexRemovesEveryDatasource(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	require.NoError(t, e.ClearIndex(context.Background()))

	infos := e.ListDatasources()
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Indexed)
}

func TestConfigureLLMActivatesFirstAgentAndStripsAPIKey(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.ConfigureLLM(AgentConfig{Name: "gpt", APIKey: "secret", Agent: &scriptedAgent{name: "gpt"}}))

	cfg, ok := e.GetLLM("gpt")
	require.True(t, ok)
	assert.Empty(t, cfg.APIKey)

	assert.Contains(t, e.ListLLMs(), "gpt")
}

func TestConfigureLLMRejectsNilAgent(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.ConfigureLLM(AgentConfig{Name: "broken"})
	assert.Error(t, err)
}

func TestGetLLMUnknownNameReturnsFalse(t *testing.T) {
	e, _ := newTestEngine(t)
	_, ok := e.GetLLM("nope")
	assert.False(t, ok)
}

func TestCheckPermissionsAndAllowedResources(t *testing.T) {
	e, idx := newTestEngine(t)
	registerOrders(t, e, idx)

	uc := policy.UserContext{TenantID: "tenant-a", Role: "analyst"}
	assert.True(t, e.CheckPermissions(uc, "orders_db", "orders"))

	locked := policy.UserContext{TenantID: "tenant-a", Role: "nobody"}
	assert.False(t, e.CheckPermissions(locked, "orders_db", "orders"))

	resources := e.GetAllowedResources(uc)
	assert.Equal(t, "analyst", resources.Role)
	assert.Contains(t, resources.Resources, "orders_db.orders")
}

func TestGetCurrentSettingsIsACopyAndGetSettingLooksUpOneKey(t *testing.T) {
	e, _ := newTestEngine(t)

	snap := e.GetCurrentSettings()
	snap["env"] = "mutated"

	v, ok := e.GetSetting("env")
	require.True(t, ok)
	assert.Equal(t, "test", v)

	_, ok = e.GetSetting("missing")
	assert.False(t, ok)
}

func TestValidateConfigurationReportsMissingLLMAndDatasource(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Error(t, e.ValidateConfiguration())

	require.NoError(t, e.ConfigureLLM(AgentConfig{Name: "gpt", Agent: &scriptedAgent{name: "gpt"}}))
	assert.Error(t, e.ValidateConfiguration(), "still no datasource registered")

	a := &fakeAdapter{name: "orders_db", dialect: adapter.DialectPostgres}
	require.NoError(t, e.AddDatasource(DatasourceConfig{Adapter: a}))
	assert.NoError(t, e.ValidateConfiguration())
}
