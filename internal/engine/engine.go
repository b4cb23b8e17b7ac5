// Package engine implements the single in-process façade spec.md §6/§6.1
// names: Engine.RunQuery plus the management operations
// (AddDatasource/IndexDatasource/ConfigureLLM/CheckPermissions/…) a thin
// HTTP or CLI layer would call. Grounded on the teacher's bootstrap.Service
// composition-root pattern (GetRouteRegistrar()-style handoff): Engine
// itself wires every already-grounded component together, same as the
// teacher's Service struct wires repositories/use-cases/handlers, but never
// exposes a transport of its own.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/artifact"
	"github.com/lerianstudio/nl2sql/internal/cache"
	"github.com/lerianstudio/nl2sql/internal/eventbus"
	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/observability"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/resilience"
	"github.com/lerianstudio/nl2sql/internal/runtime"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
	"github.com/lerianstudio/nl2sql/internal/schema"
	"github.com/lerianstudio/nl2sql/internal/sqlagent"
	"github.com/lerianstudio/nl2sql/internal/stage"
	"github.com/lerianstudio/nl2sql/internal/vectorindex"
)

// NaturalLanguageQuery is one request into RunQuery.
type NaturalLanguageQuery struct {
	Text string
	// TraceID is generated if empty.
	TraceID string
}

// QueryResult is what RunQuery always returns — it never returns a Go
// error itself; failures are recorded in Errors, per §6.1.
type QueryResult struct {
	TraceID     string
	FinalAnswer string
	SubResults  map[string]pipeline.ResultArtifactRef
	Errors      []*pipelineerr.Error
	Warnings    []string
	Reasoning   []pipeline.ReasoningEvent
}

// DatasourceConfig is what AddDatasource registers. Constructing the
// concrete Adapter (dialing a real Postgres/MySQL/Mongo driver) is out of
// this module's scope per spec.md §1 — callers supply an already-built
// adapter.Adapter.
type DatasourceConfig struct {
	Adapter adapter.Adapter
}

// DatasourceInfo summarizes one registered datasource for ListDatasources.
type DatasourceInfo struct {
	Name         string
	Dialect      adapter.Dialect
	Indexed      bool
	TableCount   int
	SchemaVersion string
}

// IndexStats summarizes one IndexDatasource run.
type IndexStats struct {
	TableCount  int
	ColumnCount int
	ChunkCount  int
	Duration    time.Duration
}

// IndexResult pairs an IndexStats with the error (if any) IndexAllDatasources
// hit for one datasource, so one failing datasource never aborts the others.
type IndexResult struct {
	Stats IndexStats
	Err   error
}

// AllowedResources is the answer GetAllowedResources gives: every
// datasource.table pair uc's role can see, out of everything currently
// indexed.
type AllowedResources struct {
	Role      string
	Resources []string
}

// Settings is the configuration snapshot passed to New as
// Dependencies.Settings, GetCurrentSettings' return value. The Engine
// returns the values as given and masks none of them.
type Settings map[string]string

// SchemaIntrospector is the optional capability an Adapter may implement to
// support IndexDatasource. Most adapters (remote drivers) cannot introspect
// their own schema generically, so this is a narrow, separately-asserted
// interface rather than part of adapter.Adapter itself.
type SchemaIntrospector interface {
	IntrospectSchema(ctx context.Context) ([]schema.Table, error)
}

// Embedder is re-exported so callers constructing an Engine do not need to
// import internal/vectorindex directly just to supply one.
type Embedder = vectorindex.Embedder

// Engine is the composition root every external surface (HTTP, CLI, tests)
// calls through. Build one with New; it owns no goroutines of its own
// beyond what runtime.Engine.Run spawns per request.
type Engine struct {
	cfg Settings

	adapters     *adapter.Registry
	schemaStore  schema.Store
	schemaCache  *cache.SchemaCache
	vectorIndex  vectorindex.Index
	vectorGW     *vectorindex.Gateway
	embedder     Embedder
	policyEngine *policy.Engine
	llmGateway   *llmgateway.Gateway
	sandboxMgr   *sandbox.Manager
	artifacts    artifact.Store
	breakers     *resilience.Registry
	meter        *observability.Meter
	auditSink    observability.AuditSink
	publisher    eventbus.Publisher

	nodeTimeout   time.Duration
	globalTimeout time.Duration
	refineRetry   resilience.RetryConfig

	llmConfigs map[string]AgentConfig
	logger     logging.Logger
}

// AgentConfig is the metadata ConfigureLLM/GetLLM/ListLLMs operate over.
// APIKey is cleared by GetLLM before being returned to a caller.
type AgentConfig struct {
	Name     string
	Provider string
	Model    string
	APIKey   string
	Agent    llmgateway.Agent
}

// Dependencies bundles every already-grounded component New wires into an
// Engine. Each field is optional only in the sense that a caller assembling
// a reduced test Engine may omit parts it does not exercise; ConfigureLLM
// itself is still required before RunQuery can do anything useful.
type Dependencies struct {
	Adapters     *adapter.Registry
	SchemaStore  schema.Store
	SchemaCache  cache.Store
	VectorIndex  vectorindex.Index
	Embedder     Embedder
	Thresholds   vectorindex.Thresholds
	PolicyEngine *policy.Engine
	Breakers     *resilience.Registry
	SandboxMgr   *sandbox.Manager
	Artifacts    artifact.Store
	Meter        *observability.Meter
	AuditSink    observability.AuditSink
	Publisher    eventbus.Publisher
	Logger       logging.Logger
	NodeTimeout  time.Duration
	GlobalTimeout time.Duration
	RefineRetry  resilience.RetryConfig
	Settings     Settings
}

// New wires every component in deps into a runnable Engine, filling in
// defaults for omitted parts. The stage graph, SQL Agent and runtime.Engine
// are built per request by buildRuntime, so tests and the real binary share
// one code path.
func New(deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NoneLogger{}
	}

	if deps.Adapters == nil {
		deps.Adapters = adapter.NewRegistry()
	}

	if deps.SchemaStore == nil {
		deps.SchemaStore = schema.NewMemoryStore()
	}

	var schemaCacheBackend cache.Store = deps.SchemaCache
	if schemaCacheBackend == nil {
		schemaCacheBackend = cache.NoneCache{}
	}

	if deps.PolicyEngine == nil {
		deps.PolicyEngine = policy.NewEngine(nil)
	}

	if deps.Breakers == nil {
		// llmgateway.Gateway and vectorindex.Gateway both call through a
		// non-nil *Breaker, so every domain they use must be present even
		// when a caller supplies no explicit BreakerConfig overrides.
		deps.Breakers = resilience.NewRegistry(map[resilience.Domain]resilience.BreakerConfig{
			resilience.DomainLLM:     {},
			resilience.DomainVector:  {},
			resilience.DomainAdapter: {},
		}, logger)
	}

	if deps.Meter == nil {
		deps.Meter, _ = observability.NewMeter()
	}

	if deps.AuditSink == nil {
		deps.AuditSink = observability.NoneSink{}
	}

	if deps.Publisher == nil {
		deps.Publisher = eventbus.NonePublisher{}
	}

	vectorGW := vectorindex.NewGateway(deps.VectorIndex, deps.Embedder, deps.Thresholds, deps.Breakers.Get(resilience.DomainVector))
	llmGW := llmgateway.NewGateway(deps.Breakers.Get(resilience.DomainLLM))

	refineRetry := deps.RefineRetry
	if refineRetry.MaxAttempts == 0 {
		refineRetry.MaxAttempts = 3
	}

	return &Engine{
		cfg:           deps.Settings,
		adapters:      deps.Adapters,
		schemaStore:   deps.SchemaStore,
		schemaCache:   cache.NewSchemaCache(schemaCacheBackend, 10*time.Minute, 60*time.Second, logger),
		vectorIndex:   deps.VectorIndex,
		vectorGW:      vectorGW,
		embedder:      deps.Embedder,
		policyEngine:  deps.PolicyEngine,
		llmGateway:    llmGW,
		sandboxMgr:    deps.SandboxMgr,
		artifacts:     deps.Artifacts,
		breakers:      deps.Breakers,
		meter:         deps.Meter,
		auditSink:     deps.AuditSink,
		publisher:     deps.Publisher,
		nodeTimeout:   deps.NodeTimeout,
		globalTimeout: deps.GlobalTimeout,
		refineRetry:   refineRetry,
		llmConfigs:    make(map[string]AgentConfig),
		logger:        logger,
	}
}

// RunQuery executes one natural-language query end to end. It never returns
// a Go error — every failure mode surfaces in QueryResult.Errors, per
// spec.md §6.1.
func (e *Engine) RunQuery(ctx context.Context, q NaturalLanguageQuery, uc policy.UserContext) QueryResult {
	traceID := q.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	state := pipeline.NewState(traceID, uc.TenantID, q.Text, uc)

	// The Executor stage scopes every artifact it writes under requestID,
	// so a fresh runtime (and its Agent/Executor) is built per request
	// rather than shared across concurrent RunQuery calls — construction
	// is pure struct wiring, not I/O, so this costs nothing beyond a few
	// allocations.
	rt := e.buildRuntime(traceID)

	final, err := rt.Run(ctx, state)
	if err != nil {
		if pe, ok := pipelineerr.As(err); ok {
			final.Errors = append(final.Errors, pe)
		} else {
			final.Errors = append(final.Errors, pipelineerr.Wrap(pipelineerr.CodeSandboxCrash, "unclassified pipeline failure", err))
		}
	}

	return QueryResult{
		TraceID:     final.TraceID,
		FinalAnswer: final.FinalAnswer,
		SubResults:  final.SubResults,
		Errors:      final.Errors,
		Warnings:    final.Warnings,
		Reasoning:   final.Reasoning,
	}
}

// AddDatasource registers cfg.Adapter under its own Name(). A zero-value
// Adapter field is rejected rather than silently registering a nil entry.
func (e *Engine) AddDatasource(cfg DatasourceConfig) error {
	if cfg.Adapter == nil {
		return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "datasource config has no adapter")
	}

	e.adapters.Register(cfg.Adapter)

	return nil
}

// ListDatasources reports every registered adapter alongside whether it has
// been indexed yet.
func (e *Engine) ListDatasources() []DatasourceInfo {
	names := e.adapters.List()
	out := make([]DatasourceInfo, 0, len(names))

	for _, name := range names {
		info := DatasourceInfo{Name: name}

		if a, ok := e.adapters.Get(name); ok {
			info.Dialect = a.Capabilities().Dialect
		}

		if snap, ok := e.schemaStore.Get(name); ok {
			info.Indexed = true
			info.TableCount = len(snap.Tables)
			info.SchemaVersion = string(snap.Fingerprint)
		}

		out = append(out, info)
	}

	return out
}

// IndexDatasource introspects id's adapter (if it implements
// SchemaIntrospector), stores the resulting Snapshot, invalidates any
// cached copy, and upserts table/column chunks into the vector index.
func (e *Engine) IndexDatasource(ctx context.Context, id string) (IndexStats, error) {
	start := time.Now()

	a, ok := e.adapters.Get(id)
	if !ok {
		return IndexStats{}, pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no adapter registered for datasource "+id)
	}

	introspector, ok := a.(SchemaIntrospector)
	if !ok {
		return IndexStats{}, pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "adapter for "+id+" does not support schema introspection")
	}

	tables, err := introspector.IntrospectSchema(ctx)
	if err != nil {
		return IndexStats{}, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "schema introspection failed for "+id, err)
	}

	snapshot := schema.NewSnapshot(id, tables)
	e.schemaStore.Put(snapshot)

	if err := e.schemaCache.Invalidate(ctx, id); err != nil {
		e.logger.Warnf("schema cache invalidate failed for %s: %s", id, err)
	}

	chunks, err := e.buildChunks(ctx, id, tables)
	if err != nil {
		return IndexStats{}, err
	}

	if e.vectorIndex != nil {
		if err := e.vectorIndex.Upsert(ctx, chunks); err != nil {
			return IndexStats{}, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "vector index upsert failed for "+id, err)
		}
	}

	columnCount := 0
	for _, t := range tables {
		columnCount += len(t.Columns)
	}

	return IndexStats{
		TableCount:  len(tables),
		ColumnCount: columnCount,
		ChunkCount:  len(chunks),
		Duration:    time.Since(start),
	}, nil
}

// IndexAllDatasources indexes every registered datasource independently —
// one datasource's failure does not prevent the others from being indexed,
// matching runtime.Engine's per-SubQuery failure isolation philosophy.
func (e *Engine) IndexAllDatasources(ctx context.Context) map[string]IndexResult {
	results := make(map[string]IndexResult)

	for _, name := range e.adapters.List() {
		stats, err := e.IndexDatasource(ctx, name)
		results[name] = IndexResult{Stats: stats, Err: err}
	}

	return results
}

// ClearIndex removes every datasource's chunks from the vector index and
// every snapshot from the schema store, used before a full re-index.
func (e *Engine) ClearIndex(ctx context.Context) error {
	for _, snap := range e.schemaStore.List() {
		if e.vectorIndex != nil {
			if err := e.vectorIndex.DeleteDatasource(ctx, snap.Datasource); err != nil {
				return fmt.Errorf("clear vector index for %s: %w", snap.Datasource, err)
			}
		}

		e.schemaStore.Delete(snap.Datasource)

		if err := e.schemaCache.Invalidate(ctx, snap.Datasource); err != nil {
			e.logger.Warnf("schema cache invalidate failed for %s: %s", snap.Datasource, err)
		}
	}

	return nil
}

// ConfigureLLM registers cfg as an available LLM agent and, if this is the
// first agent configured, makes it active.
func (e *Engine) ConfigureLLM(cfg AgentConfig) error {
	if cfg.Agent == nil {
		return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "LLM config for "+cfg.Name+" has no agent implementation")
	}

	metered := observability.NewMeteringAgent(cfg.Agent, e.meter, e.auditSink)
	e.llmGateway.Register(metered)
	e.llmConfigs[cfg.Name] = cfg

	if e.llmGateway.Active() == "" {
		if err := e.llmGateway.SetActive(cfg.Name); err != nil {
			return err
		}
	}

	return nil
}

// GetLLM returns cfg for name with APIKey stripped, per §6.1.
func (e *Engine) GetLLM(name string) (AgentConfig, bool) {
	cfg, ok := e.llmConfigs[name]
	if !ok {
		return AgentConfig{}, false
	}

	cfg.APIKey = ""

	return cfg, true
}

// ListLLMs returns every configured LLM agent name.
func (e *Engine) ListLLMs() []string {
	return e.llmGateway.List()
}

// CheckPermissions reports whether uc's role can access datasourceID.table.
func (e *Engine) CheckPermissions(uc policy.UserContext, datasourceID, table string) bool {
	return e.policyEngine.Allowed(uc, datasourceID, table)
}

// GetAllowedResources reports every datasource.table pair currently indexed
// that uc's role can see.
func (e *Engine) GetAllowedResources(uc policy.UserContext) AllowedResources {
	var candidates []string

	for _, snap := range e.schemaStore.List() {
		for _, t := range snap.Tables {
			candidates = append(candidates, snap.Datasource+"."+t.Name)
		}
	}

	return AllowedResources{
		Role:      uc.Role,
		Resources: e.policyEngine.AllowedResources(uc, candidates),
	}
}

// GetCurrentSettings returns a copy of the configuration snapshot passed to
// New via Dependencies.Settings.
func (e *Engine) GetCurrentSettings() Settings {
	out := make(Settings, len(e.cfg))
	for k, v := range e.cfg {
		out[k] = v
	}

	return out
}

// GetSetting returns one setting by key.
func (e *Engine) GetSetting(key string) (string, bool) {
	v, ok := e.cfg[key]
	return v, ok
}

// ValidateConfiguration reports whether the Engine has enough wired
// dependencies to serve RunQuery: at least one active LLM agent and at
// least one registered datasource.
func (e *Engine) ValidateConfiguration() error {
	if e.llmGateway.Active() == "" {
		return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no LLM agent configured")
	}

	if len(e.adapters.List()) == 0 {
		return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no datasource registered")
	}

	return nil
}

func (e *Engine) buildChunks(ctx context.Context, datasource string, tables []schema.Table) ([]vectorindex.Chunk, error) {
	var chunks []vectorindex.Chunk

	for _, t := range tables {
		chunk, err := e.embedChunk(ctx, datasource, vectorindex.KindTable, t.Name, map[string]string{"table": t.Name})
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, chunk)

		for _, c := range t.Columns {
			content := t.Name + "." + c.Name
			chunk, err := e.embedChunk(ctx, datasource, vectorindex.KindColumn, content, map[string]string{"table": t.Name, "column": c.Name})
			if err != nil {
				return nil, err
			}

			chunks = append(chunks, chunk)
		}
	}

	return chunks, nil
}

func (e *Engine) embedChunk(ctx context.Context, datasource string, kind vectorindex.Kind, content string, metadata map[string]string) (vectorindex.Chunk, error) {
	var embedding []float32

	if e.embedder != nil {
		var err error

		embedding, err = e.embedder.Embed(ctx, content)
		if err != nil {
			return vectorindex.Chunk{}, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "embedding failed for "+datasource, err)
		}
	}

	return vectorindex.NewChunk(datasource, kind, content, embedding, metadata), nil
}

// buildRuntime wires the stage graph, SQL Agent and runtime.Engine for one
// request, scoping the Executor's artifact writes under requestID. Every
// node is wrapped with a node-level timeout (internal/resilience's
// previously-unwired WithNodeTimeout) and an observability.InstrumentedNode
// duration recorder.
func (e *Engine) buildRuntime(requestID string) *runtime.Engine {
	ingress := []stage.Node{
		e.instrument(stage.NewSemanticNode()),
		e.instrument(stage.NewIntentValidatorNode(e.llmGateway)),
		e.instrument(stage.NewSchemaRetrieverNode(e.vectorGW, e.schemaStore, 8)),
		e.instrument(stage.NewDecomposerNode()),
	}

	agent := sqlagent.NewAgent(
		e.instrument(stage.NewPlannerNode(e.llmGateway)),
		e.instrument(stage.NewLogicalValidatorNode(e.schemaStore, e.policyEngine)),
		e.instrument(stage.NewGeneratorNode(e.adapters)),
		e.instrument(stage.NewPhysicalValidatorNode(e.sandboxMgr)),
		e.instrument(stage.NewExecutorNode(e.sandboxMgr, e.artifacts, e.schemaStore, requestID)),
		e.instrument(stage.NewRefinerNode(e.llmGateway)),
		e.refineRetry,
	)

	resultPlanner := e.instrument(stage.NewResultPlanNode())
	aggregator := e.instrument(stage.NewAggregatorNode())

	return runtime.New(ingress, agent, resultPlanner, aggregator, e.globalTimeout)
}

// instrument wraps n with a node-level timeout and duration metering, the
// combination every stage in buildRuntime passes through.
func (e *Engine) instrument(n stage.Node) stage.Node {
	return observability.Instrument(nodeTimeoutNode{node: n, timeout: e.nodeTimeout}, e.meter)
}

// nodeTimeoutNode bounds n's Run to timeout, independent of (and always at
// or before) the pipeline's own global deadline, per
// resilience.WithNodeTimeout's contract.
type nodeTimeoutNode struct {
	node    stage.Node
	timeout time.Duration
}

func (n nodeTimeoutNode) Name() string { return n.node.Name() }

func (n nodeTimeoutNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	ctx, cancel := resilience.WithNodeTimeout(ctx, n.timeout)
	defer cancel()

	return n.node.Run(ctx, state)
}
