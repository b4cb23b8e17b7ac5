// Command nl2sqld wires every component into a runnable engine.Engine and
// blocks until an operating-system signal asks it to stop. It exposes no
// HTTP or CLI surface of its own — that integration layer is out of scope
// per spec.md §1 — so this is the minimal composition root exercising the
// full dependency graph the way a real deployment would assemble it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/adapter/mongo"
	"github.com/lerianstudio/nl2sql/internal/adapter/postgres"
	"github.com/lerianstudio/nl2sql/internal/artifact"
	"github.com/lerianstudio/nl2sql/internal/cache"
	"github.com/lerianstudio/nl2sql/internal/config"
	"github.com/lerianstudio/nl2sql/internal/engine"
	"github.com/lerianstudio/nl2sql/internal/eventbus"
	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/observability"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/resilience"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
	"github.com/lerianstudio/nl2sql/internal/schema"
	"github.com/lerianstudio/nl2sql/internal/telemetry"
	"github.com/lerianstudio/nl2sql/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.OtelServiceName,
		ServiceVersion: cfg.OtelServiceVersion,
		Exporter:       cfg.OtelExporter,
		OTLPEndpoint:   cfg.OtelEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	eng, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer cleanup()

	if err := loadDatasourcesConfig(ctx, eng, cfg, logger); err != nil {
		logger.Warnf("datasources config not loaded: %v", err)
	}

	if err := loadLLMConfig(eng, cfg, logger); err != nil {
		logger.Warnf("llm config not loaded: %v", err)
	}

	if err := eng.ValidateConfiguration(); err != nil {
		logger.Warnf("engine configuration incomplete: %v", err)
	} else {
		logger.Info("engine ready")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	return nil
}

// buildEngine assembles every already-grounded component into an
// engine.Dependencies, the same wiring newTestEngine uses for tests, and
// returns a cleanup closure releasing whatever was opened (vector index,
// cache, publisher, audit file sink).
func buildEngine(ctx context.Context, cfg *config.Config, logger logging.Logger) (*engine.Engine, func(), error) {
	var closers []func() error

	vecIndex, err := vectorindex.OpenSQLiteIndex(cfg.VectorIndexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector index: %w", err)
	}
	closers = append(closers, vecIndex.Close)

	artifacts, err := artifact.NewLocalFS(cfg.ArtifactBasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact store: %w", err)
	}

	var schemaCache cache.Store = cache.NoneCache{}
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}

		schemaCache = redisStore
		closers = append(closers, redisStore.Close)
	}

	var publisher eventbus.Publisher = eventbus.NonePublisher{}
	if cfg.RabbitMQURL != "" {
		rmq, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, "nl2sql.audit", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}

		publisher = rmq
		closers = append(closers, rmq.Close)
	}

	var baseSink observability.AuditSink = observability.NoneSink{}
	if cfg.AuditLogPath != "" {
		fileSink, err := observability.NewRotatingFileSink(cfg.AuditLogPath, 64<<20)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}

		baseSink = fileSink
		closers = append(closers, fileSink.Close)
	}

	auditSink := eventbus.NewMirroringSink(baseSink, publisher, logger)

	meter, err := observability.NewMeter()
	if err != nil {
		return nil, nil, fmt.Errorf("build meter: %w", err)
	}

	breakers := resilience.NewRegistry(map[resilience.Domain]resilience.BreakerConfig{
		resilience.DomainLLM:     {ConsecutiveFailures: cfg.LLMBreakerConsecutiveFailures},
		resilience.DomainVector:  {ConsecutiveFailures: cfg.VectorBreakerConsecutiveFailures},
		resilience.DomainAdapter: {ConsecutiveFailures: cfg.AdapterBreakerConsecutiveFailures},
	}, logger)

	registry := adapter.NewRegistry()

	sandboxMgr := sandbox.NewManager(sandbox.Config{
		ExecPoolSize:  cfg.SandboxExecPoolSize,
		IndexPoolSize: cfg.SandboxIndexPoolSize,
	}, registry, logger)

	policyEngine, err := loadPolicyEngine(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load policies config: %w", err)
	}

	var embedder engine.Embedder
	if cfg.OllamaEndpoint != "" {
		embedder = vectorindex.NewOllamaEmbedder(cfg.OllamaEndpoint, cfg.OllamaModel)
	} else {
		logger.Warn("OLLAMA_ENDPOINT not set: no embedder configured, schema indexing and query answering will fail")
	}

	eng := engine.New(engine.Dependencies{
		Adapters:      registry,
		SchemaStore:   schema.NewMemoryStore(),
		SchemaCache:   schemaCache,
		VectorIndex:   vecIndex,
		Embedder:      embedder,
		PolicyEngine:  policyEngine,
		Breakers:      breakers,
		SandboxMgr:    sandboxMgr,
		Artifacts:     artifacts,
		Meter:         meter,
		AuditSink:     auditSink,
		Publisher:     publisher,
		Logger:        logger,
		NodeTimeout:   cfg.NodeTimeout,
		GlobalTimeout: cfg.PipelineTimeout,
		RefineRetry:   resilience.RetryConfig{MaxAttempts: cfg.RefineMaxAttempts},
		Settings: engine.Settings{
			"env":     cfg.EnvName,
			"version": cfg.Version,
		},
	})

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warnf("cleanup: %v", err)
			}
		}
	}

	return eng, cleanup, nil
}

func loadPolicyEngine(cfg *config.Config, logger logging.Logger) (*policy.Engine, error) {
	policies, err := config.LoadPolicies(cfg.PoliciesConfigPath)
	if err != nil {
		logger.Warnf("policies config not loaded from %s, starting deny-all: %v", cfg.PoliciesConfigPath, err)
		return policy.NewEngine(nil), nil
	}

	return policy.NewEngine(config.RolesFromPolicies(policies)), nil
}

// loadDatasourcesConfig parses cfg.DatasourcesConfigPath, resolves secret
// placeholders, builds a concrete adapter.Adapter per entry (postgres or
// mongo — the only dialects this module has a concrete driver for) and
// registers + indexes each one.
func loadDatasourcesConfig(ctx context.Context, eng *engine.Engine, cfg *config.Config, logger logging.Logger) error {
	dsCfg, err := config.LoadDatasources(cfg.DatasourcesConfigPath)
	if err != nil {
		return err
	}

	secretsCfg, err := config.LoadSecrets(cfg.SecretsConfigPath)
	if err != nil {
		secretsCfg = &config.SecretsConfig{}
	}

	resolver := config.NewSecretResolver(secretsCfg)
	if err := resolver.ExpandDatasources(dsCfg); err != nil {
		return fmt.Errorf("expand datasource secrets: %w", err)
	}

	for _, entry := range dsCfg.Datasources {
		a, err := buildAdapter(ctx, entry)
		if err != nil {
			logger.Warnf("datasource %s: %v", entry.ID, err)
			continue
		}

		if err := eng.AddDatasource(engine.DatasourceConfig{Adapter: a}); err != nil {
			logger.Warnf("datasource %s: register failed: %v", entry.ID, err)
			continue
		}

		if _, err := eng.IndexDatasource(ctx, entry.ID); err != nil {
			logger.Warnf("datasource %s: index failed: %v", entry.ID, err)
		}
	}

	return nil
}

func buildAdapter(ctx context.Context, entry config.DatasourceEntry) (adapter.Adapter, error) {
	switch entry.Connection.Type {
	case "postgres":
		return postgres.New(ctx, entry.ID, entry.Connection.Params["dsn"])
	case "mongo":
		return mongo.New(ctx, entry.ID, entry.Connection.Params["uri"], entry.Connection.Params["database"])
	default:
		return nil, fmt.Errorf("unsupported connection type %q", entry.Connection.Type)
	}
}

// loadLLMConfig parses cfg.LLMConfigPath and registers one llmgateway.Agent
// per named agent (plus "default"). No concrete HTTP-based provider client
// exists anywhere in this module's dependency set (only llmgateway.StaticAgent,
// a deterministic test/dev fake), so every configured agent resolves to a
// StaticAgent seeded with its own name — real provider wiring is a seam
// left for whichever concrete client a deployment adds.
func loadLLMConfig(eng *engine.Engine, cfg *config.Config, logger logging.Logger) error {
	llmCfg, err := config.LoadLLM(cfg.LLMConfigPath)
	if err != nil {
		return err
	}

	secretsCfg, err := config.LoadSecrets(cfg.SecretsConfigPath)
	if err != nil {
		secretsCfg = &config.SecretsConfig{}
	}

	resolver := config.NewSecretResolver(secretsCfg)
	if err := resolver.ExpandLLM(llmCfg); err != nil {
		return fmt.Errorf("expand llm secrets: %w", err)
	}

	register := func(name string, agentCfg config.AgentDefault) error {
		logger.Warnf("llm agent %q (%s/%s): no concrete provider client in this build, using a static placeholder agent", name, agentCfg.Provider, agentCfg.Model)

		return eng.ConfigureLLM(engine.AgentConfig{
			Name:     name,
			Provider: agentCfg.Provider,
			Model:    agentCfg.Model,
			APIKey:   agentCfg.APIKey,
			Agent:    &llmgateway.StaticAgent{AgentName: name},
		})
	}

	if err := register("default", llmCfg.Default); err != nil {
		return fmt.Errorf("configure default llm agent: %w", err)
	}

	for name, agentCfg := range llmCfg.Agents {
		if err := register(name, agentCfg); err != nil {
			return fmt.Errorf("configure llm agent %q: %w", name, err)
		}
	}

	return nil
}
