// Package config loads process configuration from the environment, mirroring
// the ledger bootstrap's struct-tag-driven Config + Options pattern. Since
// lib-commons itself is not part of the grounding pack, SetConfigFromEnvVars
// is reimplemented locally over reflection + struct tags rather than
// imported.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level process configuration, the nl2sql analogue of the
// ledger's Config struct.
type Config struct {
	EnvName  string `env:"ENV_NAME" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Version  string `env:"VERSION" envDefault:"dev"`

	ServerAddress string `env:"SERVER_ADDRESS" envDefault:":8080"`

	OtelServiceName    string `env:"OTEL_RESOURCE_SERVICE_NAME" envDefault:"nl2sql"`
	OtelServiceVersion string `env:"OTEL_RESOURCE_SERVICE_VERSION" envDefault:"dev"`
	OtelExporter       string `env:"OBSERVABILITY_EXPORTER" envDefault:"none"`
	OtelEndpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PipelineTimeout time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"120s"`
	NodeTimeout     time.Duration `env:"NODE_TIMEOUT" envDefault:"30s"`

	SandboxExecPoolSize  int `env:"SANDBOX_EXEC_POOL_SIZE" envDefault:"8"`
	SandboxIndexPoolSize int `env:"SANDBOX_INDEX_POOL_SIZE" envDefault:"4"`

	RefineMaxAttempts int `env:"REFINE_MAX_ATTEMPTS" envDefault:"3"`

	SchemaStorePath  string `env:"SCHEMA_STORE_PATH" envDefault:"./data/schema"`
	VectorIndexPath  string `env:"VECTOR_INDEX_PATH" envDefault:"./data/vectorindex.db"`
	ArtifactBasePath string `env:"ARTIFACT_BASE_PATH" envDefault:"./data/artifacts"`

	AuditLogPath string `env:"AUDIT_LOG_PATH" envDefault:"./data/audit.log"`

	LLMBreakerConsecutiveFailures uint32 `env:"LLM_BREAKER_CONSECUTIVE_FAILURES" envDefault:"5"`
	VectorBreakerConsecutiveFailures uint32 `env:"VECTOR_BREAKER_CONSECUTIVE_FAILURES" envDefault:"5"`
	AdapterBreakerConsecutiveFailures uint32 `env:"ADAPTER_BREAKER_CONSECUTIVE_FAILURES" envDefault:"5"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`

	DatasourcesConfigPath string `env:"DATASOURCES_CONFIG_PATH" envDefault:"./config/datasources.yaml"`
	LLMConfigPath         string `env:"LLM_CONFIG_PATH" envDefault:"./config/llm.yaml"`
	PoliciesConfigPath    string `env:"POLICIES_CONFIG_PATH" envDefault:"./config/policies.yaml"`
	SecretsConfigPath     string `env:"SECRETS_CONFIG_PATH" envDefault:"./config/secrets.yaml"`

	OllamaEndpoint string `env:"OLLAMA_ENDPOINT"`
	OllamaModel    string `env:"OLLAMA_MODEL" envDefault:"embeddinggemma"`
}

// Load reads .env (if present, ignored if missing) then populates a Config
// from process environment variables, applying envDefault for unset ones.
// This is the nl2sql equivalent of libCommons.SetConfigFromEnvVars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := bindEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}

	return cfg, nil
}

func bindEnv(cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		key, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}

		raw, present := os.LookupEnv(key)
		if !present {
			raw = field.Tag.Get("envDefault")
			if raw == "" {
				continue
			}
		}

		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("field %s (env %s): %w", field.Name, key, err)
		}
	}

	return nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}

			f.SetInt(int64(d))

			return nil
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}

		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}

		f.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}

		f.SetFloat(n)
	default:
		return fmt.Errorf("unsupported field kind %s for value %q", f.Kind(), strings.TrimSpace(raw))
	}

	return nil
}
