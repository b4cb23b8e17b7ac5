package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadDatasourcesParsesConnectionParams(t *testing.T) {
	path := writeFile(t, `
version: 1
datasources:
  - id: orders_db
    description: primary orders store
    connection:
      type: postgres
      dsn: "postgres://localhost/orders"
    statement_timeout_ms: 5000
    row_limit: 1000
    max_bytes: 1048576
`)

	cfg, err := config.LoadDatasources(path)
	require.NoError(t, err)

	require.Len(t, cfg.Datasources, 1)
	ds := cfg.Datasources[0]
	assert.Equal(t, "orders_db", ds.ID)
	assert.Equal(t, "postgres", ds.Connection.Type)
	assert.Equal(t, "postgres://localhost/orders", ds.Connection.Params["dsn"])
	assert.Equal(t, 5000, ds.StatementTimeoutMS)
	assert.EqualValues(t, 1048576, ds.MaxBytes)
}

func TestLoadLLMParsesDefaultAndNamedAgents(t *testing.T) {
	path := writeFile(t, `
version: 1
default:
  provider: openai
  model: gpt-4o
  temperature: 0.1
  api_key: "${env:OPENAI_KEY}"
agents:
  planner:
    provider: anthropic
    model: claude
    temperature: 0.0
`)

	cfg, err := config.LoadLLM(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Default.Provider)
	assert.Equal(t, 0.1, cfg.Default.Temperature)
	require.Contains(t, cfg.Agents, "planner")
	assert.Equal(t, "anthropic", cfg.Agents["planner"].Provider)
}

func TestLoadPoliciesAndRolesFromPolicies(t *testing.T) {
	path := writeFile(t, `
version: 1
roles:
  analyst:
    description: read-only analyst
    role: analyst
    allowed_datasources:
      - orders_db
    allowed_tables:
      - billing.invoices
`)

	cfg, err := config.LoadPolicies(path)
	require.NoError(t, err)

	roles := config.RolesFromPolicies(cfg)
	require.Len(t, roles, 1)
	assert.Equal(t, "analyst", roles[0].Name)
	assert.ElementsMatch(t, []string{"orders_db.*", "billing.invoices"}, roles[0].Resources)
}

func TestSecretResolverExpandsEnvPlaceholder(t *testing.T) {
	t.Setenv("OPENAI_KEY", "sk-test-123")

	r := config.NewSecretResolver(nil)
	expanded, err := r.Expand("${env:OPENAI_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", expanded)
}

func TestSecretResolverExpandsProviderPlaceholder(t *testing.T) {
	t.Setenv("VAULT_DB_PASSWORD", "hunter2")

	secrets := &config.SecretsConfig{
		Version: 1,
		Providers: []config.SecretProvider{
			{ID: "vault", Type: "env", Params: map[string]string{"prefix": "VAULT_"}},
		},
	}

	r := config.NewSecretResolver(secrets)
	expanded, err := r.Expand("${vault:DB_PASSWORD}")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", expanded)
}

func TestSecretResolverRejectsUnknownProvider(t *testing.T) {
	r := config.NewSecretResolver(&config.SecretsConfig{})
	_, err := r.Expand("${vault:DB_PASSWORD}")
	assert.Error(t, err)
}

func TestSecretResolverRejectsUnsupportedProviderType(t *testing.T) {
	secrets := &config.SecretsConfig{
		Providers: []config.SecretProvider{
			{ID: "aws", Type: "aws-secrets-manager"},
		},
	}

	r := config.NewSecretResolver(secrets)
	_, err := r.Expand("${aws:db-password}")
	assert.Error(t, err)
}

func TestSecretResolverExpandDatasourcesAndLLM(t *testing.T) {
	t.Setenv("ORDERS_DSN", "postgres://localhost/orders")
	t.Setenv("OPENAI_KEY", "sk-test-123")

	r := config.NewSecretResolver(nil)

	ds := &config.DatasourcesConfig{Datasources: []config.DatasourceEntry{
		{ID: "orders_db", Connection: config.ConnectionConfig{
			Type:   "postgres",
			Params: map[string]string{"dsn": "${env:ORDERS_DSN}"},
		}},
	}}
	require.NoError(t, r.ExpandDatasources(ds))
	assert.Equal(t, "postgres://localhost/orders", ds.Datasources[0].Connection.Params["dsn"])

	llm := &config.LLMConfig{
		Default: config.AgentDefault{APIKey: "${env:OPENAI_KEY}"},
		Agents:  map[string]config.AgentDefault{"planner": {APIKey: "${env:OPENAI_KEY}"}},
	}
	require.NoError(t, r.ExpandLLM(llm))
	assert.Equal(t, "sk-test-123", llm.Default.APIKey)
	assert.Equal(t, "sk-test-123", llm.Agents["planner"].APIKey)
}
