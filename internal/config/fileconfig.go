package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/lerianstudio/nl2sql/internal/policy"
)

// DatasourcesConfig is the parsed shape of the datasources config file
// (spec.md §6). Connection carries the dialect-specific fields as a flat
// map since the set of keys a postgres DSN needs differs from a mongo URI.
type DatasourcesConfig struct {
	Version     int               `yaml:"version"`
	Datasources []DatasourceEntry `yaml:"datasources"`
}

// DatasourceEntry describes one registrable datasource.
type DatasourceEntry struct {
	ID                 string           `yaml:"id"`
	Description        string           `yaml:"description"`
	Connection         ConnectionConfig `yaml:"connection"`
	StatementTimeoutMS int              `yaml:"statement_timeout_ms"`
	RowLimit           int              `yaml:"row_limit"`
	MaxBytes           int64            `yaml:"max_bytes"`
}

// ConnectionConfig is {type, ...params}. Params absorbs everything besides
// type via yaml's inline-map support, since each dialect needs different
// fields (dsn for postgres, uri+database for mongo).
type ConnectionConfig struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:",inline"`
}

// LLMConfig is the parsed shape of the llm config file (spec.md §6).
type LLMConfig struct {
	Version int                     `yaml:"version"`
	Default AgentDefault            `yaml:"default"`
	Agents  map[string]AgentDefault `yaml:"agents"`
}

// AgentDefault is one named LLM agent's static configuration.
type AgentDefault struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
}

// PoliciesConfig is the parsed shape of the policies config file
// (spec.md §6), keyed by role name.
type PoliciesConfig struct {
	Version int                  `yaml:"version"`
	Roles   map[string]RoleEntry `yaml:"roles"`
}

// RoleEntry is one role's allowed-resource set.
type RoleEntry struct {
	Description        string   `yaml:"description"`
	Role               string   `yaml:"role"`
	AllowedDatasources []string `yaml:"allowed_datasources"`
	AllowedTables      []string `yaml:"allowed_tables"`
}

// SecretsConfig declares the secret providers ${provider-id:key} placeholders
// resolve against. Only provider type "env" is wired — no concrete secret
// manager SDK (Vault, AWS Secrets Manager, ...) is in the grounding pack, so
// any other type fails to resolve with a named error rather than silently
// faking a backend.
type SecretsConfig struct {
	Version   int              `yaml:"version"`
	Providers []SecretProvider `yaml:"providers"`
}

// SecretProvider is one entry of the secrets file's providers[] list.
type SecretProvider struct {
	ID     string            `yaml:"id"`
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:",inline"`
}

// LoadDatasources reads and parses a datasources config file.
func LoadDatasources(path string) (*DatasourcesConfig, error) {
	cfg := &DatasourcesConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load datasources config: %w", err)
	}

	return cfg, nil
}

// LoadLLM reads and parses an llm config file.
func LoadLLM(path string) (*LLMConfig, error) {
	cfg := &LLMConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}

	return cfg, nil
}

// LoadPolicies reads and parses a policies config file.
func LoadPolicies(path string) (*PoliciesConfig, error) {
	cfg := &PoliciesConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load policies config: %w", err)
	}

	return cfg, nil
}

// LoadSecrets reads and parses a secrets config file.
func LoadSecrets(path string) (*SecretsConfig, error) {
	cfg := &SecretsConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, fmt.Errorf("load secrets config: %w", err)
	}

	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, out)
}

// RolesFromPolicies converts a parsed PoliciesConfig into policy.Role values
// for policy.NewEngine. Each allowed_datasources entry becomes a "ds.*"
// wildcard resource; allowed_tables entries are appended verbatim, letting
// an operator grant either a whole datasource or individual "ds.table" pairs.
func RolesFromPolicies(cfg *PoliciesConfig) []policy.Role {
	roles := make([]policy.Role, 0, len(cfg.Roles))

	for name, entry := range cfg.Roles {
		resources := make([]string, 0, len(entry.AllowedDatasources)+len(entry.AllowedTables))
		for _, ds := range entry.AllowedDatasources {
			resources = append(resources, ds+".*")
		}

		resources = append(resources, entry.AllowedTables...)
		roles = append(roles, policy.Role{Name: name, Resources: resources})
	}

	return roles
}

var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+):([a-zA-Z0-9_.-]+)\}`)

// SecretResolver expands ${env:NAME} and ${provider-id:key} placeholders
// (spec.md §6) found in config file values.
type SecretResolver struct {
	providers map[string]SecretProvider
}

// NewSecretResolver indexes cfg's providers by ID. A nil cfg resolves only
// ${env:...} placeholders.
func NewSecretResolver(cfg *SecretsConfig) *SecretResolver {
	r := &SecretResolver{providers: map[string]SecretProvider{}}
	if cfg == nil {
		return r
	}

	for _, p := range cfg.Providers {
		r.providers[p.ID] = p
	}

	return r
}

// Expand replaces every ${scope:key} placeholder in raw, returning an error
// naming the first placeholder that could not be resolved.
func (r *SecretResolver) Expand(raw string) (string, error) {
	var resolveErr error

	expanded := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if resolveErr != nil {
			return match
		}

		sub := placeholderPattern.FindStringSubmatch(match)
		val, err := r.resolve(sub[1], sub[2])
		if err != nil {
			resolveErr = err
			return match
		}

		return val
	})

	if resolveErr != nil {
		return "", resolveErr
	}

	return expanded, nil
}

func (r *SecretResolver) resolve(scope, key string) (string, error) {
	if scope == "env" {
		val, ok := os.LookupEnv(key)
		if !ok {
			return "", fmt.Errorf("env placeholder %q is not set", key)
		}

		return val, nil
	}

	provider, ok := r.providers[scope]
	if !ok {
		return "", fmt.Errorf("unknown secret provider %q", scope)
	}

	if provider.Type != "env" {
		return "", fmt.Errorf("secret provider %q: unsupported type %q (only env-backed providers are wired)", scope, provider.Type)
	}

	envKey := provider.Params["prefix"] + key

	val, ok := os.LookupEnv(envKey)
	if !ok {
		return "", fmt.Errorf("secret provider %q: env var %q is not set", scope, envKey)
	}

	return val, nil
}

// ExpandDatasources resolves placeholders in every connection param.
func (r *SecretResolver) ExpandDatasources(cfg *DatasourcesConfig) error {
	for i := range cfg.Datasources {
		for k, v := range cfg.Datasources[i].Connection.Params {
			expanded, err := r.Expand(v)
			if err != nil {
				return fmt.Errorf("datasource %q: %w", cfg.Datasources[i].ID, err)
			}

			cfg.Datasources[i].Connection.Params[k] = expanded
		}
	}

	return nil
}

// ExpandLLM resolves placeholders in the default agent's and every named
// agent's api_key.
func (r *SecretResolver) ExpandLLM(cfg *LLMConfig) error {
	expanded, err := r.Expand(cfg.Default.APIKey)
	if err != nil {
		return fmt.Errorf("llm default: %w", err)
	}

	cfg.Default.APIKey = expanded

	for name, agent := range cfg.Agents {
		expanded, err := r.Expand(agent.APIKey)
		if err != nil {
			return fmt.Errorf("llm agent %q: %w", name, err)
		}

		agent.APIKey = expanded
		cfg.Agents[name] = agent
	}

	return nil
}
