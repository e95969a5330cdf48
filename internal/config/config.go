package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule identifiers accepted in rules.enabled.
const (
	RuleQuoteDependency = "quote_dependency"
	RuleWonStatus       = "won_status"
	RuleActiveContract  = "active_contract"
)

// Config models dealguard.yml.
type Config struct {
	Store    StoreConfig     `yaml:"store" json:"store"`
	Rules    RulesConfig     `yaml:"rules" json:"rules"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Server   ServerConfig    `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn,omitempty"`
}

type RulesConfig struct {
	Entity                string            `yaml:"entity" json:"entity"`
	Enabled               []string          `yaml:"enabled" json:"enabled"`
	WonStatus             string            `yaml:"won_status" json:"won_status"`
	ActiveContractStates  []string          `yaml:"active_contract_states" json:"active_contract_states"`
	Messages              map[string]string `yaml:"messages" json:"messages"`
	InfrastructureMessage string            `yaml:"infrastructure_message" json:"infrastructure_message"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Message returns the configured denial text for a rule.
func (r RulesConfig) Message(rule string) string {
	return r.Messages[rule]
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be 'sqlite' or 'postgres'")
	}
	if c.Rules.Entity == "" {
		return fmt.Errorf("config.rules.entity is required")
	}
	seen := map[string]bool{}
	for _, rule := range c.Rules.Enabled {
		switch rule {
		case RuleQuoteDependency, RuleWonStatus, RuleActiveContract:
		default:
			return fmt.Errorf("config.rules.enabled has unknown rule %q", rule)
		}
		if seen[rule] {
			return fmt.Errorf("config.rules.enabled lists %s twice", rule)
		}
		seen[rule] = true
		if c.Rules.Message(rule) == "" {
			return fmt.Errorf("config.rules.messages.%s is required", rule)
		}
	}
	if seen[RuleWonStatus] && c.Rules.WonStatus == "" {
		return fmt.Errorf("config.rules.won_status is required")
	}
	if seen[RuleActiveContract] {
		if len(c.Rules.ActiveContractStates) == 0 {
			return fmt.Errorf("config.rules.active_contract_states is required")
		}
		for _, st := range c.Rules.ActiveContractStates {
			if st == "" {
				return fmt.Errorf("config.rules.active_contract_states has empty state")
			}
		}
	}
	if c.Rules.InfrastructureMessage == "" {
		return fmt.Errorf("config.rules.infrastructure_message is required")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.logging.format must be 'console' or 'json'")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dealguard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  driver: sqlite
  dsn: ""

rules:
  entity: opportunity
  enabled: [quote_dependency, won_status, active_contract]
  won_status: won
  active_contract_states: [active]
  messages:
    quote_dependency: "Cannot delete this opportunity because it has related quotes. Delete or reassign the quote records first."
    won_status: "Cannot delete an opportunity with status Won."
    active_contract: "Cannot delete this opportunity because its account has active contracts."
  infrastructure_message: "The deletion could not be validated right now. Try again later."

logging:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
