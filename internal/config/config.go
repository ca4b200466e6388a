// Package config loads and validates the gateway's YAML configuration.
//
// DESIGN: one Config struct mirrors the YAML file section by section.
// Environment references in values are expanded before parsing, so secrets
// stay out of the file (`api_key: ${ANTHROPIC_API_KEY}`).
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	Remote     RemoteConfig     `yaml:"remote"`
	Tiers      []TierConfig     `yaml:"tiers"`
	Routing    RoutingConfig    `yaml:"routing"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig is the gateway's own listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BackendConfig describes the local llama-server.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// Managed spawns and supervises llama-server in-process. When false the
	// gateway assumes an externally run server at BaseURL.
	Managed      bool          `yaml:"managed"`
	BinPath      string        `yaml:"bin_path"`
	Port         int           `yaml:"port"`
	ExtraArgs    []string      `yaml:"extra_args"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// RemoteConfig is shared by all remote tiers.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// BedrockRegion switches the relay to SigV4-signed Bedrock endpoints.
	BedrockRegion string `yaml:"bedrock_region"`
}

// TierConfig maps one tier to its target.
type TierConfig struct {
	Tier   int    `yaml:"tier"`
	Target string `yaml:"target"` // "local" or "remote"
	Model  string `yaml:"model"`  // remote model id
}

// RoutingConfig maps intent categories to tiers.
type RoutingConfig struct {
	Intents map[string]int `yaml:"intents"`
	// ClassifierModel overrides the backend model for classification calls.
	ClassifierModel string `yaml:"classifier_model"`
}

// StoreConfig is the sqlite session store.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	ClassifyTTL time.Duration `yaml:"classify_ttl"`
}

// MonitoringConfig covers logging and telemetry.
type MonitoringConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"` // "auto", "json", "console"
	TelemetryPath string `yaml:"telemetry_path"`
	TokenEncoding string `yaml:"token_encoding"`
}

// Load reads, env-expands, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: one local
// tier, in-memory sessions, classification disabled by the all-tier-1 map.
func Default() *Config {
	cfg := &Config{
		Tiers: []TierConfig{{Tier: 1, Target: "local"}},
		Routing: RoutingConfig{
			Intents: map[string]int{
				"chit_chat":   1,
				"simple_code": 1,
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultBasePort
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = DefaultBackendPort
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", c.Backend.Port)
	}
	if c.Backend.BinPath == "" {
		c.Backend.BinPath = DefaultBackendBin
	}
	if c.Backend.ReadyTimeout == 0 {
		c.Backend.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultRemoteBaseURL
	}
	if len(c.Tiers) == 0 {
		c.Tiers = []TierConfig{{Tier: 1, Target: "local"}}
	}
	if len(c.Routing.Intents) == 0 {
		c.Routing.Intents = map[string]int{
			"chit_chat":     1,
			"simple_code":   1,
			"hard_question": 1,
		}
	}
	if c.Store.SessionTTL == 0 {
		c.Store.SessionTTL = DefaultSessionTTL
	}
	if c.Store.ClassifyTTL == 0 {
		c.Store.ClassifyTTL = DefaultClassifyCacheTTL
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = DefaultLogLevel
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "auto"
	}
	if c.Monitoring.TokenEncoding == "" {
		c.Monitoring.TokenEncoding = DefaultTokenEncoding
	}
}

func (c *Config) validate() error {
	seen := map[int]bool{}
	for _, t := range c.Tiers {
		if t.Tier < 1 || t.Tier > 3 {
			return fmt.Errorf("tier %d out of range 1..3", t.Tier)
		}
		if seen[t.Tier] {
			return fmt.Errorf("tier %d configured twice", t.Tier)
		}
		seen[t.Tier] = true
		switch t.Target {
		case "local":
		case "remote":
			if t.Model == "" {
				return fmt.Errorf("remote tier %d needs a model id", t.Tier)
			}
		default:
			return fmt.Errorf("tier %d target %q must be local or remote", t.Tier, t.Target)
		}
	}
	for intent, tier := range c.Routing.Intents {
		if !seen[tier] {
			return fmt.Errorf("intent %s maps to unconfigured tier %d", intent, tier)
		}
	}
	return nil
}

// SortedTiers returns the tier configs ordered by tier number.
func (c *Config) SortedTiers() []TierConfig {
	tiers := append([]TierConfig(nil), c.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Tier < tiers[j].Tier })
	return tiers
}

// envRefPattern matches ${VAR} and ${VAR:-default}.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} references with their environment
// values. The ${VAR:-default} form substitutes the default when the
// variable is unset or empty.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		if v := os.Getenv(groups[1]); v != "" {
			return v
		}
		return groups[2]
	})
}
