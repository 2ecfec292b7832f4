package fleetgate

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the declarative configuration: the rule table plus resolver
// tuning. It is loaded at startup (or via a signed bundle for a coordinated
// reload) and never mutated in place.
type Config struct {
	Version      int               `json:"version" yaml:"version"`
	PersonalData []string          `json:"personal_data" yaml:"personal_data"`
	Tables       map[string][]Rule `json:"tables" yaml:"tables"`
	Resolver     ResolverConfig    `json:"resolver" yaml:"resolver"`
}

// ResolverConfig tunes context caching.
type ResolverConfig struct {
	ContextCacheTTL     int64 `json:"context_cache_ttl_ms" yaml:"context_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Compile validates the config and builds a RuleTable from it. Extra named
// filters beyond the standard set may be supplied by the host.
func (c *Config) Compile(extra map[string]FilterFunc) (*RuleTable, error) {
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("config: no tables defined")
	}
	opts := []RuleTableOption{WithPersonalDataTables(c.PersonalData...)}
	for name, fn := range extra {
		opts = append(opts, WithFilterFunc(name, fn))
	}
	return NewRuleTable(c.Tables, opts...)
}

// Validate compiles the config and discards the result; it reports every
// configuration error a reload would hit.
func (c *Config) Validate() error {
	_, err := c.Compile(nil)
	return err
}

// ConfigStats summarizes a config for tooling.
type ConfigStats struct {
	Tables       int `json:"tables"`
	Rules        int `json:"rules"`
	AllowAll     int `json:"allow_all_rules"`
	Filtered     int `json:"filtered_rules"`
	PersonalData int `json:"personal_data_tables"`
}

func (c *Config) Stats() ConfigStats {
	s := ConfigStats{Tables: len(c.Tables), PersonalData: len(c.PersonalData)}
	for _, rules := range c.Tables {
		s.Rules += len(rules)
		for _, r := range rules {
			if r.AllowAll {
				s.AllowAll++
			} else {
				s.Filtered++
			}
		}
	}
	return s
}

// DefaultConfig returns the fleet application's shipped configuration.
func DefaultConfig() *Config {
	return &Config{
		Version:      1,
		PersonalData: PersonalDataTables(),
		Tables:       DefaultFleetRules(),
		Resolver: ResolverConfig{
			ContextCacheTTL:     int64(5 * 60 * 1000),
			RistrettoNumCounter: 1 << 14,
			RistrettoMaxCost:    1 << 20,
			RistrettoBuffer:     64,
		},
	}
}

// ApplyConfig compiles cfg and swaps the engine's rule table atomically.
// On any validation error the active table is left untouched.
func (e *Engine) ApplyConfig(cfg *Config) error {
	rt, err := cfg.Compile(nil)
	if err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	return e.SwapRules(rt)
}
