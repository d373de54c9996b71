// Package config loads the server and engine configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/provider"
)

// Environment variables that override file values.
const (
	EnvDBPath     = "IBDM_DB_PATH"
	EnvListenAddr = "IBDM_LISTEN_ADDR"
	EnvDomain     = "IBDM_DOMAIN"
	EnvLogLevel   = "IBDM_LOG_LEVEL"
)

// LogConfig selects the logger encoding and level.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath             string                                            `yaml:"db_path"`
	ListenAddr         string                                            `yaml:"listen_addr"`
	AgentID            string                                            `yaml:"agent_id"`
	Domain             string                                            `yaml:"domain"`
	MaxMovesPerTurn    int                                               `yaml:"max_moves_per_turn"`
	SessionCacheSize   int                                               `yaml:"session_cache_size"`
	MaxTurns           int                                               `yaml:"max_turns"`
	RateLimitPerMinute int                                               `yaml:"rate_limit_per_minute"`
	StrictRules        bool                                              `yaml:"strict_rules"`
	Log                LogConfig                                         `yaml:"log"`
	Grounding          map[domain.MoveType]grounding.EvidenceRequirement `yaml:"grounding"`
	Providers          []provider.Spec                                   `yaml:"providers"`
	NLU                string                                            `yaml:"nlu"`
	NLG                string                                            `yaml:"nlg"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads a YAML (or JSON) config file, applies defaults and environment
// overrides, and validates. An empty path skips the file. A .env file next to
// the config file, or in the working directory when path is empty, is loaded
// first; variables already set in the environment win over it.
func Load(path string) (*Config, error) {
	var cfg Config
	envFile := ".env"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "ibdm.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.AgentID == "" {
		c.AgentID = "system"
	}
	if c.Domain == "" {
		c.Domain = "nda"
	}
	if c.MaxMovesPerTurn == 0 {
		c.MaxMovesPerTurn = 4
	}
	if c.SessionCacheSize == 0 {
		c.SessionCacheSize = 256
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 200
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		EnvDBPath:     &c.DBPath,
		EnvListenAddr: &c.ListenAddr,
		EnvDomain:     &c.Domain,
		EnvLogLevel:   &c.Log.Level,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

var validLevels = map[domain.ActionLevel]bool{
	domain.LevelContact:       true,
	domain.LevelPerception:    true,
	domain.LevelSemantic:      true,
	domain.LevelUnderstanding: true,
	domain.LevelAcceptance:    true,
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.MaxMovesPerTurn < 0 {
		problems = append(problems, "max_moves_per_turn must not be negative")
	}
	if c.SessionCacheSize < 0 {
		problems = append(problems, "session_cache_size must not be negative")
	}
	if c.MaxTurns < 0 {
		problems = append(problems, "max_turns must not be negative")
	}
	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}

	moveTypes := make([]string, 0, len(c.Grounding))
	for mt := range c.Grounding {
		moveTypes = append(moveTypes, string(mt))
	}
	sort.Strings(moveTypes)
	for _, mt := range moveTypes {
		req := c.Grounding[domain.MoveType(mt)]
		if req.MinConfidence < 0 || req.MinConfidence > 1 {
			problems = append(problems, fmt.Sprintf("grounding.%s.min_confidence must be within [0, 1]", mt))
		}
		if req.MinLevel != "" && !validLevels[req.MinLevel] {
			problems = append(problems, fmt.Sprintf("grounding.%s.min_level %q is unknown", mt, req.MinLevel))
		}
	}

	declared := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch {
		case p.Name == "":
			problems = append(problems, fmt.Sprintf("providers[%d].name is required", i))
		case declared[p.Name]:
			problems = append(problems, fmt.Sprintf("provider %q is declared twice", p.Name))
		}
		if p.Command == "" {
			problems = append(problems, fmt.Sprintf("providers[%d].command is required", i))
		}
		declared[p.Name] = true
	}
	for _, ref := range [][2]string{{"nlu", c.NLU}, {"nlg", c.NLG}} {
		if ref[1] != "" && !declared[ref[1]] {
			problems = append(problems, fmt.Sprintf("%s names undeclared provider %q", ref[0], ref[1]))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// Policy returns the default grounding policy with the configured overrides
// applied. An override without a level keeps understanding.
func (c *Config) Policy() *grounding.Policy {
	p := grounding.DefaultPolicy()
	for mt, req := range c.Grounding {
		if req.MinLevel == "" {
			req.MinLevel = domain.LevelUnderstanding
		}
		p.Set(mt, req)
	}
	return p
}

// ProviderRegistry returns the declared component providers. Specs are
// checked by validate, so registration only fails on a hand-built Config.
func (c *Config) ProviderRegistry() (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, p := range c.Providers {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
