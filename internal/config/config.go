// Package config provides unified configuration loading for unrest.
// It supports YAML and TOML files plus environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/logging"
	"github.com/talgya/unrest/internal/placement"
)

// Config contains every setting of a run.
type Config struct {
	// Model holds the simulation parameters.
	Model ModelConfig `yaml:"model" toml:"model" json:"model"`

	// Placement chooses how the grid is populated.
	Placement placement.Config `yaml:"placement" toml:"placement" json:"placement"`

	// Storage configures optional outputs.
	Storage StorageConfig `yaml:"storage" toml:"storage" json:"storage"`

	// API configures the HTTP server used by `serve`.
	API APIConfig `yaml:"api" toml:"api" json:"api"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`

	// Batch configures parameter sweeps for `batch`.
	Batch BatchConfig `yaml:"batch" toml:"batch" json:"batch"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// ModelConfig mirrors engine.Params with file-friendly types.
type ModelConfig struct {
	Height             int     `yaml:"height" toml:"height" json:"height"`
	Width              int     `yaml:"width" toml:"width" json:"width"`
	Wrap               bool    `yaml:"wrap" toml:"wrap" json:"wrap"`
	JailCapacity       int     `yaml:"jail_capacity" toml:"jail_capacity" json:"jail_capacity"`
	Legitimacy         float64 `yaml:"legitimacy" toml:"legitimacy" json:"legitimacy"`
	ArrestProbConstant float64 `yaml:"arrest_prob_constant" toml:"arrest_prob_constant" json:"arrest_prob_constant"`
	ActiveThreshold    float64 `yaml:"active_threshold" toml:"active_threshold" json:"active_threshold"`
	CitizenVision      int     `yaml:"citizen_vision" toml:"citizen_vision" json:"citizen_vision"`
	CopVision          int     `yaml:"cop_vision" toml:"cop_vision" json:"cop_vision"`
	Movement           bool    `yaml:"movement" toml:"movement" json:"movement"`
	DirectionBias      string  `yaml:"direction_bias" toml:"direction_bias" json:"direction_bias"`
	MaxIters           uint64  `yaml:"max_iters" toml:"max_iters" json:"max_iters"`
	Seed               int64   `yaml:"seed" toml:"seed" json:"seed"`
}

// StorageConfig configures where records go. Empty paths disable the
// corresponding output.
type StorageConfig struct {
	DBPath        string `yaml:"db_path" toml:"db_path" json:"db_path"`
	JSONLDir      string `yaml:"jsonl_dir" toml:"jsonl_dir" json:"jsonl_dir"`
	CSVDir        string `yaml:"csv_dir" toml:"csv_dir" json:"csv_dir"`
	CSVEvery      uint64 `yaml:"csv_every" toml:"csv_every" json:"csv_every"`
	SnapshotEvery uint64 `yaml:"snapshot_every" toml:"snapshot_every" json:"snapshot_every"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Port int `yaml:"port" toml:"port" json:"port"`

	// AdminKey is the bearer token for POST endpoints. Empty disables them.
	// Supports ${VAR} syntax for env vars.
	AdminKey string `yaml:"admin_key" toml:"admin_key" json:"-"`

	// Interval is the base tick interval while serving.
	Interval time.Duration `yaml:"interval" toml:"interval" json:"interval"`

	// Speed is the initial speed multiplier; 0 starts paused.
	Speed float64 `yaml:"speed" toml:"speed" json:"speed"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level sets the verbosity: "trace", "debug", "info" (default), "warn", or "error".
	Level string `yaml:"level" toml:"level" json:"level"`

	// Format is "text" (default) or "json".
	Format string `yaml:"format" toml:"format" json:"format"`

	// ReportEvery is the number of ticks between periodic summaries.
	ReportEvery uint64 `yaml:"report_every" toml:"report_every" json:"report_every"`
}

// BatchConfig configures repeated runs over a parameter sweep. Each sweep
// list replaces the corresponding single value; empty lists keep it.
type BatchConfig struct {
	Trials   int    `yaml:"trials" toml:"trials" json:"trials"`
	MaxSteps uint64 `yaml:"max_steps" toml:"max_steps" json:"max_steps"`
	BaseSeed int64  `yaml:"base_seed" toml:"base_seed" json:"base_seed"`
	Output   string `yaml:"output" toml:"output" json:"output"`

	JailCapacity  []int     `yaml:"jail_capacity" toml:"jail_capacity" json:"jail_capacity"`
	Ratio         []float64 `yaml:"ratio" toml:"ratio" json:"ratio"`
	DirectionBias []string  `yaml:"direction_bias" toml:"direction_bias" json:"direction_bias"`
	Environment   []string  `yaml:"environment" toml:"environment" json:"environment"`
}

// Default returns a Config with the stock settings.
func Default() *Config {
	p := engine.DefaultParams()
	return &Config{
		Model: ModelConfig{
			Height:             p.Height,
			Width:              p.Width,
			Wrap:               p.Wrap,
			JailCapacity:       p.JailCapacity,
			Legitimacy:         p.Legitimacy,
			ArrestProbConstant: p.ArrestProbConstant,
			ActiveThreshold:    p.ActiveThreshold,
			CitizenVision:      p.CitizenVision,
			CopVision:          p.CopVision,
			Movement:           p.Movement,
			DirectionBias:      p.DirectionBias.String(),
			MaxIters:           p.MaxIters,
		},
		Placement: placement.DefaultConfig(),
		Storage: StorageConfig{
			CSVEvery:      30,
			SnapshotEvery: 10,
		},
		API: APIConfig{
			Port:     8080,
			Interval: 500 * time.Millisecond,
			Speed:    1.0,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			ReportEvery: 100,
		},
		Batch: BatchConfig{
			Trials:   3,
			MaxSteps: 250,
			BaseSeed: 1,
			Output:   "batch.csv",
		},
	}
}

// Load builds the configuration: defaults, then the file at path if path
// is non-empty, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML or TOML file over the defaults. The format is
// chosen by extension: .toml for TOML, anything else for YAML.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Path = path
	cfg.API.AdminKey = expandEnvVars(cfg.API.AdminKey)
	return cfg, nil
}

// ApplyEnv applies environment variable overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("UNREST_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Model.Seed = n
		}
	}
	if v := os.Getenv("UNREST_MAX_ITERS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Model.MaxIters = n
		}
	}
	if v := os.Getenv("UNREST_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("UNREST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UNREST_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("UNREST_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.Port = n
		}
	}
}

// Validate checks that the configuration is usable. Long environment names
// such as "Wall of cops" are normalized in place.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}

	env, err := placement.ParseEnvironment(string(c.Placement.Environment))
	if err != nil {
		return err
	}
	c.Placement.Environment = env
	if err := c.Placement.Validate(); err != nil {
		return err
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", engine.ErrConfiguration, c.API.Port)
	}
	if c.API.Interval < 0 || c.API.Speed < 0 {
		return fmt.Errorf("%w: interval and speed must be non-negative", engine.ErrConfiguration)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: invalid log level %q (valid: trace, debug, info, warn, error)", engine.ErrConfiguration, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q (valid: text, json)", engine.ErrConfiguration, c.Logging.Format)
	}

	if c.Batch.Trials < 0 {
		return fmt.Errorf("%w: negative batch trials", engine.ErrConfiguration)
	}
	for _, b := range c.Batch.DirectionBias {
		if _, err := agents.ParseDirectionBias(b); err != nil {
			return fmt.Errorf("%w: batch: %v", engine.ErrConfiguration, err)
		}
	}
	for _, e := range c.Batch.Environment {
		if _, err := placement.ParseEnvironment(e); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}
	return nil
}

// Params converts the model section into engine parameters.
func (c *Config) Params() (engine.Params, error) {
	m := c.Model
	bias, err := agents.ParseDirectionBias(m.DirectionBias)
	if err != nil {
		return engine.Params{}, fmt.Errorf("%w: %v", engine.ErrConfiguration, err)
	}
	p := engine.Params{
		Height:             m.Height,
		Width:              m.Width,
		Wrap:               m.Wrap,
		JailCapacity:       m.JailCapacity,
		Legitimacy:         m.Legitimacy,
		ArrestProbConstant: m.ArrestProbConstant,
		ActiveThreshold:    m.ActiveThreshold,
		CitizenVision:      m.CitizenVision,
		CopVision:          m.CopVision,
		Movement:           m.Movement,
		DirectionBias:      bias,
		MaxIters:           m.MaxIters,
		Seed:               m.Seed,
	}
	return p, p.Validate()
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
