// Package config loads the run configuration. Connection credentials are
// deliberately absent from this file; they come from the secrets store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/compare"
	"github.com/tdalton/dbrecon/internal/util"
)

// Duration accepts either a Go duration string ("5m") or a bare number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// TableConfig describes one table comparison. Fields left empty fall
// back to the run defaults.
type TableConfig struct {
	Source          string   `yaml:"source"`
	Target          string   `yaml:"target"` // defaults to source
	PKColumns       []string `yaml:"pk_columns"`
	Columns         []string `yaml:"columns"` // empty = shared columns of both schemas
	ChunkSize       int      `yaml:"chunk_size"`
	Checksum        *bool    `yaml:"checksum"`
	ToleranceWindow Duration `yaml:"tolerance_window"`
	ToleranceColumn string   `yaml:"tolerance_column"`
	IgnoreTrailing  *bool    `yaml:"ignore_trailing"`
}

// Defaults apply to every table that does not override them.
type Defaults struct {
	PKColumns       []string `yaml:"pk_columns"`
	ChunkSize       int      `yaml:"chunk_size"`
	Checksum        bool     `yaml:"checksum"`
	ToleranceWindow Duration `yaml:"tolerance_window"`
	ToleranceColumn string   `yaml:"tolerance_column"`
	IgnoreTrailing  bool     `yaml:"ignore_trailing"`
}

// Schedule configures repeated execution. Interval and Cron are mutually
// exclusive.
type Schedule struct {
	Interval Duration `yaml:"interval"`
	Cron     string   `yaml:"cron"`
}

// Config is the parsed run configuration.
type Config struct {
	Tables   []TableConfig `yaml:"tables"`
	Defaults Defaults      `yaml:"defaults"`

	Workers      int      `yaml:"workers"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	RunTimeout   Duration `yaml:"run_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Output string `yaml:"output"` // empty = stdout
	Format string `yaml:"format"` // json, csv, console

	HistoryPath string `yaml:"history_path"` // empty disables run history
	HistoryKeep int    `yaml:"history_keep"`

	Schedule Schedule `yaml:"schedule"`

	Progress bool `yaml:"progress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Defaults: Defaults{
			ChunkSize: compare.DefaultChunkSize,
			Checksum:  true,
		},
		Workers:      4,
		MaxRetries:   3,
		RetryBackoff: Duration(time.Second),
		LogLevel:     "info",
		LogFormat:    "text",
		Format:       "console",
		HistoryKeep:  100,
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks run-level settings. Per-table settings are validated
// when specs are built so CLI-supplied tables go through the same path.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	switch c.Format {
	case "json", "csv", "console":
	default:
		return fmt.Errorf("unknown format %q (want json, csv, or console)", c.Format)
	}
	if c.Schedule.Interval > 0 && c.Schedule.Cron != "" {
		return fmt.Errorf("schedule.interval and schedule.cron are mutually exclusive")
	}
	return nil
}

// AddTables appends comparisons given as "source" or "source=target"
// pairs, as passed on the command line.
func (c *Config) AddTables(pairs []string) error {
	for _, pair := range pairs {
		src, tgt, err := util.ParseTablePair(pair)
		if err != nil {
			return err
		}
		c.Tables = append(c.Tables, TableConfig{Source: src, Target: tgt})
	}
	return nil
}

// TableSpecs resolves the configured tables into comparison specs,
// applying defaults and the engines' default schemas for unqualified
// names.
func (c *Config) TableSpecs(sourceSchema, targetSchema string) ([]compare.TableSpec, error) {
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("no tables configured")
	}

	specs := make([]compare.TableSpec, 0, len(c.Tables))
	for i, tc := range c.Tables {
		if tc.Source == "" {
			return nil, fmt.Errorf("table %d: source is required", i)
		}
		target := tc.Target
		if target == "" {
			target = tc.Source
		}

		spec := compare.TableSpec{
			Source:          parseTable(tc.Source, sourceSchema),
			Target:          parseTable(target, targetSchema),
			PKColumns:       tc.PKColumns,
			Columns:         tc.Columns,
			ChunkSize:       tc.ChunkSize,
			Checksum:        c.Defaults.Checksum,
			ToleranceWindow: tc.ToleranceWindow.Std(),
			ToleranceColumn: tc.ToleranceColumn,
			IgnoreTrailing:  c.Defaults.IgnoreTrailing,
		}
		if len(spec.PKColumns) == 0 {
			spec.PKColumns = c.Defaults.PKColumns
		}
		if spec.ChunkSize <= 0 {
			spec.ChunkSize = c.Defaults.ChunkSize
		}
		if tc.Checksum != nil {
			spec.Checksum = *tc.Checksum
		}
		if spec.ToleranceWindow == 0 {
			spec.ToleranceWindow = c.Defaults.ToleranceWindow.Std()
		}
		if spec.ToleranceColumn == "" {
			spec.ToleranceColumn = c.Defaults.ToleranceColumn
		}
		if tc.IgnoreTrailing != nil {
			spec.IgnoreTrailing = *tc.IgnoreTrailing
		}

		if len(spec.PKColumns) == 0 {
			return nil, fmt.Errorf("table %s: pk_columns is required (set per table or in defaults)", tc.Source)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RetryPolicy converts the retry settings to the adapter policy.
func (c *Config) RetryPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		MaxAttempts: c.MaxRetries + 1,
		BaseBackoff: c.RetryBackoff.Std(),
	}
}

func parseTable(name, defaultSchema string) adapter.Table {
	schema, table := util.SplitQualified(name)
	if schema == "" {
		schema = defaultSchema
	}
	return adapter.Table{Schema: schema, Name: table}
}
