// Package config loads an analysis plan from a YAML file, with overrides
// from the environment.  Values are taken from the environment first,
// then the file, then the defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kshedden/survstat/analysis"
)

// Environment variables that override the plan file.
const (
	EnvData     = "SURVSTAT_DATA"
	EnvWorkers  = "SURVSTAT_WORKERS"
	EnvLogLevel = "SURVSTAT_LOG_LEVEL"
)

// Event table selections for the colon data.
const (
	ETypeRecurrence = "recurrence"
	ETypeDeath      = "death"
	ETypeFirst      = "first"
)

// Config is an analysis plan together with the data it applies to.
type Config struct {

	// Data is the path of a CSV or XLSX file.
	Data string `yaml:"data"`

	// EType selects the event table: recurrence, death, or first
	// (time to the first of recurrence and death).
	EType string `yaml:"etype"`

	// Workers bounds the number of concurrent fits, the number of
	// CPUs if zero.
	Workers int `yaml:"workers"`

	LogLevel string `yaml:"log_level"`

	// Optimizer defaults for all model fits.
	MaxIter int     `yaml:"max_iter"`
	Tol     float64 `yaml:"tol"`

	Models []analysis.ModelSpec `yaml:"models"`
}

// Default returns the configuration used when no plan file is given.
func Default() *Config {
	return &Config{
		EType:    ETypeDeath,
		LogLevel: "info",
		MaxIter:  100,
		Tol:      1e-6,
	}
}

// Load reads a plan file, applies environment overrides, and validates
// the result.  An empty path gives the defaults with overrides.
func Load(path string) (*Config, error) {

	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadDotEnv adds the variables in the given .env files, or ./.env, to
// the environment.  Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from the SURVSTAT_ environment variables,
// read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {

	if v := getenv(EnvData); v != "" {
		c.Data = v
	}
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	return nil
}

var kinds = map[analysis.Kind]bool{
	analysis.KindDescribe: true,
	analysis.KindKM:       true,
	analysis.KindLogRank:  true,
	analysis.KindCox:      true,
	analysis.KindZPH:      true,
	analysis.KindAFT:      true,
	analysis.KindCumInc:   true,
}

// Validate checks the settings and the kinds and names of the model
// entries.
func (c *Config) Validate() error {

	switch c.EType {
	case ETypeRecurrence, ETypeDeath, ETypeFirst:
	default:
		return fmt.Errorf("config: etype must be recurrence, death or first, not '%s'", c.EType)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0")
	}
	if c.MaxIter < 0 {
		return fmt.Errorf("config: max_iter must be >= 0")
	}
	if c.Tol < 0 {
		return fmt.Errorf("config: tol must be >= 0")
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	names := make(map[string]bool)
	for i, m := range c.Models {
		if !kinds[m.Kind] {
			return fmt.Errorf("config: model %d has unknown kind '%s'", i+1, m.Kind)
		}
		if m.Name != "" {
			if names[m.Name] {
				return fmt.Errorf("config: duplicate model name '%s'", m.Name)
			}
			names[m.Name] = true
		}
		if m.Alpha < 0 || m.Alpha >= 1 {
			return fmt.Errorf("config: model %d has alpha %v outside [0, 1)", i+1, m.Alpha)
		}
	}

	return nil
}

// Level returns the log level.
func (c *Config) Level() (slog.Level, error) {
	var lev slog.Level
	if err := lev.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lev, nil
}

// Plan returns the model entries as an analysis plan.
func (c *Config) Plan(log *slog.Logger) *analysis.Plan {
	return &analysis.Plan{
		Workers: c.Workers,
		MaxIter: c.MaxIter,
		Tol:     c.Tol,
		Models:  append([]analysis.ModelSpec(nil), c.Models...),
		Log:     log,
	}
}
