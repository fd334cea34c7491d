package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/options"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variable of every option.
const EnvPrefix = "PRODGRAPH_"

// Config holds configuration for a prodgraph run.
type Config struct {
	Engine       string // Engine name: serial or parallel (default "parallel")
	Workers      int    // Parallel workers; 0 means one per CPU
	Storage      string // SQLite cache path, "memory" for a throwaway cache
	BuildRoot    string // Directory that relative subject paths resolve against
	LogLevel     string // Log level: debug, info, warn, error
	LogFormat    string // Log format: text, json
	VisualizeDir string // Where DOT dumps of failed runs go; empty disables them
	MetricsAddr  string // Listen address for /metrics in watch mode; empty disables it
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Engine:    "parallel",
		Storage:   ".prodgraph/cache.db",
		BuildRoot: ".",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Sources lists where option values come from, lowest rank first.
type Sources struct {
	// File is an optional YAML config file.
	File string
	// Env maps variable names to values, normally the process environment.
	Env map[string]string
	// Flags holds the command-line flags the user set, keyed by option name.
	Flags map[string]string
}

// field binds an option name to its Config field.
type field struct {
	key string
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(key string, p func(*Config) *string) field {
	return field{
		key: key,
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

var fields = []field{
	stringField("engine", func(c *Config) *string { return &c.Engine }),
	{
		key: "workers",
		get: func(c *Config) string { return strconv.Itoa(c.Workers) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("workers: %w", err)
			}
			c.Workers = n
			return nil
		},
	},
	stringField("storage", func(c *Config) *string { return &c.Storage }),
	stringField("build-root", func(c *Config) *string { return &c.BuildRoot }),
	stringField("log-level", func(c *Config) *string { return &c.LogLevel }),
	stringField("log-format", func(c *Config) *string { return &c.LogFormat }),
	stringField("visualize-dir", func(c *Config) *string { return &c.VisualizeDir }),
	stringField("metrics-addr", func(c *Config) *string { return &c.MetricsAddr }),
}

// Keys returns the option names in declaration order.
func Keys() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.key
	}
	return out
}

// EnvName returns the environment variable for option key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// EnvFromOS returns the PRODGRAPH_* variables of the process environment.
func EnvFromOS() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env
}

// Load layers defaults, the config file, the environment and flags, in that
// order of precedence, and returns the validated result.
func Load(src Sources) (*Config, *options.Container, error) {
	opts, err := Options(src)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := FromOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

// Options collects the ranked option values from every source.
func Options(src Sources) (*options.Container, error) {
	opts := options.New()
	def := Default()
	for _, f := range fields {
		opts.Set(f.key, options.Ranked{Value: f.get(&def), Rank: options.Hardcoded})
	}

	if src.File != "" {
		fileOpts, err := readFile(src.File)
		if err != nil {
			return nil, err
		}
		opts.Update(fileOpts)
	}

	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.key] = true
		if v, ok := src.Env[EnvName(f.key)]; ok {
			opts.Set(f.key, options.Ranked{Value: v, Rank: options.Environment})
		}
	}

	for k, v := range src.Flags {
		if !known[k] {
			return nil, fmt.Errorf("unknown option %q", k)
		}
		opts.Set(k, options.Ranked{Value: v, Rank: options.Flag})
	}
	return opts, nil
}

// FromOptions builds a Config from ranked option values.
func FromOptions(opts *options.Container) (*Config, error) {
	cfg := Default()
	for _, f := range fields {
		v, ok := opts.Get(f.key)
		if !ok {
			continue
		}
		if err := f.set(&cfg, fmt.Sprint(v)); err != nil {
			return nil, fmt.Errorf("option %s (from %s): %w", f.key, opts.GetRank(f.key), err)
		}
	}
	return &cfg, nil
}

// fileConfig mirrors Config in YAML. Pointer fields tell unset from zero.
type fileConfig struct {
	Engine       *string `yaml:"engine"`
	Workers      *int    `yaml:"workers"`
	Storage      *string `yaml:"storage"`
	BuildRoot    *string `yaml:"build_root"`
	LogLevel     *string `yaml:"log_level"`
	LogFormat    *string `yaml:"log_format"`
	VisualizeDir *string `yaml:"visualize_dir"`
	MetricsAddr  *string `yaml:"metrics_addr"`
}

func readFile(path string) (*options.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
	}

	opts := options.New()
	set := func(key string, v *string) {
		if v != nil {
			opts.Set(key, options.Ranked{Value: *v, Rank: options.Config})
		}
	}
	set("engine", fc.Engine)
	if fc.Workers != nil {
		opts.Set("workers", options.Ranked{Value: strconv.Itoa(*fc.Workers), Rank: options.Config})
	}
	set("storage", fc.Storage)
	set("build-root", fc.BuildRoot)
	set("log-level", fc.LogLevel)
	set("log-format", fc.LogFormat)
	set("visualize-dir", fc.VisualizeDir)
	set("metrics-addr", fc.MetricsAddr)
	return opts, nil
}

// Validate checks the configuration. engines lists the accepted engine
// names; an empty list accepts any.
func (c *Config) Validate(engines []string) error {
	var errs []error
	if len(engines) > 0 && !slices.Contains(engines, c.Engine) {
		errs = append(errs, fmt.Errorf("unknown engine %q (want one of %s)", c.Engine, strings.Join(engines, ", ")))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.BuildRoot == "" {
		errs = append(errs, errors.New("build root is required"))
	}
	if _, err := logging.LookupLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !logging.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
