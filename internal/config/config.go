// Package config loads graphmig settings.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file
// (graphmig.yaml), a .env file, GRAPHMIG_* environment variables. Command
// line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Default file names, looked up in the working directory.
const (
	DefaultFile   = "graphmig.yaml"
	DefaultDotEnv = ".env"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GRAPHMIG_"

// Config holds the settings of one graphmig invocation.
type Config struct {
	Database        string        `yaml:"database" json:"database"`
	Changelog       string        `yaml:"changelog" json:"changelog"`
	Contexts        []string      `yaml:"contexts" json:"contexts"`
	LockTimeout     time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	LogFormat       string        `yaml:"log_format" json:"log_format"`
	MetricsTextfile string        `yaml:"metrics_textfile" json:"metrics_textfile"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database:     "graphmig.db",
		Changelog:    "changelog.yaml",
		LockTimeout:  time.Minute,
		PollInterval: time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load builds the configuration.
//
// file is the YAML config file. When empty, DefaultFile is used if it
// exists; an explicitly named file must exist. dotenv is the .env file,
// skipped when empty or missing. Variables already set in the environment
// win over the .env file.
func Load(file, dotenv string) (Config, error) {
	cfg := Default()

	path, required := file, true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := cfg.loadFile(path, required); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides settings from GRAPHMIG_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("DATABASE", &c.Database)
	str("CHANGELOG", &c.Changelog)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_TEXTFILE", &c.MetricsTextfile)
	if v, ok := lookup(EnvPrefix + "CONTEXTS"); ok {
		c.Contexts = splitList(v)
	}
	if err := dur("LOCK_TIMEOUT", &c.LockTimeout); err != nil {
		return err
	}
	return dur("POLL_INTERVAL", &c.PollInterval)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Database) == "" {
		problems = append(problems, "database is required")
	}
	if strings.TrimSpace(c.Changelog) == "" {
		problems = append(problems, "changelog is required")
	}
	if c.LockTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("lock_timeout must be positive, got %s", c.LockTimeout))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, fmt.Sprintf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger builds the logger described by the settings, writing to out.
func (c Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
