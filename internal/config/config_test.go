package config

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", `
database: /var/lib/graph.db
changelog: migrations/changelog.cue
contexts: [prod, eu]
lock_timeout: 30s
poll_interval: 250ms
log_level: debug
log_format: json
metrics_textfile: /var/lib/node_exporter/graphmig.prom
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, Config{
		Database:        "/var/lib/graph.db",
		Changelog:       "migrations/changelog.cue",
		Contexts:        []string{"prod", "eu"},
		LockTimeout:     30 * time.Second,
		PollInterval:    250 * time.Millisecond,
		LogLevel:        "debug",
		LogFormat:       "json",
		MetricsTextfile: "/var/lib/node_exporter/graphmig.prom",
	}, cfg)
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, DefaultFile, "database: local.db\n")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "local.db", cfg.Database)
	assert.Equal(t, "changelog.yaml", cfg.Changelog, "unset keys keep defaults")
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "databse: typo.db\n")

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databse")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "graphmig.yaml", "database: file.db\nlock_timeout: 5s\n")
	t.Setenv("GRAPHMIG_DATABASE", "env.db")
	t.Setenv("GRAPHMIG_CONTEXTS", "a, b,,c")
	t.Setenv("GRAPHMIG_LOCK_TIMEOUT", "2m")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Contexts)
	assert.Equal(t, 2*time.Minute, cfg.LockTimeout)
}

func TestLoad_InvalidEnvDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRAPHMIG_POLL_INTERVAL", "soon")

	_, err := Load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPHMIG_POLL_INTERVAL")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dotenv := writeFile(t, dir, ".env", "GRAPHMIG_CHANGELOG=from-dotenv.yaml\nGRAPHMIG_LOG_LEVEL=warn\n")

	// Registered so t.Setenv restores the variables the .env file sets.
	t.Setenv("GRAPHMIG_CHANGELOG", "")
	os.Unsetenv("GRAPHMIG_CHANGELOG")
	t.Setenv("GRAPHMIG_LOG_LEVEL", "error")

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.yaml", cfg.Changelog)
	assert.Equal(t, "error", cfg.LogLevel, "real environment wins over .env")
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("", DefaultDotEnv)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database = ""
	cfg.LockTimeout = 0
	cfg.LogLevel = "chatty"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")
	assert.Contains(t, err.Error(), "lock_timeout must be positive")
	assert.Contains(t, err.Error(), "chatty")
	assert.Contains(t, err.Error(), `log_format must be text or json, got "xml"`)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
