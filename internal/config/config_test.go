package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from a directory with no config file so only defaults apply.
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "storage", cfg.Storage.Dir)
	assert.Equal(t, int64(20*1024*1024), cfg.Storage.MaxFileSizeBytes)
	assert.Equal(t, "eng+heb", cfg.OCR.Languages)
	assert.Equal(t, 40, cfg.OCR.ShortTextThreshold)
	assert.Equal(t, 1600, cfg.OCR.MaxImageWidth)
	assert.Equal(t, 5, cfg.Worker.DocumentConcurrency)
	assert.Equal(t, 2, cfg.Worker.EmailConcurrency)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgYAML := `
store:
  driver: sqlite
  database_url: file:test.db
ocr:
  languages: eng
  short_text_threshold: 25
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfgYAML), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:test.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "eng", cfg.OCR.Languages)
	assert.Equal(t, 25, cfg.OCR.ShortTextThreshold)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched keys keep defaults.
	assert.Equal(t, 1600, cfg.OCR.MaxImageWidth)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "notalevel", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
