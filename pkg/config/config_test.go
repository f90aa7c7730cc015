package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/compositeworker/pkg/config"
)

func TestDefaultConfig_HasSpecMandatedDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, 60, cfg.Pipeline.DefaultPeriod)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_FileOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("CACHE_HOST", "cache.internal")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "framework:\n  composites_path: ./defs.xml\ncache:\n  url: http://${CACHE_HOST}:9100\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./defs.xml", cfg.Framework.CompositesPath)
	assert.Equal(t, "http://cache.internal:9100", cfg.Cache.URL)
	// fields not present in the file keep their defaults
	assert.Equal(t, 60, cfg.Pipeline.DefaultPeriod)
}

func TestSave_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := config.DefaultConfig()
	cfg.Cache.URL = "http://example:1234"
	require.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example:1234", loaded.Cache.URL)
}

func TestValidate_RequiredFieldsMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Framework.CompositesPath = ""
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Cache.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Transport.Addr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_CorrectsNonPositivePipelineDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pipeline.DefaultPeriod = 0
	cfg.Pipeline.ScanWorkers = 0
	cfg.Pipeline.ValWorkers = -1

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Pipeline.DefaultPeriod)
	assert.Equal(t, 1, cfg.Pipeline.ScanWorkers)
	assert.Equal(t, 1, cfg.Pipeline.ValWorkers)
}
