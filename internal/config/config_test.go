package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/config"
)

func TestLoad_Default(t *testing.T) {
	cfg, err := config.Load("", "MCSD_")
	require.NoError(t, err)

	assert.True(t, cfg.StrictMode)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentDirectories)
	assert.Equal(t, 15*time.Minute, cfg.Provider.RefreshInterval)
}

func TestLoad_FromYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yml")
	yamlContent := `
localfhirbaseurl: "http://localhost:9090/fhir"
provider:
  url: "https://provider.example.org/fhir"
store:
  dsn: "postgres://db"
`
	require.NoError(t, os.WriteFile(configFile, []byte(yamlContent), 0644))

	cfg, err := config.Load(configFile, "MCSD_")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090/fhir", cfg.LocalFHIRBaseURL)
	assert.Equal(t, "https://provider.example.org/fhir", cfg.Provider.URL)
	assert.Equal(t, "postgres://db", cfg.Store.DSN)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yml"), "MCSD_")
	require.NoError(t, err)
	assert.True(t, cfg.StrictMode)
}

func TestLoad_EnvOverridesYAMLAndDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte(`provider:
  url: "https://yaml.example.org/fhir"
`), 0644))

	t.Setenv("MCSD_PROVIDER_URL", "https://env.example.org/fhir")

	cfg, err := config.Load(configFile, "MCSD_")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.org/fhir", cfg.Provider.URL)
}
