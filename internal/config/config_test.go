package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PATIENTSIM_SERVER_URL", "PATIENTSIM_LOG_LEVEL", "PATIENTSIM_LOG_FILE",
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5001", c.Server.BaseURL)
	assert.Equal(t, 10*time.Second, c.Server.Timeout)
	assert.Equal(t, 1.3, c.Narration.Pitch)
	assert.Equal(t, 1.3, c.Narration.Rate)
	assert.Equal(t, time.Second, c.Narration.Pause)
	assert.Equal(t, 15*time.Second, c.Narration.Watchdog)
	assert.Equal(t, []string{"Daniel", "Alex", "Male", "en-us"}, c.Narration.VoiceMatch)
	assert.Equal(t, "Pathology", c.Case.Topic)
	assert.Contains(t, c.Case.Labs, "WBC: 17,000/mm³")
	assert.False(t, c.TranscriptionEnabled(), "no API key means no transcription")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  baseURL: http://sim.local:9000
  timeout: 3s
narration:
  engine: none
  pause: 250ms
  voiceMatch: [Karen]
case:
  topic: Cardiology
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://sim.local:9000", c.Server.BaseURL)
	assert.Equal(t, 3*time.Second, c.Server.Timeout)
	assert.Equal(t, "none", c.Narration.Engine)
	assert.Equal(t, 250*time.Millisecond, c.Narration.Pause)
	assert.Equal(t, []string{"Karen"}, c.Narration.VoiceMatch)
	assert.Equal(t, "Cardiology", c.Case.Topic)
	// untouched keys keep their defaults
	assert.Equal(t, 1.3, c.Narration.Rate)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  baseURL: http://from-file\n"), 0o644))
	t.Setenv("PATIENTSIM_SERVER_URL", "http://from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", c.Server.BaseURL)
	assert.True(t, c.TranscriptionEnabled())
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown engine", func(c *Config) { c.Narration.Engine = "festival" }, false},
		{"openai without key", func(c *Config) { c.Narration.Engine = "openai" }, false},
		{"openai with key", func(c *Config) { c.Narration.Engine = "openai"; c.OpenAI.APIKey = "k" }, true},
		{"zero rate", func(c *Config) { c.Narration.Rate = 0 }, false},
		{"no server", func(c *Config) { c.Server.BaseURL = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
