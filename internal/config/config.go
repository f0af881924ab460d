// Package config loads patientsim settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		BaseURL string        `yaml:"baseURL"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Narration struct {
		Engine      string        `yaml:"engine"` // system, openai or none
		VoiceMatch  []string      `yaml:"voiceMatch"`
		Pitch       float64       `yaml:"pitch"`
		Rate        float64       `yaml:"rate"`
		Pause       time.Duration `yaml:"pause"`
		Watchdog    time.Duration `yaml:"watchdog"`
		OpenAIVoice string        `yaml:"openaiVoice"`
		Player      []string      `yaml:"player"`
		StartMuted  bool          `yaml:"startMuted"`
	} `yaml:"narration"`

	Capture struct {
		Enabled bool   `yaml:"enabled"`
		FFmpeg  string `yaml:"ffmpeg"`
		Format  string `yaml:"format"`
		Device  string `yaml:"device"`
	} `yaml:"capture"`

	OpenAI struct {
		APIKey     string `yaml:"apiKey"`
		BaseURL    string `yaml:"baseURL"`
		Transcribe bool   `yaml:"transcribe"`
	} `yaml:"openai"`

	Archive struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		Dir     string `yaml:"dir"` // recordings
	} `yaml:"archive"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Case Case `yaml:"case"`
}

// Case is the local display content for the results popups.
type Case struct {
	Topic          string   `yaml:"topic"`
	LabTitle       string   `yaml:"labTitle"`
	Labs           []string `yaml:"labs"`
	ImagingTitle   string   `yaml:"imagingTitle"`
	ImagingCaption string   `yaml:"imagingCaption"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(configHome(), "patientsim", "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Server.BaseURL = "http://localhost:5001"
	c.Server.Timeout = 10 * time.Second

	c.Narration.Engine = "system"
	c.Narration.VoiceMatch = []string{"Daniel", "Alex", "Male", "en-us"}
	c.Narration.Pitch = 1.3
	c.Narration.Rate = 1.3
	c.Narration.Pause = time.Second
	c.Narration.Watchdog = 15 * time.Second
	c.Narration.OpenAIVoice = "onyx"

	c.Capture.Enabled = true
	c.Capture.FFmpeg = "ffmpeg"

	c.OpenAI.Transcribe = true

	c.Archive.Enabled = true
	c.Archive.Path = filepath.Join(stateHome(), "patientsim", "archive.sqlite")
	c.Archive.Dir = filepath.Join(stateHome(), "patientsim", "recordings")

	c.Log.Level = "info"
	c.Log.File = filepath.Join(stateHome(), "patientsim", "patientsim.log")

	c.Case = Case{
		Topic:    "Pathology",
		LabTitle: "Laboratory Results",
		Labs: []string{
			"WBC: 17,000/mm³",
			"Differential:",
			"- Neutrophils: 70%",
			"- Bands: 15%",
			"- Lymphocytes: 15%",
			"Temperature: 102.6°F",
			"Blood Pressure: 152/90",
			"Heart Rate: 112/minute, regular",
			"Respiratory Rate: 24/minute, somewhat labored",
		},
		ImagingTitle:   "Chest X-ray PA and Lateral",
		ImagingCaption: "X-ray showing right hilar mass and right middle lobe pneumonia",
	}
	return c
}

// Load reads path over the defaults and applies env overrides. A missing
// file at the default path is not an error.
func Load(path string) (Config, error) {
	c := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	c.applyEnv()
	return c, c.Validate()
}

func (c *Config) applyEnv() {
	c.Server.BaseURL = getenv("PATIENTSIM_SERVER_URL", c.Server.BaseURL)
	c.Log.Level = getenv("PATIENTSIM_LOG_LEVEL", c.Log.Level)
	c.Log.File = getenv("PATIENTSIM_LOG_FILE", c.Log.File)
	c.OpenAI.APIKey = getenv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getenv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
}

// Validate rejects settings the session cannot run with.
func (c Config) Validate() error {
	switch c.Narration.Engine {
	case "system", "openai", "none":
	default:
		return fmt.Errorf("narration.engine %q: must be system, openai or none", c.Narration.Engine)
	}
	if c.Narration.Engine == "openai" && c.OpenAI.APIKey == "" {
		return errors.New("narration.engine openai requires OPENAI_API_KEY")
	}
	if c.Narration.Pitch <= 0 || c.Narration.Rate <= 0 {
		return errors.New("narration pitch and rate must be positive")
	}
	if c.Server.BaseURL == "" {
		return errors.New("server.baseURL is required")
	}
	return nil
}

// TranscriptionEnabled reports whether clips should be sent to Whisper.
func (c Config) TranscriptionEnabled() bool {
	return c.OpenAI.Transcribe && c.OpenAI.APIKey != ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func configHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func stateHome() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state")
}
