package promptserver

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_script.yaml
var defaultScript []byte

// Script is an ordered patient script.
type Script struct {
	Title   string  `yaml:"title"`
	Topic   string  `yaml:"topic"`
	Prompts []Entry `yaml:"prompts"`
}

// Entry is one patient line and the cue shown to the learner before it.
type Entry struct {
	Prompt  string `yaml:"prompt"`
	Content string `yaml:"content"`
}

// DefaultScript returns the built-in pneumonia case.
func DefaultScript() Script {
	s, err := ParseScript(defaultScript)
	if err != nil {
		panic(fmt.Sprintf("embedded script: %v", err))
	}
	return s
}

// LoadScript reads a script file. An empty path returns DefaultScript.
func LoadScript(path string) (Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes and validates YAML script data.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Prompts) == 0 {
		return Script{}, errors.New("script has no prompts")
	}
	for i, e := range s.Prompts {
		if e.Content == "" {
			return Script{}, fmt.Errorf("prompt %d has no content", i)
		}
	}
	return s, nil
}
