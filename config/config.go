// Package config loads the assistant's YAML configuration and applies
// environment-variable overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultBackendURL = "http://localhost:8000"

type Keys struct {
	AssemblyAI string `yaml:"assemblyai"`
	Gemini     string `yaml:"gemini"`
	OCR        string `yaml:"ocr"`
}

type Config struct {
	BackendURL string `yaml:"backend_url"`
	DeviceName string `yaml:"device_name"`
	ResumePath string `yaml:"resume_path"`
	DataDir    string `yaml:"data_dir"`
	// EndSilenceMs is how long AssemblyAI waits before closing an utterance.
	EndSilenceMs int  `yaml:"end_silence_ms"`
	Keys         Keys `yaml:"keys"`
}

// Load reads the config file at path and layers env overrides on top.
// A missing file is not an error: keys can come entirely from the
// environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// env-only setup
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ASSEMBLYAI_API_KEY"); v != "" {
		cfg.Keys.AssemblyAI = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Keys.Gemini = v
	}
	if v := os.Getenv("OCR_API_KEY"); v != "" {
		cfg.Keys.OCR = v
	}
	if v := os.Getenv("PROMPTER_BACKEND"); v != "" {
		cfg.BackendURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BackendURL == "" {
		cfg.BackendURL = defaultBackendURL
	}
	if cfg.EndSilenceMs <= 0 {
		cfg.EndSilenceMs = 800
	}
}

// EndSilence returns the utterance threshold as a duration.
func (c *Config) EndSilence() time.Duration {
	return time.Duration(c.EndSilenceMs) * time.Millisecond
}
