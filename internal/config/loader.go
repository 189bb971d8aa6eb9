package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds file-configurable parameters for the llamactl CLI.
// Zero values mean "unspecified" and are replaced by flag/env defaults in cmd.
type Config struct {
	BinaryPath   string `json:"binary_path" yaml:"binary_path" toml:"binary_path"`
	ModelPath    string `json:"model_path" yaml:"model_path" toml:"model_path"`
	Repo         string `json:"repo" yaml:"repo" toml:"repo"`
	Filename     string `json:"filename" yaml:"filename" toml:"filename"`
	WorkingDir   string `json:"working_dir" yaml:"working_dir" toml:"working_dir"`
	Port         int    `json:"port" yaml:"port" toml:"port"`
	CtxSize      int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Parallel     int    `json:"parallel" yaml:"parallel" toml:"parallel"`
	GPULayers    int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ContBatching *bool  `json:"cont_batching" yaml:"cont_batching" toml:"cont_batching"`
	TimeoutSec   int    `json:"timeout_sec" yaml:"timeout_sec" toml:"timeout_sec"`
	ControlAddr  string `json:"control_addr" yaml:"control_addr" toml:"control_addr"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
