// Package config loads the daemon configuration from YAML, JSON or TOML
// files. Zero values mean "unspecified" and are replaced by defaults in
// Normalize or in main.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/common/fsutil"
)

// Config holds runtime parameters for the service.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":3000".
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// MaxConcurrentRequests caps in-flight generations; excess requests are
	// rejected immediately.
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests" toml:"max_concurrent_requests"`
	// CORSAllowedOrigins enables CORS when non-empty.
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`

	Backend    Backend    `json:"backend" yaml:"backend" toml:"backend"`
	Validation Validation `json:"validation" yaml:"validation" toml:"validation"`
	Model      Model      `json:"model" yaml:"model" toml:"model"`
	Energy     Energy     `json:"energy" yaml:"energy" toml:"energy"`
}

// Backend selects and configures the model runtime.
type Backend struct {
	// Mode is "server" (llama.cpp server over HTTP) or "local" (in-process,
	// needs the 'llama' build tag).
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
	// URL of the llama.cpp server in server mode.
	URL string `json:"url" yaml:"url" toml:"url"`
	// APIKey for the llama.cpp server, optional.
	APIKey string `json:"api_key" yaml:"api_key" toml:"api_key"`
	// ModelPath of the GGUF file in local mode. Supports a leading '~'.
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	// ContextSize for local mode.
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size"`
	// Threads for local mode.
	Threads int `json:"threads" yaml:"threads" toml:"threads"`
}

// Validation bounds accepted requests.
type Validation struct {
	MaxInputTokens      int `json:"max_input_tokens" yaml:"max_input_tokens" toml:"max_input_tokens"`
	MaxTotalTokens      int `json:"max_total_tokens" yaml:"max_total_tokens" toml:"max_total_tokens"`
	MaxBestOf           int `json:"max_best_of" yaml:"max_best_of" toml:"max_best_of"`
	MaxStopSequences    int `json:"max_stop_sequences" yaml:"max_stop_sequences" toml:"max_stop_sequences"`
	MaxTopNTokens       int `json:"max_top_n_tokens" yaml:"max_top_n_tokens" toml:"max_top_n_tokens"`
	DefaultMaxNewTokens int `json:"default_max_new_tokens" yaml:"default_max_new_tokens" toml:"default_max_new_tokens"`
}

// Model points at the hub artifacts used for chat templating.
type Model struct {
	// TokenizerConfigPath is the tokenizer_config.json location. Supports a
	// leading '~'.
	TokenizerConfigPath string `json:"tokenizer_config_path" yaml:"tokenizer_config_path" toml:"tokenizer_config_path"`
	// ProcessorConfigPath is the processor_config.json location.
	ProcessorConfigPath string `json:"processor_config_path" yaml:"processor_config_path" toml:"processor_config_path"`
	// ToolPrompt is appended with the tool definitions when the chat template
	// has no native tool support.
	ToolPrompt string `json:"tool_prompt" yaml:"tool_prompt" toml:"tool_prompt"`
}

// Energy configures GPU energy metering.
type Energy struct {
	// GPUIndex selects the NVML device.
	GPUIndex int `json:"gpu_index" yaml:"gpu_index" toml:"gpu_index"`
	// Disabled turns metering off even when NVML is available.
	Disabled bool `json:"disabled" yaml:"disabled" toml:"disabled"`
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
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize expands user paths and rejects inconsistent settings. Defaults
// for unset numeric fields are applied by the consuming packages.
func (c *Config) Normalize() error {
	switch c.Backend.Mode {
	case "", "server", "local":
	default:
		return fmt.Errorf("backend.mode must be \"server\" or \"local\", got %q", c.Backend.Mode)
	}
	var err error
	if c.Backend.ModelPath, err = fsutil.ExpandHome(c.Backend.ModelPath); err != nil {
		return err
	}
	if c.Model.TokenizerConfigPath, err = fsutil.ExpandHome(c.Model.TokenizerConfigPath); err != nil {
		return err
	}
	if c.Model.ProcessorConfigPath, err = fsutil.ExpandHome(c.Model.ProcessorConfigPath); err != nil {
		return err
	}
	return nil
}
