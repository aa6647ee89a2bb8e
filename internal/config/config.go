package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/image-features/pkg/store"
)

// Config holds the application configuration
type Config struct {
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Whitening  WhiteningConfig  `json:"whitening" yaml:"whitening"`
	Backends   BackendsConfig   `json:"backends" yaml:"backends"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ExtractionConfig holds defaults for the extract command
type ExtractionConfig struct {
	Preset    string `json:"preset" yaml:"preset"`
	ImageDir  string `json:"image_dir" yaml:"image_dir"`
	ExportDir string `json:"export_dir" yaml:"export_dir"`
	AsHalf    bool   `json:"as_half" yaml:"as_half"`
	Overwrite bool   `json:"overwrite" yaml:"overwrite"`
	// Driver selects the SQLite driver: "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string `json:"driver" yaml:"driver"`
}

// WhiteningConfig holds defaults for the whiten command
type WhiteningConfig struct {
	Components int     `json:"components" yaml:"components"`
	Epsilon    float64 `json:"epsilon" yaml:"epsilon"`
	Partition  string  `json:"partition" yaml:"partition"`
	Key        string  `json:"key" yaml:"key"`
}

// BackendsConfig holds the remote vision servers used by the caption model
type BackendsConfig struct {
	Ollama   BackendConfig `json:"ollama" yaml:"ollama"`
	LlamaCpp BackendConfig `json:"llamacpp" yaml:"llamacpp"`
}

// BackendConfig describes one vision server
type BackendConfig struct {
	URL         string `json:"url" yaml:"url"`
	VisionModel string `json:"vision_model" yaml:"vision_model"`
	EmbedModel  string `json:"embed_model" yaml:"embed_model"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			Preset:    "saliency_aachen",
			ExportDir: "./outputs",
			Driver:    store.DriverCGO,
		},
		Whitening: WhiteningConfig{
			Epsilon:   1e-5,
			Partition: "db",
			Key:       "global_descriptor",
		},
		Backends: BackendsConfig{
			Ollama: BackendConfig{
				URL:         "http://localhost:11434",
				VisionModel: "minicpm-v",
				EmbedModel:  "nomic-embed-text",
			},
			LlamaCpp: BackendConfig{
				URL:         "http://localhost:8080",
				VisionModel: "minicpm-v",
				EmbedModel:  "nomic-embed-text",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. Fields missing
// from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file, chosen by extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Extraction.Preset == "" {
		return fmt.Errorf("extraction.preset cannot be empty")
	}

	switch c.Extraction.Driver {
	case "", store.DriverCGO, store.DriverPureGo:
	default:
		return fmt.Errorf("extraction.driver must be %q or %q", store.DriverCGO, store.DriverPureGo)
	}

	if c.Whitening.Components < 0 {
		return fmt.Errorf("whitening.components must not be negative")
	}

	if c.Whitening.Epsilon <= 0 || c.Whitening.Epsilon >= 1 {
		return fmt.Errorf("whitening.epsilon must be between 0 and 1")
	}

	if c.Whitening.Partition == "" || c.Whitening.Key == "" {
		return fmt.Errorf("whitening.partition and whitening.key cannot be empty")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// Backend returns the settings for a caption backend by name
func (c *Config) Backend(name string) (BackendConfig, bool) {
	switch name {
	case "ollama":
		return c.Backends.Ollama, true
	case "llamacpp":
		return c.Backends.LlamaCpp, true
	}
	return BackendConfig{}, false
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-features", "config.yaml")
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
