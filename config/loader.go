package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c360/cachescope/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "CACHESCOPE_"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers      []string
	envPrefix   string
	environment map[string]string
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetEnvironment replaces the process environment as the override source.
func (l *Loader) SetEnvironment(environment map[string]string) {
	l.environment = environment
}

// LoadAgent loads and validates an agent configuration.
func (l *Loader) LoadAgent() (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := l.load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadHub loads and validates a hub configuration.
func (l *Loader) LoadHub() (*HubConfig, error) {
	cfg := DefaultHubConfig()
	if err := l.load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// load merges every layer over target's current value, then applies
// environment overrides.
func (l *Loader) load(target any) error {
	merged, err := toMap(target)
	if err != nil {
		return errors.WrapFatal(err, "Loader", "load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := loadRawMap(path)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
				"Loader", "load", "read layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "load", "encode merged config")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "load", "decode merged config")
	}

	opts := env.Options{Prefix: l.envPrefix}
	if l.environment != nil {
		opts.Environment = l.environment
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "load", "apply environment")
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// loadRawMap reads a JSON or YAML file as a map.
func loadRawMap(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// SaveToFile writes cfg as indented JSON or YAML by extension.
func SaveToFile(path string, cfg any) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "config", "SaveToFile", "encode config")
	}
	if err := safeWriteFile(path, data); err != nil {
		return errors.WrapInvalid(err, "config", "SaveToFile", "write config")
	}
	return nil
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
