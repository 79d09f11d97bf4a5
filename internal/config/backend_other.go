//go:build !darwin

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.yaml")
}

// yamlBackend keeps keys as a flat YAML mapping, e.g.
//
//	server.port: 4000
//	coordinator.llm_delegation: true
type yamlBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() Backend {
	return openYAMLBackend(configFilePath())
}

func openYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, values: make(map[string]any)}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read config file, using defaults", "path", path, "error", err)
		}
		return b
	}
	if err := yaml.Unmarshal(data, &b.values); err != nil {
		slog.Warn("could not parse config file, using defaults", "path", path, "error", err)
		b.values = make(map[string]any)
	}
	return b
}

func (b *yamlBackend) save() error {
	data, err := yaml.Marshal(b.values)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := writeFileAtomic(b.path, data); err != nil {
		return fmt.Errorf("writing %s: %w", b.path, err)
	}
	return nil
}

func (b *yamlBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *yamlBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: want an integer, got %T", key, v)
	}
}

func (b *yamlBackend) GetBool(key string) (bool, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch val := v.(type) {
	case bool:
		return val, true, nil
	case string:
		bv, err := strconv.ParseBool(val)
		if err != nil {
			return false, true, fmt.Errorf("invalid bool for %s: %w", key, err)
		}
		return bv, true, nil
	default:
		return false, true, fmt.Errorf("%s: want a bool, got %T", key, v)
	}
}

func (b *yamlBackend) set(key string, v any) error {
	b.values[key] = v
	return b.save()
}

func (b *yamlBackend) SetString(key, val string) error  { return b.set(key, val) }
func (b *yamlBackend) SetInt(key string, val int) error   { return b.set(key, val) }
func (b *yamlBackend) SetBool(key string, val bool) error { return b.set(key, val) }

func (b *yamlBackend) Delete(key string) error {
	delete(b.values, key)
	return b.save()
}
