package config

import (
	"os"
	"path/filepath"
)

// Backend persists non-secret config keys. macOS keeps them in UserDefaults
// (via the `defaults` CLI); other platforms use a YAML file under
// $XDG_CONFIG_HOME. Every getter reports ok=false for an unset key.
type Backend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}

// xdgDir resolves an XDG base directory: $env if set, else ~/<fallback>, else
// the working directory.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "nodebench")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "nodebench-data"
	}
	return filepath.Join(append(append([]string{home}, fallback...), "nodebench")...)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory, so a crash never leaves a truncated config behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
