//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var errSecretNotFound = errors.New("secret not found")

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "secrets.yaml")
}

// readSecrets loads the 0600 secrets file, keyed "service/account". A missing
// file is an empty store.
func readSecrets(path string) (map[string]string, error) {
	secrets := make(map[string]string)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	v, ok := secrets[service+"/"+account]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		return err
	}
	secrets[service+"/"+account] = value

	out, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, out)
}
