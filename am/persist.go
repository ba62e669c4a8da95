package am

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/missionctl/errors"
)

const redacted = "********"

// createBackup rotates .back1 -> .back2 -> .back3 before a config file is replaced
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// DefaultSettings returns the default configuration as a nested map
func DefaultSettings() map[string]interface{} {
	v := viper.New()
	SetDefaults(v)
	return v.AllSettings()
}

// WriteDefaultConfig writes an am.toml containing every default to configPath.
// An existing file is rotated into .back1 unless force is false, in which case
// the call fails.
func WriteDefaultConfig(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.WithHint(
			errors.Newf("config file %s already exists", configPath),
			"use --force to overwrite (the old file is kept as .back1)",
		)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", configPath)
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(DefaultSettings())
	if err != nil {
		return errors.Wrap(err, "failed to marshal default config")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// Marshal renders settings as toml, json or yaml. Secrets are redacted.
func Marshal(settings map[string]interface{}, format string) ([]byte, error) {
	clean := redactSecrets(settings)

	switch strings.ToLower(format) {
	case "", "toml":
		return toml.Marshal(clean)
	case "json":
		return json.MarshalIndent(clean, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(clean)
	default:
		return nil, errors.Newf("unknown format %q (want toml, json or yaml)", format)
	}
}

// SortedKeys returns the dotted keys of settings in order, for flat listings
func SortedKeys(settings map[string]interface{}) []string {
	var keys []string
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			keys = append(keys, key)
		}
	}
	walk("", settings)
	sort.Strings(keys)
	return keys
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "api_key") || strings.HasSuffix(key, "secret")
}

func redactSecrets(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = redactSecrets(val)
		case string:
			if isSecretKey(k) && val != "" {
				out[k] = redacted
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}
