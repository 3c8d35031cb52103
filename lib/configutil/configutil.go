// Package configutil loads the json5 configuration the daemon and CLI
// run from. A sibling `<name>.local.<ext>` file overrides individual
// keys, keeping credentials out of the checked-in config.
package configutil

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// localPath derives the override file for a config file:
// config.json5 -> config.local.json5.
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readInto parses one json5 file into `out`, reporting whether the
// file was present. A missing or empty file is not an error.
func readInto[T any](path string, out *T) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(raw, out)
}

// ReadConfig reads `name` and merges its `.local` sibling over it,
// keys set in the local file win. Returns fs.ErrNotExist when neither
// file is present.
func ReadConfig[T any](name string) (T, error) {
	var out T

	found, err := readInto(name, &out)
	if err != nil {
		return out, err
	}

	local := localPath(name)
	var override T
	foundLocal, err := readInto(local, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merged local config overrides", "local", local)
	}

	if !found && !foundLocal {
		return out, fs.ErrNotExist
	}
	return out, nil
}

// ReadRecursively walks up from the working directory until a config
// named `name` is found. telemetry.json5 lives at the repository root
// while tests run inside package directories, this finds it from both.
func ReadRecursively[T any](name string) (T, error) {
	var none T

	current, err := os.Getwd()
	if err != nil {
		return none, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if !errors.Is(err, fs.ErrNotExist) {
			return config, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return none, fs.ErrNotExist
		}
		current = parent
	}
}
