package params

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// LoadPatch reads a TOML config file. Keys missing from the file stay nil so the
// result can be applied on top of whatever is currently running. Unrecognised
// keys are skipped and returned in ignored.
func LoadPatch(path string) (p Patch, ignored []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Patch{}, nil, fmt.Errorf("read config: %w", err)
	}
	return DecodePatch(data)
}

// DecodePatch parses TOML bytes into a Patch, skipping unrecognised keys.
func DecodePatch(data []byte) (p Patch, ignored []string, err error) {
	var fields map[string]any
	if err := toml.Unmarshal(data, &fields); err != nil {
		return Patch{}, nil, fmt.Errorf("%w: decode toml: %v", ErrInvalidConfig, err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return Patch{}, nil, fmt.Errorf("%w: decode toml: %v", ErrInvalidConfig, err)
	}
	return p, UnknownKeys(fields), nil
}

// Save writes the full configuration as TOML, replacing the file atomically.
func Save(path string, c ShapeConfig) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sphere-*.toml")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// DefaultPath returns where the config is saved when no -config flag was given.
func DefaultPath() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "sphere.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sphere.toml")
}
