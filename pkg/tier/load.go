package tier

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultTable []byte

// DefaultTable returns the built-in tier table.
func DefaultTable() Table {
	t, err := Decode(defaultTable, ".yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded tier table: %v", err))
	}
	return t
}

// Default builds a Registry from the built-in table.
func Default() *Registry {
	r, err := NewRegistry(DefaultTable())
	if err != nil {
		panic(fmt.Sprintf("embedded tier table: %v", err))
	}
	return r
}

// Decode parses a tier table. ext selects the format: .yaml/.yml, .toml or
// .json.
func Decode(data []byte, ext string) (Table, error) {
	var t Table
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return Table{}, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &t)
		if err != nil {
			return Table{}, fmt.Errorf("decode toml: %w", err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return Table{}, fmt.Errorf("decode toml: unknown keys %v", undec)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return Table{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return Table{}, fmt.Errorf("unsupported tier table format %q", ext)
	}
	return t, nil
}

// Load reads and validates the tier table at path. An empty path selects the
// built-in table.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultTable())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier table: %w", err)
	}
	t, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r, err := NewRegistry(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
