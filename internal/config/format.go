package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

// detectFormat goes by extension; files without a known one are JSON when
// they start with an object, YAML otherwise.
func detectFormat(name string, data []byte) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return formatJSON
	}
	return formatYAML
}

// toJSON returns data as JSON so both formats share the strict decoder.
func toJSON(name string, data []byte) ([]byte, format, error) {
	f := detectFormat(name, data)
	if f == formatJSON {
		return data, f, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, f, fmt.Errorf("parse yaml: %w", err)
	}
	if v == nil {
		return []byte("{}"), f, nil
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, f, fmt.Errorf("convert yaml: %w", err)
	}
	return j, f, nil
}

// stringKeys rewrites nested maps so encoding/json accepts them.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
