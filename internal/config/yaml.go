package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML config as JSON so both formats go through
// the same strict decoder and unknown keys fail either way. Non-YAML
// input is returned as is. The second result names the source format.
func yamlToJSON(name string, data []byte) ([]byte, string, error) {
	if !isYAMLFile(name) {
		return data, "json", nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("parse %s: %w", filepath.Base(name), err)
	}
	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("convert %s: %w", filepath.Base(name), err)
	}
	return j, "yaml", nil
}

// stringKeys rewrites map[any]any nodes, which encoding/json rejects,
// into map[string]any. Numeric keys such as chat ids become strings.
func stringKeys(node any) any {
	switch x := node.(type) {
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
		for i, v := range x {
			x[i] = stringKeys(v)
		}
		return x
	}
	return node
}
