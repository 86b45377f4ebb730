package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

var (
	openAPIOnce sync.Once
	openAPIJSON []byte
	openAPIErr  error
)

// getOpenAPIJSON returns the embedded API document as JSON, converted once.
func getOpenAPIJSON() ([]byte, error) {
	openAPIOnce.Do(func() {
		openAPIJSON, openAPIErr = yamlToJSON(openAPIYAML)
	})
	return openAPIJSON, openAPIErr
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi document: %w", err)
	}
	return json.MarshalIndent(jsonCompatible(doc), "", "  ")
}

// jsonCompatible rewrites non-string map keys, which YAML allows and JSON
// does not. Entries with keys that are not strings are dropped.
func jsonCompatible(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for key, value := range v {
			v[key] = jsonCompatible(value)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if s, ok := key.(string); ok {
				out[s] = jsonCompatible(value)
			}
		}
		return out
	case []any:
		for i, value := range v {
			v[i] = jsonCompatible(value)
		}
		return v
	default:
		return v
	}
}
