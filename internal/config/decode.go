package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// ErrMalformed wraps every decode failure: bad syntax, unknown keys,
// wrong value types, trailing documents.
var ErrMalformed = errors.New("config: malformed file")

// Decode parses a config file. Files named *.yaml or *.yml are read as
// YAML, anything else as JSON. Both go through the same strict JSON
// decoder, so an unknown key is an error in either format. Environment
// overrides are applied to the result.
func Decode(name string, data []byte) (*Config, error) {
	if isYAML(name) {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(name), err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(name), err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: %s: trailing data after the config object", ErrMalformed, filepath.Base(name))
	}
	ApplyEnv(&cfg)
	return &cfg, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		// An empty file is an empty config, not null.
		doc = map[string]any{}
	}
	out, err := stringKeys(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// stringKeys rewrites YAML mappings into JSON objects. Config keys are
// always names, so a non-string key is rejected rather than stringified.
func stringKeys(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			c, err := stringKeys(e)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", k, err)
			}
			x[k] = c
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("key %v: %w", k, errNonStringKey)
			}
			c, err := stringKeys(e)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", ks, err)
			}
			m[ks] = c
		}
		return m, nil
	case []any:
		for i, e := range x {
			c, err := stringKeys(e)
			if err != nil {
				return nil, fmt.Errorf("[%d].%w", i, err)
			}
			x[i] = c
		}
		return x, nil
	}
	return v, nil
}

var errNonStringKey = errors.New("mapping keys must be strings")
