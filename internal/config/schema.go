package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	compiledOnce   sync.Once
	compiledSchema *schemavalidate.Schema
	compiledErr    error
)

// JSONSchema returns the JSON Schema for the Config struct.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// ValidateDocument checks a raw YAML config document against the generated
// schema before it is decoded into Config. This catches typoed keys and
// wrongly-typed values with a precise path instead of a zero-value surprise
// later.
func ValidateDocument(raw []byte) error {
	schema, err := compileConfigSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config document: %w", err)
	}
	doc = normalizeYAML(doc)

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	return nil
}

func compileConfigSchema() (*schemavalidate.Schema, error) {
	compiledOnce.Do(func() {
		data, err := JSONSchema()
		if err != nil {
			compiledErr = err
			return
		}
		compiledSchema, compiledErr = schemavalidate.CompileString("conclave.schema.json", string(data))
	})
	return compiledSchema, compiledErr
}

// normalizeYAML converts yaml.v3's map[string]any trees into the shapes the
// schema validator expects (all numbers as float64 or json.Number-compatible
// values, no map[any]any keys).
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
