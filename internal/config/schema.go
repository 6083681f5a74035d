package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce     sync.Once
	schemaJSON     []byte
	schemaCompiled *validator.Schema
	schemaErr      error
)

var durationType = reflect.TypeOf(time.Duration(0))

// JSONSchema returns the JSON Schema for the Config struct, keyed by the
// YAML field names.
func JSONSchema() ([]byte, error) {
	loadSchema()
	return schemaJSON, schemaErr
}

func loadSchema() {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
			// durations are written as "30s" but decode from nanoseconds too
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				if t != durationType {
					return nil
				}
				return &jsonschema.Schema{OneOf: []*jsonschema.Schema{
					{Type: "string", Pattern: `^(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+$`},
					{Type: "integer"},
				}}
			},
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
		if schemaErr != nil {
			return
		}
		schemaCompiled, schemaErr = validator.CompileString("agentrt.config.schema.json", string(schemaJSON))
	})
}

// ValidateFile checks the file at path against JSONSchema and then against
// Validate, reporting structural and semantic problems together.
func ValidateFile(path string) error {
	raw, err := LoadRaw(path)
	if err != nil {
		return err
	}
	loadSchema()
	if schemaErr != nil {
		return fmt.Errorf("config schema: %w", schemaErr)
	}

	// the validator expects encoding/json values
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	var issues []string
	if err := schemaCompiled.Validate(doc); err != nil {
		issues = append(issues, schemaIssues(err)...)
	}
	if len(issues) == 0 {
		cfg, err := decodeRawConfig(raw)
		if err != nil {
			return err
		}
		applyDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return nil
	}
	return &ValidationError{Issues: issues}
}

// schemaIssues flattens a validation error into one line per leaf cause.
func schemaIssues(err error) []string {
	verr, ok := err.(*validator.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *validator.ValidationError)
	walk = func(e *validator.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				loc = "(root)"
			}
			out = append(out, fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}
