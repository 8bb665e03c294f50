package handlers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is to detect request bodies rejected by a schema.
var ErrValidation = errors.New("validation failed")

// Validator holds one compiled schema per request body, keyed by file name
// without extension.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		id := "https://bsknet.dev/schemas/" + e.Name()
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		if err := c.AddResource(id, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", name, err)
		}
		s, err := c.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate checks body against the named schema.
func (v *Validator) Validate(schema string, body []byte) error {
	s, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
