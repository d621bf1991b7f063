package node

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema URIs understood by the validator. Fragment URIs select a
// definition inside the node schema.
const (
	SchemaNode            = "https://graylogic.dev/schemas/node-v1.json"
	SchemaModule          = SchemaNode + "#/definitions/module"
	SchemaInput           = SchemaNode + "#/definitions/input"
	SchemaProgrammedEvent = SchemaNode + "#/definitions/programmedEvent"
)

//go:embed schema/node-v1.json
var nodeSchemaJSON string

// Validator checks documents against the embedded schemas, keyed by URI.
// Compiled schemas are cached.
type Validator struct {
	compiler *jsonschema.Compiler

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator registers the embedded schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource(SchemaNode, strings.NewReader(nodeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("adding node schema resource: %w", err)
	}

	return &Validator{
		compiler: compiler,
		compiled: make(map[string]*jsonschema.Schema),
	}, nil
}

func (v *Validator) schema(uri string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[uri]; ok {
		return s, nil
	}
	s, err := v.compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", uri, err)
	}
	v.compiled[uri] = s
	return s, nil
}

// Validate checks data against the schema identified by uri. Malformed JSON
// and schema violations are reported as ErrConfig.
func (v *Validator) Validate(uri string, data []byte) error {
	s, err := v.schema(uri)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", ErrConfig, err)
	}

	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", ErrConfig, err)
	}
	return nil
}
