package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/wireformat"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// OptionsValidator checks options blobs against the JSON schema registered
// for their format and against the typed options model, if any.
type OptionsValidator struct {
	registry ports.SchemaRegistry
	compiled map[string]*jsonschema.Schema
	mu       sync.Mutex
}

// NewOptionsValidator creates a validator backed by registry. A nil registry
// skips the JSON schema step.
func NewOptionsValidator(registry ports.SchemaRegistry) *OptionsValidator {
	return &OptionsValidator{
		registry: registry,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Validate returns a ConfigError if opts cannot be accepted for formatID.
func (v *OptionsValidator) Validate(formatID string, opts entities.ParseOptions) error {
	_, payload, err := wireformat.DecodeOptions(opts)
	if err != nil {
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Err: err}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	schema, err := v.schemaFor(formatID)
	if err != nil {
		return err
	}
	if schema != nil {
		var doc any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Err: err}
		}
		if err := schema.Validate(doc); err != nil {
			return schemaViolation(err)
		}
	}

	return ValidateOptions(formatID, payload)
}

func (v *OptionsValidator) schemaFor(formatID string) (*jsonschema.Schema, error) {
	if v.registry == nil {
		return nil, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[formatID]; ok {
		return s, nil
	}
	raw, ok := v.registry.GetSchema(formatID)
	if !ok {
		return nil, nil
	}

	url := "mem://options/" + formatID + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add options schema for %s: %w", formatID, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile options schema for %s: %w", formatID, err)
	}
	v.compiled[formatID] = s
	return s, nil
}

func schemaViolation(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigUnsupportedOption, Err: err}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &domainerrors.ConfigError{
		Kind:   domainerrors.ConfigUnsupportedOption,
		Field:  strings.TrimPrefix(leaf.InstanceLocation, "/"),
		Reason: leaf.Message,
	}
}
