package ingestschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ingest_envelope.schema.json
var envelopeSchemaJSON string

// Envelope is one offline ingest payload: every record inside it came
// from the same source and query window. Per-record field strictness is
// the normalizer's concern; the envelope only has to be well formed.
type Envelope struct {
	PayloadVersion string           `json:"payload_version"`
	Source         string           `json:"source"`
	Query          string           `json:"query,omitempty"`
	FetchedAt      *string          `json:"fetched_at,omitempty"`
	Records        []map[string]any `json:"records"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateEnvelope(payload json.RawMessage) (*Envelope, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(normalized, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&envelope); err != nil {
		return nil, err
	}

	return &envelope, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("ingest_envelope.schema.json", strings.NewReader(envelopeSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("ingest_envelope.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(envelope *Envelope) error {
	if envelope == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(envelope.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(envelope.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if envelope.FetchedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*envelope.FetchedAt)); err != nil {
			return fmt.Errorf("fetched_at must be RFC3339: %w", err)
		}
	}

	return nil
}
