package ledger

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound remote documents are validated before they are merged. The
// shapes are deliberately loose: a record needs an identity field, a
// configuration object just needs to be an object. Anything else is
// the UI layer's concern.
const (
	listRecordSchema = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["id"]
	}`
	singletonSchema = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object"
	}`
)

type SchemaGuard struct {
	record    *jsonschema.Schema
	singleton *jsonschema.Schema
	logger    Logger
}

func NewSchemaGuard(logger Logger) (*SchemaGuard, error) {
	compiler := jsonschema.NewCompiler()
	recordDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(listRecordSchema)))
	if err != nil {
		return nil, fmt.Errorf("record schema: %w", err)
	}
	if err := compiler.AddResource("record.json", recordDoc); err != nil {
		return nil, fmt.Errorf("record schema: %w", err)
	}
	singletonDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(singletonSchema)))
	if err != nil {
		return nil, fmt.Errorf("singleton schema: %w", err)
	}
	if err := compiler.AddResource("singleton.json", singletonDoc); err != nil {
		return nil, fmt.Errorf("singleton schema: %w", err)
	}
	record, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("record schema: %w", err)
	}
	singleton, err := compiler.Compile("singleton.json")
	if err != nil {
		return nil, fmt.Errorf("singleton schema: %w", err)
	}
	return &SchemaGuard{record: record, singleton: singleton, logger: logger}, nil
}

// ValidDocument reports whether doc may be merged into collection.
// Invalid documents are skipped and logged, never merged and never
// fatal to the subscription.
func (g *SchemaGuard) ValidDocument(collection string, singleton bool, doc Document) bool {
	if g == nil {
		return true
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc.Data))
	if err != nil {
		logf(g.logger, "skipping unparsable remote document %s/%s: %v", collection, doc.Key, err)
		return false
	}
	schema := g.record
	if singleton {
		schema = g.singleton
	}
	if err := schema.Validate(instance); err != nil {
		logf(g.logger, "skipping invalid remote document %s/%s: %v", collection, doc.Key, err)
		return false
	}
	return true
}
