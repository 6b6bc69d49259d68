package areactx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const summarySchemaURL = "walktour://schemas/location-summary.json"

const summarySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "summary": {"type": ["string", "null"], "maxLength": 4000},
    "keyFacts": {
      "type": ["array", "null"],
      "maxItems": 12,
      "items": {"type": "string", "minLength": 1, "maxLength": 500}
    }
  },
  "required": ["summary"]
}`

func compileSummarySchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(summarySchemaURL, strings.NewReader(summarySchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(summarySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
