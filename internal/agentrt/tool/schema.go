package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflectSchema turns a tool's parameter struct into an inline JSON
// Schema object: {type: object, properties, required}. Field names come
// from json tags, descriptions from jsonschema tags, and a field is
// optional iff its json tag carries omitempty. Everything is kept inline
// (no $ref/$defs) because LLM providers expect a self-contained
// descriptor document.
func reflectSchema(prototype any) (map[string]any, error) {
	if prototype == nil {
		return nil, fmt.Errorf("nil parameter prototype")
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(prototype)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	return doc, nil
}
