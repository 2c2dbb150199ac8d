package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed schema.json
var schemaJSON []byte

// Spec describes one tool as published to the oracle. InputSchema is the
// JSON Schema object exactly as it appears in schema.json.
type Spec struct {
	Name        Name            `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

var specs = mustParseSpecs(schemaJSON)

func mustParseSpecs(data []byte) []Spec {
	var out []Spec
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tools: parse schema.json: %v", err))
	}
	if len(out) != len(Names) {
		panic(fmt.Sprintf("tools: schema.json has %d tools, want %d", len(out), len(Names)))
	}
	for i, s := range out {
		if s.Name != Names[i] {
			panic(fmt.Sprintf("tools: schema.json tool %d is %q, want %q", i, s.Name, Names[i]))
		}
	}
	return out
}

// Specs returns the published tool schema in registration order.
func Specs() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// SchemaJSON returns the raw embedded schema document.
func SchemaJSON() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}
