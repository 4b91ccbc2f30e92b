// Package argschema compiles each tool's declared JSON Schema once (at
// catalog-parse time) and runs extracted tool-call arguments through it
// as a second, independent structural check after C4 extraction. A
// failure here is recorded on the call but never blocks delivery and
// never overrides the grammar's decision — this is a diagnostic, not an
// enforcement layer.
package argschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"toolrunner/engine/internal/chatmodel"
)

// Registry holds one compiled schema per tool name.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

type toolEntry struct {
	Type     string `json:"type"`
	Function struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// Compile parses the same catalog payload toolschema.Parse consumes and
// compiles each entry's parameters object into a reusable schema. Entries
// with no parameters, or a parameters object that fails to compile, are
// skipped — they simply receive no structural check.
func Compile(raw []byte) (*Registry, error) {
	var entries []toolEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("argschema: decode catalog: %w", err)
	}

	reg := &Registry{schemas: map[string]*jsonschema.Schema{}}
	for _, e := range entries {
		if e.Function.Name == "" || len(e.Function.Parameters) == 0 {
			continue
		}
		compiled, err := jsonschema.CompileString(e.Function.Name, string(e.Function.Parameters))
		if err != nil {
			continue
		}
		reg.schemas[e.Function.Name] = compiled
	}
	return reg, nil
}

// Validate runs call's arguments through the compiled schema for its tool
// name, if one exists, and returns the warnings to attach to the call.
// A missing schema or malformed arguments string produce no warnings
// here: malformed JSON is the grammar/detector's concern, not this one.
func (r *Registry) Validate(call chatmodel.ToolCall) []string {
	if r == nil {
		return nil
	}
	schema, ok := r.schemas[call.Function.Name]
	if !ok {
		return nil
	}
	var args any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return nil
	}
	if err := schema.Validate(args); err != nil {
		return []string{err.Error()}
	}
	return nil
}
