package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// projectSchema constrains the project file before it is unmarshalled, so a
// hand-edited file fails with a field-level message instead of a zero value
// sneaking into the run.
func projectSchema() map[string]any {
	competence := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"year":  map[string]any{"type": "integer", "minimum": 2000, "maximum": 2100},
			"month": map[string]any{"type": "integer", "minimum": 1, "maximum": 12},
		},
		"required": []string{"year", "month"},
	}
	provider := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"num":        map[string]any{"type": "integer", "minimum": 1},
			"folder":     map[string]any{"type": "string", "minLength": 1},
			"short_name": map[string]any{"type": "string"},
			"full_name":  map[string]any{"type": "string"},
			"invoices":   map[string]any{"type": "boolean"},
			"payroll":    map[string]any{"type": "boolean"},
			"overrides": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fixed_inss_cents": map[string]any{"type": "integer", "minimum": 0},
					"no_worker_count":  map[string]any{"type": "boolean"},
					"fixed_iss_rate":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				},
			},
		},
		"required": []string{"num", "folder"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cno":       map[string]any{"type": "string", "pattern": `^\d{12}$`},
			"name":      map[string]any{"type": "string", "minLength": 1},
			"from":      competence,
			"to":        competence,
			"providers": map[string]any{"type": "array", "minItems": 1, "items": provider},
		},
		"required": []string{"cno", "name", "from", "to", "providers"},
	}
}

func validateSchema(data []byte) error {
	b, err := json.Marshal(projectSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("project.schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("project.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse project file: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("project file does not match schema: %w", err)
	}
	return nil
}
