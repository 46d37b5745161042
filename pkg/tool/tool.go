package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Definition is the metadata the model needs to understand a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// Tool is a capability the model can invoke. Execute receives the raw JSON
// arguments as emitted by the model and returns the result text.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

type funcTool[T any] struct {
	def    Definition
	schema *gojsonschema.Schema
	fn     func(context.Context, T) (string, error)
}

// NewFunc adapts a typed handler function into a Tool. Arguments are
// deserialized into T before the handler runs; when strict is set they are
// additionally validated against the schema first.
func NewFunc[T any](name, description string, schema map[string]any, strict bool, fn func(context.Context, T) (string, error)) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: handler cannot be nil", name)
	}

	ft := &funcTool[T]{
		def: Definition{
			Name:        name,
			Description: description,
			Schema:      schema,
			Strict:      strict,
		},
		fn: fn,
	}

	if strict {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("tool %q: invalid parameter schema: %w", name, err)
		}
		ft.schema = compiled
	}

	return ft, nil
}

// MustFunc is NewFunc that panics on invalid construction, for package-level
// registration.
func MustFunc[T any](name, description string, schema map[string]any, strict bool, fn func(context.Context, T) (string, error)) Tool {
	t, err := NewFunc(name, description, schema, strict, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *funcTool[T]) Definition() Definition { return t.def }

func (t *funcTool[T]) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if t.schema != nil {
		result, err := t.schema.Validate(gojsonschema.NewStringLoader(string(args)))
		if err != nil {
			return "", fmt.Errorf("tool %q: arguments are not valid JSON: %w", t.def.Name, err)
		}
		if !result.Valid() {
			reasons := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				reasons = append(reasons, desc.String())
			}
			return "", fmt.Errorf("tool %q: arguments rejected by schema: %s", t.def.Name, strings.Join(reasons, "; "))
		}
	}

	var typed T
	if err := json.Unmarshal(args, &typed); err != nil {
		return "", fmt.Errorf("tool %q: failed to parse arguments: %w", t.def.Name, err)
	}

	return t.fn(ctx, typed)
}

// ObjectSchema builds a JSON schema for an object with the given properties.
// Additional properties are disallowed, which strict mode requires.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
