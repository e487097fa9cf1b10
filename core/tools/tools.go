// Package tools holds the function-calling surface the assistant can reach
// during a conversation: tool definitions, a registry with availability
// gating, and a handful of builtin tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Call is one tool invocation requested by the assistant. Arguments is the
// raw JSON string exactly as generated.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Handler executes a tool call and returns the result serialized for the
// conversation. Returning an error (or panicking) surfaces as an error
// result, never as a dropped call.
type Handler func(ctx context.Context, arguments json.RawMessage) (string, error)

// Tool is one callable function. Available, when set, gates whether the tool
// is advertised for the current session; a nil Available means always.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	Available func() bool
	Handle    Handler
}

// ParametersFor derives the parameter schema from the arguments struct's
// jsonschema tags.
func ParametersFor[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	return schema
}

// ParseArguments unmarshals a call's arguments into the tool's argument
// struct. An empty argument string parses as the zero value.
func ParseArguments[T any](arguments json.RawMessage) (T, error) {
	var parsed T
	if len(arguments) == 0 {
		return parsed, nil
	}
	if err := json.Unmarshal(arguments, &parsed); err != nil {
		return parsed, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	return parsed, nil
}
