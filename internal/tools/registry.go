// Package tools implements the tool registry and dispatch (component C): a
// name→callable index with JSON-schema extraction and truncating dispatch.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/llmgate/toolgate/internal/backend"
)

// Handler is a tool's invocable entry point. argsJSON is the raw arguments
// object the model emitted; the handler is responsible for decoding it into
// its own declared shape.
type Handler func(ctx context.Context, argsJSON string) (string, error)

type tool struct {
	descriptor backend.ToolDescriptor
	handler    Handler
	validator  *jsonschemav5.Schema
}

// Registry is constructed once at startup: each tool has a unique name, a
// description, an argument schema, and an invocable entry point.
type Registry struct {
	tools map[string]*tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*tool)}
}

// Register derives a tool's JSON schema once, by reflecting over argsShape
// with invopop/jsonschema, then compiles it with santhosh-tekuri/jsonschema
// for argument validation at dispatch time.
func (r *Registry) Register(name, description string, argsShape any, handler Handler) error {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.ReflectFromType(reflect.TypeOf(argsShape))

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("reflect schema for tool %q: %w", name, err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return fmt.Errorf("decode schema for tool %q: %w", name, err)
	}
	delete(schemaMap, "$schema")

	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", name, err)
	}

	r.tools[name] = &tool{
		descriptor: backend.ToolDescriptor{Name: name, Description: description, Schema: schemaMap},
		handler:    handler,
		validator:  compiled,
	}
	return nil
}

// Descriptors returns the full set for tool-schema projection by the backend
// adapter.
func (r *Registry) Descriptors() []backend.ToolDescriptor {
	out := make([]backend.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.descriptor)
	}
	return out
}

func (r *Registry) has(name string) bool {
	_, ok := r.tools[name]
	return ok
}
