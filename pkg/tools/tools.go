// Copyright 2025 Origin Notes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tools defines the callable tool contract and the fixed note
// toolset the agent drives.
//
// A tool returns a human-readable string; failures are reported as
// strings starting with "Error:" so the graph can classify success
// without interpreting tool semantics.
package tools

import (
	"context"
	"fmt"

	"github.com/origin-notes/origin-agent/pkg/llms"
)

// Tool is one named callable capability.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON-schema map of the tool's parameters.
	Schema() map[string]any

	// Call executes the tool. A returned error is rendered as an
	// "Error: ..." result string by the caller.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// funcTool adapts a plain function into a Tool.
type funcTool struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc builds a Tool from a function.
func NewFunc(name, description string, schema map[string]any, fn func(ctx context.Context, args map[string]any) (string, error)) Tool {
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *funcTool) Name() string           { return t.name }
func (t *funcTool) Description() string    { return t.description }
func (t *funcTool) Schema() map[string]any { return t.schema }
func (t *funcTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

// Registry holds the fixed toolset and the write-capability lookup.
type Registry struct {
	order    []string
	tools    map[string]Tool
	writeSet map[string]bool
}

func NewRegistry(writeTools []string) *Registry {
	ws := make(map[string]bool, len(writeTools))
	for _, name := range writeTools {
		ws[name] = true
	}
	return &Registry{tools: make(map[string]Tool), writeSet: ws}
}

// Register adds a tool; re-registering a name replaces it in place.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// IsWrite reports whether name is in the configured write set.
func (r *Registry) IsWrite(name string) bool { return r.writeSet[name] }

// All returns every tool in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ReadOnly returns the subset of tools outside the write set.
func (r *Registry) ReadOnly() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if !r.writeSet[name] {
			out = append(out, r.tools[name])
		}
	}
	return out
}

// Definitions converts tools to the provider binding shape.
func Definitions(ts []Tool) []llms.ToolDefinition {
	out := make([]llms.ToolDefinition, 0, len(ts))
	for _, t := range ts {
		out = append(out, llms.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// StringArg extracts a string argument, tolerating missing keys.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// IntArg extracts an integer argument; JSON numbers arrive as float64.
func IntArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
