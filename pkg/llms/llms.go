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

// Package llms defines the chat-completion provider contract used by
// the graph nodes and classifiers, plus the OpenAI-compatible
// implementation and the process-wide manager.
package llms

import (
	"context"

	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// ToolDefinition describes one callable tool for function calling.
// Parameters is a literal JSON-schema map.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Model is a bound chat-completion handle. Stream invokes onToken for
// each content delta; both calls return the full assistant message,
// including tool calls when tools are bound.
type Model interface {
	Invoke(ctx context.Context, messages []*protocol.Message) (*protocol.Message, error)
	Stream(ctx context.Context, messages []*protocol.Message, onToken func(delta string)) (*protocol.Message, error)
}

// Provider builds Models. BindTools returns a handle that requests
// function calls; parallelToolCalls=false forces one call per response.
type Provider interface {
	Name() string
	ModelName() string
	Chat() Model
	BindTools(tools []ToolDefinition, parallelToolCalls bool) Model
}
