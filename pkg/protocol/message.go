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

// Package protocol defines the message log model shared by the graph
// executor, the checkpoint store, and the LLM providers.
//
// A Message is a tagged variant: user (plain text or multimodal blocks),
// assistant (text plus optional tool calls, optionally marked as an
// internal status message), tool result, or per-turn system instruction.
// System messages are assembled fresh every turn and never persisted.
package protocol

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ContentPart is one block of a multimodal user message.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall is an LLM request to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// InvalidToolCall preserves a call the provider could not parse; Args is
// the raw argument string. Sanitation strips these before re-feeding
// history, but the agent node may recover one into a valid ToolCall.
type InvalidToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Args  string `json:"args"`
	Error string `json:"error,omitempty"`
}

// Message is one entry of the per-thread conversation log.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Parts carries multimodal user content; when set, Content holds the
	// concatenated text blocks for classifier and heuristic use.
	Parts []ContentPart `json:"parts,omitempty"`

	ToolCalls        []ToolCall        `json:"tool_calls,omitempty"`
	InvalidToolCalls []InvalidToolCall `json:"invalid_tool_calls,omitempty"`

	// ToolCallID links a tool-result message to the assistant call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Status marks internal workflow markers that must never be re-fed
	// to the LLM.
	Status bool `json:"status,omitempty"`
}

func NewUserMessage(text string) *Message {
	return &Message{ID: uuid.NewString(), Role: RoleUser, Content: text}
}

// NewUserMessageWithParts builds a multimodal user message. Content is
// set to the joined text blocks so downstream text heuristics keep
// working even for image-bearing messages.
func NewUserMessageWithParts(parts []ContentPart) *Message {
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return &Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: strings.Join(texts, "\n"),
		Parts:   parts,
	}
}

func NewAssistantMessage(text string) *Message {
	return &Message{ID: uuid.NewString(), Role: RoleAssistant, Content: text}
}

func NewStatusMessage(text string) *Message {
	return &Message{ID: uuid.NewString(), Role: RoleAssistant, Content: text, Status: true}
}

func NewToolResult(toolCallID, content string) *Message {
	return &Message{ID: uuid.NewString(), Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

func NewSystemMessage(text string) *Message {
	return &Message{Role: RoleSystem, Content: text}
}

// FirstToolCall returns the first tool call of an assistant message.
func (m *Message) FirstToolCall() *ToolCall {
	if m == nil || len(m.ToolCalls) == 0 {
		return nil
	}
	tc := m.ToolCalls[0]
	return &tc
}

// Clone returns a shallow copy with its own slices, so sanitation never
// mutates persisted log entries.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Parts != nil {
		c.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.InvalidToolCalls != nil {
		c.InvalidToolCalls = append([]InvalidToolCall(nil), m.InvalidToolCalls...)
	}
	return &c
}

// Append merges updates into the log the way the executor's message
// channel requires: entries with a known ID replace in place, everything
// else appends. Messages without an ID are assigned one.
func Append(existing, updates []*Message) []*Message {
	merged := append([]*Message(nil), existing...)
	index := make(map[string]int, len(merged))
	for i, m := range merged {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	for _, u := range updates {
		if u == nil {
			continue
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if i, ok := index[u.ID]; ok {
			merged[i] = u
			continue
		}
		index[u.ID] = len(merged)
		merged = append(merged, u)
	}
	return merged
}

// LastUserText returns the text of the most recent user message, or "".
func LastUserText(messages []*Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
