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

// Package graph implements the agent state machine: an explicit graph of
// nodes (router, fast_chat, agent, pick_one_tool, run_one_tool, status)
// over a checkpointed per-thread turn state, with write-policy gating,
// doom-loop detection, and human-in-the-loop approval interrupts.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// Intent values produced by the router node.
const (
	IntentChat = "CHAT"
	IntentTask = "TASK"
)

// Agent interaction modes. Ask mode disables every write tool.
const (
	ModeAsk   = "ask"
	ModeAgent = "agent"
)

// TurnState is the per-thread persisted state. The messages field is an
// append channel; every other field is replaced whole by node updates.
type TurnState struct {
	Messages []*protocol.Message `json:"messages"`

	Intent string `json:"intent,omitempty"`

	ActiveNoteID       string `json:"active_note_id,omitempty"`
	ActiveNoteTitle    string `json:"active_note_title,omitempty"`
	ActiveNoteCategory string `json:"active_note_category,omitempty"`
	ContextNoteID      string `json:"context_note_id,omitempty"`
	ContextNoteTitle   string `json:"context_note_title,omitempty"`

	NoteContent       string `json:"note_content,omitempty"`
	SelectedText      string `json:"selected_text,omitempty"`
	AttachmentContext string `json:"attachment_context,omitempty"`

	UseKnowledge     bool   `json:"use_knowledge,omitempty"`
	AutoAcceptWrites bool   `json:"auto_accept_writes"`
	AgentMode        string `json:"agent_mode,omitempty"`

	ToolCallCount       int    `json:"tool_call_count"`
	LastToolName        string `json:"last_tool_name,omitempty"`
	LastToolFingerprint string `json:"last_tool_fingerprint,omitempty"`
	LastToolSuccess     bool   `json:"last_tool_success"`

	// WriteAuthorized caches the semantic write classification for the
	// current turn; nil means not yet classified.
	WriteAuthorized *bool `json:"write_authorized,omitempty"`

	NextToolCall *protocol.ToolCall `json:"next_tool_call,omitempty"`
}

// NewTurnState returns the defaults of a fresh thread.
func NewTurnState() *TurnState {
	return &TurnState{
		AutoAcceptWrites: true,
		AgentMode:        ModeAgent,
		LastToolSuccess:  true,
	}
}

// Update is one node's partial state update. Messages append; pointer
// fields replace when non-nil. ClearNextToolCall distinguishes "set to
// nothing" from "leave unchanged".
type Update struct {
	Messages []*protocol.Message

	Intent              *string
	WriteAuthorized     *bool
	ToolCallCount       *int
	LastToolName        *string
	LastToolFingerprint *string
	LastToolSuccess     *bool

	NextToolCall      *protocol.ToolCall
	ClearNextToolCall bool
}

// Apply merges an update into the state, implementing the per-channel
// reducer semantics.
func (s *TurnState) Apply(u *Update) {
	if u == nil {
		return
	}
	if len(u.Messages) > 0 {
		s.Messages = protocol.Append(s.Messages, u.Messages)
	}
	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.WriteAuthorized != nil {
		s.WriteAuthorized = u.WriteAuthorized
	}
	if u.ToolCallCount != nil {
		s.ToolCallCount = *u.ToolCallCount
	}
	if u.LastToolName != nil {
		s.LastToolName = *u.LastToolName
	}
	if u.LastToolFingerprint != nil {
		s.LastToolFingerprint = *u.LastToolFingerprint
	}
	if u.LastToolSuccess != nil {
		s.LastToolSuccess = *u.LastToolSuccess
	}
	if u.NextToolCall != nil {
		s.NextToolCall = u.NextToolCall
	} else if u.ClearNextToolCall {
		s.NextToolCall = nil
	}
}

// LiveState carries the UI toggles sent with every request. A resume
// must apply them so toggles changed during approval take effect.
type LiveState struct {
	ActiveNoteID       string
	ActiveNoteTitle    string
	ActiveNoteCategory string
	ContextNoteID      string
	ContextNoteTitle   string
	NoteContent        string
	SelectedText       string
	AttachmentContext  string
	UseKnowledge       bool
	AutoAcceptWrites   bool
	AgentMode          string
}

// ApplyLive replaces the request-scoped fields from the live snapshot.
func (s *TurnState) ApplyLive(l *LiveState) {
	if l == nil {
		return
	}
	s.ActiveNoteID = l.ActiveNoteID
	s.ActiveNoteTitle = l.ActiveNoteTitle
	s.ActiveNoteCategory = l.ActiveNoteCategory
	s.ContextNoteID = l.ContextNoteID
	s.ContextNoteTitle = l.ContextNoteTitle
	s.NoteContent = l.NoteContent
	s.SelectedText = l.SelectedText
	s.AttachmentContext = l.AttachmentContext
	s.UseKnowledge = l.UseKnowledge
	s.AutoAcceptWrites = l.AutoAcceptWrites
	if l.AgentMode != "" {
		s.AgentMode = l.AgentMode
	}
}

// ResetTurn clears the per-turn bookkeeping before a new user message.
func (s *TurnState) ResetTurn() {
	s.Intent = ""
	s.ToolCallCount = 0
	s.LastToolName = ""
	s.LastToolFingerprint = ""
	s.LastToolSuccess = true
	s.WriteAuthorized = nil
	s.NextToolCall = nil
}

// Marshal serializes the state for the checkpoint store.
func (s *TurnState) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn state: %w", err)
	}
	return data, nil
}

// UnmarshalTurnState decodes a checkpointed state snapshot.
func UnmarshalTurnState(data []byte) (*TurnState, error) {
	s := NewTurnState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turn state: %w", err)
	}
	return s, nil
}

// LastMessage returns the final log entry, or nil.
func (s *TurnState) LastMessage() *protocol.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}
