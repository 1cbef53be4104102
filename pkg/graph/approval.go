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

package graph

import (
	"log/slog"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// ApprovalPayload is the interrupt record presented to the human when a
// write tool awaits confirmation. Its JSON shape is part of the client
// contract.
type ApprovalPayload struct {
	Kind       string         `json:"kind"`
	ApprovalID string         `json:"approval_id"`
	Tool       string         `json:"tool"`
	NoteID     string         `json:"note_id,omitempty"`
	NoteTitle  string         `json:"note_title,omitempty"`
	Operation  string         `json:"operation"`
	Scope      string         `json:"scope"`
	Args       map[string]any `json:"args"`
	Message    string         `json:"message"`
}

func buildApprovalPayload(toolName string, call *protocol.ToolCall, args map[string]any, s *TurnState) *ApprovalPayload {
	noteID, _ := args["note_id"].(string)
	if noteID == "" {
		noteID = s.ActiveNoteID
	}
	if noteID == "" {
		noteID = s.ContextNoteID
	}
	noteTitle := s.ActiveNoteTitle
	if noteTitle == "" {
		noteTitle = s.ContextNoteTitle
	}
	scope := "note_metadata_or_content"
	if toolName == "update_note" {
		scope = "current_note_full_content"
	}
	return &ApprovalPayload{
		Kind:       "write_tool_approval",
		ApprovalID: call.ID,
		Tool:       toolName,
		NoteID:     noteID,
		NoteTitle:  noteTitle,
		Operation:  toolName,
		Scope:      scope,
		Args:       args,
		Message:    "Approve this write action before execution.",
	}
}

// ParseApprovalDecision interprets a resume payload. Accepted forms:
// bool, string (approve/accept/yes/true vs. anything else), or an
// object {action, approval_id, args}.
//
// When expectedApprovalID is set, object payloads must carry a matching
// approval_id; a missing or mismatched id is treated as a rejection so
// stale or cross-session approvals never reach the wrong tool call.
// Approved object payloads may override individual args.
func ParseApprovalDecision(decision any, originalArgs map[string]any, expectedApprovalID string) (bool, map[string]any) {
	switch d := decision.(type) {
	case bool:
		return d, originalArgs
	case string:
		return isApproveWord(d), originalArgs
	case map[string]any:
		if expectedApprovalID != "" {
			received, _ := d["approval_id"].(string)
			received = strings.TrimSpace(received)
			if received == "" {
				slog.Warn("Approval id missing in resume payload", "expected", expectedApprovalID)
				return false, originalArgs
			}
			if received != expectedApprovalID {
				slog.Warn("Approval id mismatch", "expected", expectedApprovalID, "got", received)
				return false, originalArgs
			}
		}
		action, _ := d["action"].(string)
		approved := isApproveWord(action)
		if override, ok := d["args"].(map[string]any); ok {
			merged := make(map[string]any, len(originalArgs)+len(override))
			for k, v := range originalArgs {
				merged[k] = v
			}
			for k, v := range override {
				merged[k] = v
			}
			return approved, merged
		}
		return approved, originalArgs
	}
	return false, originalArgs
}

func isApproveWord(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "approve", "accept", "yes", "true":
		return true
	}
	return false
}

// InterpretInlineApproval maps a free-text user message onto an
// approve/reject decision using the configured lexicons. The returned
// pointer is nil when the text is neither.
func InterpretInlineApproval(text string, h config.HeuristicsConfig) *bool {
	normalized := strings.TrimSpace(strings.ToLower(text))
	normalized = strings.Trim(normalized, "!！。.~")
	if normalized == "" {
		return nil
	}
	for _, token := range h.RejectTokens {
		if normalized == strings.ToLower(token) {
			v := false
			return &v
		}
	}
	for _, token := range h.ApproveTokens {
		if normalized == strings.ToLower(token) {
			v := true
			return &v
		}
	}
	return nil
}
