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

package protocol

// OrphanPlaceholder replaces an assistant message whose tool calls were
// never answered, typically after an interrupted turn.
const OrphanPlaceholder = "[Previous action was interrupted]"

// FilterStatus drops status-kind assistant messages from the history fed
// to the LLM.
func FilterStatus(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleAssistant && m.Status {
			continue
		}
		out = append(out, m)
	}
	return out
}

// HasOrphanToolCalls reports whether any assistant message carries a
// tool call with no matching tool result later in the log.
func HasOrphanToolCalls(messages []*Message) bool {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}
	for _, m := range messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				return true
			}
		}
	}
	return false
}

// RepairOrphanToolCalls replaces each assistant whose tool calls are not
// all answered with a plain-text assistant carrying its original text or
// OrphanPlaceholder. Input messages are never mutated.
func RepairOrphanToolCalls(messages []*Message) []*Message {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleAssistant || len(m.ToolCalls) == 0 {
			out = append(out, m)
			continue
		}
		orphaned := false
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				orphaned = true
				break
			}
		}
		if !orphaned {
			out = append(out, m)
			continue
		}
		repaired := m.Clone()
		repaired.ToolCalls = nil
		repaired.InvalidToolCalls = nil
		if repaired.Content == "" {
			repaired.Content = OrphanPlaceholder
		}
		out = append(out, repaired)
	}
	return out
}

// StripInvalidToolCalls removes invalid_tool_calls entries before any
// provider invocation. Messages carrying them are cloned.
func StripInvalidToolCalls(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if len(m.InvalidToolCalls) == 0 {
			out = append(out, m)
			continue
		}
		cleaned := m.Clone()
		cleaned.InvalidToolCalls = nil
		out = append(out, cleaned)
	}
	return out
}

// SanitizeForProvider runs the full pre-invocation pass: status filter,
// orphan repair, invalid-call strip. It is idempotent.
func SanitizeForProvider(messages []*Message) []*Message {
	return StripInvalidToolCalls(RepairOrphanToolCalls(FilterStatus(messages)))
}
