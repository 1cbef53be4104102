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
	"regexp"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/config"
)

// Note ids are either timestamped store ids or UUIDs. Anything else is
// a model-invented placeholder and gets replaced with the state's
// preferred id.
var (
	timestampIDPattern = regexp.MustCompile(`^\d{13}-[0-9a-f]{9}$`)
	uuidIDPattern      = regexp.MustCompile(`^[0-9a-fA-F-]{32,36}$`)
)

const readContentTool = "read_note_content"

// Normalizer repairs note_id arguments before tool execution.
type Normalizer struct {
	heuristics config.HeuristicsConfig
	isWrite    func(name string) bool
}

func NewNormalizer(heuristics config.HeuristicsConfig, isWrite func(string) bool) *Normalizer {
	return &Normalizer{heuristics: heuristics, isWrite: isWrite}
}

// NormalizeNoteID returns args with a sane note_id. The input map is
// copied; tool-call args persisted in the log are never mutated.
func (n *Normalizer) NormalizeNoteID(args map[string]any, s *TurnState, toolName, lastUserText string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	preferred := n.preferredNoteID(s, toolName, lastUserText)

	noteID, isString := out["note_id"].(string)
	if !isString || noteID == "" {
		if preferred != "" {
			out["note_id"] = preferred
		}
		return out
	}

	if !timestampIDPattern.MatchString(noteID) && !uuidIDPattern.MatchString(noteID) {
		if preferred != "" {
			slog.Warn("Normalizing malformed note_id", "from", noteID, "to", preferred)
			out["note_id"] = preferred
		}
		return out
	}

	// A well-formed id can still point at the wrong note: the model
	// tends to reuse the active note even when the user is asking about
	// the @-referenced one.
	if toolName == readContentTool && noteID == s.ActiveNoteID && s.ContextNoteID != "" &&
		n.RefersToReferencedNote(lastUserText) {
		out["note_id"] = s.ContextNoteID
	}
	return out
}

// preferredNoteID picks the fallback id: write tools target the note
// open in the editor; content reads prefer the referenced note when one
// is attached.
func (n *Normalizer) preferredNoteID(s *TurnState, toolName, lastUserText string) string {
	if toolName == readContentTool && s.ContextNoteID != "" {
		if lastUserText == "" || !n.refersToCurrentNote(lastUserText) {
			return s.ContextNoteID
		}
	}
	if n.isWrite(toolName) || s.ContextNoteID == "" {
		return s.ActiveNoteID
	}
	if s.ActiveNoteID != "" {
		return s.ActiveNoteID
	}
	return s.ContextNoteID
}

// RefersToReferencedNote reports whether the user text talks about the
// attached/referenced note rather than the one open in the editor.
func (n *Normalizer) RefersToReferencedNote(userText string) bool {
	lowered := strings.ToLower(userText)
	if !containsAny(lowered, n.heuristics.ReferencedNoteCues) {
		return false
	}
	return !n.refersToCurrentNote(lowered)
}

// refersToCurrentNote is true for explicit "current note" phrasing that
// is not negated ("不是当前笔记" still means the referenced one).
func (n *Normalizer) refersToCurrentNote(userText string) bool {
	lowered := strings.ToLower(userText)
	for _, cue := range n.heuristics.CurrentNoteCues {
		cue = strings.ToLower(cue)
		if cue == "" || !strings.Contains(lowered, cue) {
			continue
		}
		if strings.Contains(lowered, "不是"+cue) || strings.Contains(lowered, "not the "+strings.TrimPrefix(cue, "the ")) {
			continue
		}
		return true
	}
	return false
}
