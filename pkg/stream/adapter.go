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

// Package stream converts executor events into the line-delimited JSON
// objects the note client consumes over SSE. The JSON shapes are a
// frozen client contract; changing a field name here breaks deployed
// frontends.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/graph"
	"github.com/origin-notes/origin-agent/pkg/notes"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// Sink receives one encoded JSON object per call, in emission order.
type Sink func(line []byte)

// sentence boundary or oversized buffer triggers a text flush
var flushBoundary = regexp.MustCompile(`[。！？.!?\n]`)

// Adapter translates one turn's executor events. It is single-use and
// not safe for concurrent calls; the executor emits synchronously.
type Adapter struct {
	cfg     config.AgentConfig
	isWrite func(name string) bool
	svc     notes.Service // optional, resolves note titles for labels
	sink    Sink

	started      bool
	textBuffer   strings.Builder
	seenContent  map[string]struct{}
	pendingTools map[string]string
	titleLookup  map[string]string
}

func NewAdapter(cfg config.AgentConfig, isWrite func(string) bool, svc notes.Service, sink Sink) *Adapter {
	return &Adapter{
		cfg:          cfg,
		isWrite:      isWrite,
		svc:          svc,
		sink:         sink,
		seenContent:  map[string]struct{}{},
		pendingTools: map[string]string{},
		titleLookup:  map[string]string{},
	}
}

func (a *Adapter) emit(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode stream event", "error", err)
		return
	}
	a.sink(line)
}

// OnEvent is wired as the executor's Emit callback.
func (a *Adapter) OnEvent(ev graph.Event) {
	if ev.State != nil {
		a.recordTitles(ev.State)
	}
	switch ev.Kind {
	case graph.EventToken:
		a.onToken(ev)
	case graph.EventUpdate:
		a.onUpdate(ev)
	case graph.EventInterrupt:
		a.emit(map[string]any{"type": "approval_required", "approval": ev.Interrupt})
	}
}

// Error emits a terminal error object.
func (a *Adapter) Error(message string) {
	a.emit(map[string]any{"error": message})
}

// Finish flushes any residual text buffer and clears the client's
// status line. Call once at turn end; the empty status object must be
// the turn's final event regardless of how the turn ended.
func (a *Adapter) Finish() {
	remaining := strings.TrimSpace(a.textBuffer.String())
	a.textBuffer.Reset()
	if len([]rune(remaining)) > 2 {
		a.emitText(remaining)
	}
	a.emit(map[string]any{"type": "status", "text": ""})
}

func (a *Adapter) recordTitles(s *graph.TurnState) {
	if s.ActiveNoteID != "" && strings.TrimSpace(s.ActiveNoteTitle) != "" {
		a.titleLookup[s.ActiveNoteID] = strings.TrimSpace(s.ActiveNoteTitle)
	}
	if s.ContextNoteID != "" && strings.TrimSpace(s.ContextNoteTitle) != "" {
		a.titleLookup[s.ContextNoteID] = strings.TrimSpace(s.ContextNoteTitle)
	}
}

// onToken buffers agent deltas and flushes on sentence boundaries so
// the client renders readable chunks instead of single characters.
// Only the agent node produces user-facing token text.
func (a *Adapter) onToken(ev graph.Event) {
	if ev.Node != graph.NodeAgent || ev.Token == "" {
		return
	}
	if upper := strings.ToUpper(strings.TrimSpace(ev.Token)); upper == graph.IntentChat || upper == graph.IntentTask {
		return
	}
	a.textBuffer.WriteString(ev.Token)
	buffered := a.textBuffer.String()
	if !flushBoundary.MatchString(buffered) && len([]rune(buffered)) <= 50 {
		return
	}
	a.textBuffer.Reset()
	if strings.TrimSpace(buffered) == "" {
		return
	}
	a.emitText(buffered)
}

func (a *Adapter) emitText(text string) {
	if isInternalControlText(text) {
		return
	}
	clean := sanitizeUserVisibleText(text)
	if strings.TrimSpace(clean) == "" {
		return
	}
	a.seenContent[strings.TrimSpace(clean)] = struct{}{}
	a.emit(map[string]any{"part_type": "text", "delta": clean})
}

func (a *Adapter) onUpdate(ev graph.Event) {
	switch ev.Node {
	case graph.NodeRouter:
		if !a.started {
			a.emit(map[string]any{"type": "status", "text": "Thinking..."})
			a.started = true
		}
	case graph.NodeAgent:
		a.onAgentUpdate(ev)
	case graph.NodeRunOneTool:
		a.onToolResult(ev)
	case graph.NodeFastChat:
		a.onFastChat(ev)
	}
}

func (a *Adapter) onAgentUpdate(ev graph.Event) {
	autoAccept := ev.State == nil || ev.State.AutoAcceptWrites
	for _, msg := range updateMessages(ev) {
		for _, tc := range msg.ToolCalls {
			a.pendingTools[tc.ID] = tc.Name

			title := a.cfg.ToolRunningLabels[tc.Name]
			if title == "" {
				title = tc.Name
			}
			if noteTitle := a.resolveNoteTitle(tc.Args); noteTitle != "" {
				title = title + ": " + noteTitle
			}

			status := "running"
			if !autoAccept && a.isWrite(tc.Name) {
				status = "pending"
			}

			a.emit(map[string]any{
				"part_type":     "tool",
				"tool":          tc.Name,
				"tool_id":       tc.ID,
				"status":        status,
				"title":         title,
				"input_preview": argsPreview(tc.Args, 80),
			})
		}
	}
}

func (a *Adapter) onToolResult(ev graph.Event) {
	for _, msg := range updateMessages(ev) {
		if msg.Role != protocol.RoleTool {
			continue
		}
		toolName := a.pendingTools[msg.ToolCallID]
		delete(a.pendingTools, msg.ToolCallID)
		if toolName == "" && ev.Update != nil && ev.Update.LastToolName != nil {
			// Resume turns run the tool without re-streaming its call part.
			toolName = *ev.Update.LastToolName
		}
		if toolName == "" {
			toolName = "unknown"
		}

		a.emit(map[string]any{
			"part_type": "tool",
			"tool":      toolName,
			"tool_id":   msg.ToolCallID,
			"status":    "completed",
			"output":    truncateRunes(msg.Content, 100),
		})

		for _, legacy := range legacyToolEvents(toolName, msg.Content) {
			a.emit(legacy)
		}
	}
}

// onFastChat emits the complete fast-path reply, deduplicated against
// content already pushed via token flushes.
func (a *Adapter) onFastChat(ev graph.Event) {
	for _, msg := range updateMessages(ev) {
		if msg.Role != protocol.RoleAssistant || msg.Content == "" || msg.Status {
			continue
		}
		clean := strings.TrimSpace(msg.Content)
		if a.isDuplicate(clean) {
			continue
		}
		a.emitText(msg.Content)
	}
}

func (a *Adapter) isDuplicate(clean string) bool {
	for seen := range a.seenContent {
		if strings.Contains(seen, clean) || strings.Contains(clean, seen) {
			return true
		}
	}
	return false
}

// resolveNoteTitle picks a display title for a tool part: explicit
// title args first, then the request's context lookup, finally the
// note store.
func (a *Adapter) resolveNoteTitle(args map[string]any) string {
	for _, key := range []string{"note_title", "title", "new_title"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	noteID, _ := args["note_id"].(string)
	if noteID == "" {
		return ""
	}
	if title, ok := a.titleLookup[noteID]; ok {
		return title
	}
	if a.svc != nil {
		if note, err := a.svc.GetNote(context.Background(), noteID); err == nil && note != nil {
			return strings.TrimSpace(note.Title)
		}
	}
	return ""
}

func updateMessages(ev graph.Event) []*protocol.Message {
	if ev.Update == nil {
		return nil
	}
	return ev.Update.Messages
}

func argsPreview(args map[string]any, limit int) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return truncateExact(string(raw), limit)
}

// truncateExact cuts at the rune limit without a marker.
func truncateExact(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// truncateRunes cuts at the rune limit and appends "...".
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// ----------------------------------------------------------------------------
// Legacy tool events
// ----------------------------------------------------------------------------

var (
	createdIDPattern = regexp.MustCompile(`ID:\s*([\w-]+)`)
	updatedIDPattern = regexp.MustCompile(`\(ID:\s*([\w-]+)\)`)
	deletedIDPattern = regexp.MustCompile(`(?i)note[:\s]*([\w-]+)`)
)

// legacyToolEvents derives the frontend refresh triggers from tool
// result text. These predate the part-based protocol but deployed
// clients still act on them.
func legacyToolEvents(toolName, content string) []map[string]any {
	var events []map[string]any
	switch toolName {
	case "create_note":
		if m := createdIDPattern.FindStringSubmatch(content); m != nil {
			events = append(events, map[string]any{"tool_call": "note_created", "note_id": m[1]})
		}
	case "update_note":
		if strings.Contains(content, "Successfully updated") {
			noteID := "unknown"
			if m := updatedIDPattern.FindStringSubmatch(content); m != nil {
				noteID = m[1]
			}
			events = append(events, map[string]any{"tool_call": "note_updated", "note_id": noteID})
		}
	case "rename_note":
		if strings.Contains(content, "Successfully renamed") {
			events = append(events, map[string]any{"tool_call": "note_renamed", "refresh": true})
		}
	case "delete_note":
		if strings.Contains(content, "Successfully deleted") {
			noteID := "unknown"
			if m := deletedIDPattern.FindStringSubmatch(content); m != nil {
				noteID = m[1]
			}
			events = append(events, map[string]any{"tool_call": "note_deleted", "note_id": noteID})
		}
	case "set_note_category":
		if strings.Contains(content, "Successfully assigned") {
			events = append(events, map[string]any{"tool_call": "note_categorized"})
		}
	}
	return events
}
