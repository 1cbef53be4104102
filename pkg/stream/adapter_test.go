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

package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/graph"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

type lineRecorder struct {
	lines []map[string]any
}

func (r *lineRecorder) sink(line []byte) {
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		panic(err)
	}
	r.lines = append(r.lines, decoded)
}

func (r *lineRecorder) ofType(key, value string) []map[string]any {
	var out []map[string]any
	for _, l := range r.lines {
		if l[key] == value {
			out = append(out, l)
		}
	}
	return out
}

func newTestAdapter(t *testing.T) (*Adapter, *lineRecorder) {
	t.Helper()
	cfg := config.Default().Agent
	rec := &lineRecorder{}
	isWrite := func(name string) bool {
		for _, w := range cfg.WriteTools {
			if w == name {
				return true
			}
		}
		return false
	}
	return NewAdapter(cfg, isWrite, nil, rec.sink), rec
}

func routerUpdate() graph.Event {
	intent := graph.IntentTask
	return graph.Event{Kind: graph.EventUpdate, Node: graph.NodeRouter, Update: &graph.Update{Intent: &intent}}
}

func agentToken(token string) graph.Event {
	return graph.Event{Kind: graph.EventToken, Node: graph.NodeAgent, Token: token}
}

func TestThinkingStatusEmittedOncePerTurn(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(routerUpdate())
	a.OnEvent(routerUpdate())

	statuses := rec.ofType("type", "status")
	require.Len(t, statuses, 1)
	assert.Equal(t, "Thinking...", statuses[0]["text"])
}

func TestTokensBufferUntilSentenceBoundary(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(agentToken("我找到了"))
	assert.Empty(t, rec.ofType("part_type", "text"), "no boundary yet")

	a.OnEvent(agentToken("三篇笔记。"))
	texts := rec.ofType("part_type", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, "我找到了三篇笔记。", texts[0]["delta"])
}

func TestOversizedBufferFlushesWithoutBoundary(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(agentToken(strings.Repeat("很", 51)))
	texts := rec.ofType("part_type", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, strings.Repeat("很", 51), texts[0]["delta"])
}

func TestIntentTokensAndForeignNodesAreSkipped(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(agentToken("TASK"))
	a.OnEvent(agentToken(" CHAT "))
	a.OnEvent(graph.Event{Kind: graph.EventToken, Node: graph.NodeFastChat, Token: "直达文本。"})
	a.Finish()

	assert.Empty(t, rec.ofType("part_type", "text"))
}

func TestLeakedControlLabelIsStrippedFromStream(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(agentToken("DENY_WRITE该笔记保持原文。"))
	texts := rec.ofType("part_type", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, "该笔记保持原文。", texts[0]["delta"])
}

func TestToolPartRunningVersusPendingApproval(t *testing.T) {
	a, rec := newTestAdapter(t)

	running := &graph.TurnState{AutoAcceptWrites: true}
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent, State: running,
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "list_recent_notes", Args: map[string]any{}},
			},
		}}},
	})

	manual := &graph.TurnState{AutoAcceptWrites: false}
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent, State: manual,
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_2", Name: "update_note", Args: map[string]any{"note_id": "n1", "title": "周计划"}},
			},
		}}},
	})

	parts := rec.ofType("part_type", "tool")
	require.Len(t, parts, 2)

	assert.Equal(t, "running", parts[0]["status"])
	assert.Equal(t, "Listing notes", parts[0]["title"])
	assert.Equal(t, "", parts[0]["input_preview"])

	assert.Equal(t, "pending", parts[1]["status"])
	assert.Equal(t, "Updating note: 周计划", parts[1]["title"])
	assert.Contains(t, parts[1]["input_preview"], "note_id")
}

func TestToolCompletionEmitsLegacyCreateEvent(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent,
		State: &graph.TurnState{AutoAcceptWrites: true},
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "create_note", Args: map[string]any{"title": "新想法"}},
			},
		}}},
	})
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeRunOneTool,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewToolResult("call_1", "Successfully created note 「新想法」 with ID: note_42"),
		}},
	})

	parts := rec.ofType("part_type", "tool")
	require.Len(t, parts, 2)
	assert.Equal(t, "completed", parts[1]["status"])
	assert.Contains(t, parts[1]["output"], "Successfully created")

	legacy := rec.ofType("tool_call", "note_created")
	require.Len(t, legacy, 1)
	assert.Equal(t, "note_42", legacy[0]["note_id"])
}

func TestToolCompletionEmitsLegacyUpdateEvent(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent,
		State: &graph.TurnState{AutoAcceptWrites: true},
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "update_note", Args: map[string]any{"note_id": "n42"}},
			},
		}}},
	})
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeRunOneTool,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewToolResult("call_1", "Successfully updated note '周计划' (ID: n42)."),
		}},
	})

	legacy := rec.ofType("tool_call", "note_updated")
	require.Len(t, legacy, 1)
	assert.Equal(t, "n42", legacy[0]["note_id"])
}

func TestFailedUpdateEmitsNoLegacyEvent(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent,
		State: &graph.TurnState{AutoAcceptWrites: true},
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "update_note", Args: map[string]any{"note_id": "ghost"}},
			},
		}}},
	})
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeRunOneTool,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewToolResult("call_1", "Error: Note with ID ghost not found."),
		}},
	})

	assert.Empty(t, rec.ofType("tool_call", "note_updated"))
}

func TestLongToolOutputIsTruncated(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeRunOneTool,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewToolResult("call_1", strings.Repeat("x", 150)),
		}},
	})

	parts := rec.ofType("part_type", "tool")
	require.Len(t, parts, 1)
	out := parts[0]["output"].(string)
	assert.Equal(t, strings.Repeat("x", 100)+"...", out)
	assert.Equal(t, "unknown", parts[0]["tool"])
}

func TestFastChatReplyDeduplicatedAgainstStreamedText(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(agentToken("你好！有什么可以帮你的？"))
	require.Len(t, rec.ofType("part_type", "text"), 1)

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeFastChat,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewAssistantMessage("你好！有什么可以帮你的？"),
		}},
	})
	assert.Len(t, rec.ofType("part_type", "text"), 1, "duplicate reply must not re-emit")

	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeFastChat,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewAssistantMessage("换个话题聊聊？"),
		}},
	})
	assert.Len(t, rec.ofType("part_type", "text"), 2)
}

func TestInterruptEmitsApprovalRequired(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(graph.Event{
		Kind: graph.EventInterrupt, Node: graph.NodeRunOneTool,
		Interrupt: &graph.ApprovalPayload{
			Kind:       "write_tool_approval",
			ApprovalID: "call_9",
			Tool:       "delete_note",
		},
	})

	approvals := rec.ofType("type", "approval_required")
	require.Len(t, approvals, 1)
	payload := approvals[0]["approval"].(map[string]any)
	assert.Equal(t, "call_9", payload["approval_id"])
	assert.Equal(t, "delete_note", payload["tool"])
}

func TestFinishFlushesResidualBuffer(t *testing.T) {
	a, rec := newTestAdapter(t)
	a.OnEvent(agentToken("已经处理完毕"))
	a.Finish()

	texts := rec.ofType("part_type", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, "已经处理完毕", texts[0]["delta"])
}

func TestFinishDropsTinyResidue(t *testing.T) {
	a, rec := newTestAdapter(t)
	a.OnEvent(agentToken("好的"))
	a.Finish()

	assert.Empty(t, rec.ofType("part_type", "text"))
}

func TestFinishEmitsClearStatusAsFinalEvent(t *testing.T) {
	a, rec := newTestAdapter(t)
	a.OnEvent(routerUpdate())
	a.OnEvent(agentToken("完成了。"))
	a.Finish()

	require.NotEmpty(t, rec.lines)
	last := rec.lines[len(rec.lines)-1]
	assert.Equal(t, "status", last["type"])
	assert.Equal(t, "", last["text"])
}

func TestClearStatusFollowsErrorEnding(t *testing.T) {
	a, rec := newTestAdapter(t)
	a.OnEvent(routerUpdate())
	a.Error("AI service error: upstream timeout")
	a.Finish()

	last := rec.lines[len(rec.lines)-1]
	assert.Equal(t, "status", last["type"])
	assert.Equal(t, "", last["text"])
}

func TestTurnEventOrdering(t *testing.T) {
	a, rec := newTestAdapter(t)

	a.OnEvent(routerUpdate())
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeAgent,
		State: &graph.TurnState{AutoAcceptWrites: true},
		Update: &graph.Update{Messages: []*protocol.Message{{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "create_note", Args: map[string]any{"title": "新想法"}},
			},
		}}},
	})
	a.OnEvent(graph.Event{
		Kind: graph.EventUpdate, Node: graph.NodeRunOneTool,
		Update: &graph.Update{Messages: []*protocol.Message{
			protocol.NewToolResult("call_1", "Successfully created note 「新想法」 with ID: note_7"),
		}},
	})
	a.Finish()

	var order []string
	for _, l := range rec.lines {
		switch {
		case l["type"] == "status" && l["text"] == "Thinking...":
			order = append(order, "thinking")
		case l["part_type"] == "tool" && l["status"] == "running":
			order = append(order, "tool_running")
		case l["part_type"] == "tool" && l["status"] == "completed":
			order = append(order, "tool_completed")
		case l["tool_call"] == "note_created":
			order = append(order, "legacy_event")
		case l["type"] == "status" && l["text"] == "":
			order = append(order, "clear_status")
		}
	}
	assert.Equal(t,
		[]string{"thinking", "tool_running", "tool_completed", "legacy_event", "clear_status"},
		order)
}

func TestErrorEventShape(t *testing.T) {
	a, rec := newTestAdapter(t)
	a.Error("AI service error: upstream timeout")

	require.Len(t, rec.lines, 1)
	assert.Equal(t, "AI service error: upstream timeout", rec.lines[0]["error"])
}
