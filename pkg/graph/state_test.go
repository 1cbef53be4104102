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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origin-notes/origin-agent/pkg/protocol"
)

func TestApplyAppendsMessagesAndReplacesScalars(t *testing.T) {
	s := NewTurnState()
	s.Messages = []*protocol.Message{protocol.NewUserMessage("hi")}

	intent := IntentTask
	count := 3
	s.Apply(&Update{
		Messages:      []*protocol.Message{protocol.NewAssistantMessage("ok")},
		Intent:        &intent,
		ToolCallCount: &count,
	})

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, IntentTask, s.Intent)
	assert.Equal(t, 3, s.ToolCallCount)
}

func TestApplyClearNextToolCall(t *testing.T) {
	s := NewTurnState()
	call := &protocol.ToolCall{ID: "call_1", Name: "delete_note"}

	s.Apply(&Update{NextToolCall: call})
	require.NotNil(t, s.NextToolCall)

	s.Apply(&Update{})
	require.NotNil(t, s.NextToolCall, "no-op update must not clear the pending call")

	s.Apply(&Update{ClearNextToolCall: true})
	assert.Nil(t, s.NextToolCall)
}

func TestResetTurnKeepsLogAndContext(t *testing.T) {
	s := NewTurnState()
	s.Messages = []*protocol.Message{protocol.NewUserMessage("hi")}
	s.ActiveNoteID = "n1"
	s.Intent = IntentTask
	s.ToolCallCount = 7
	s.LastToolName = "update_note"
	s.LastToolSuccess = false
	s.WriteAuthorized = boolPtr(true)
	s.NextToolCall = &protocol.ToolCall{ID: "call_1"}

	s.ResetTurn()

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, "n1", s.ActiveNoteID)
	assert.Empty(t, s.Intent)
	assert.Zero(t, s.ToolCallCount)
	assert.Empty(t, s.LastToolName)
	assert.True(t, s.LastToolSuccess)
	assert.Nil(t, s.WriteAuthorized)
	assert.Nil(t, s.NextToolCall)
}

func TestMarshalRoundTrip(t *testing.T) {
	s := NewTurnState()
	s.Messages = []*protocol.Message{
		protocol.NewUserMessage("写一篇笔记"),
		{Role: protocol.RoleAssistant, ID: "a1", ToolCalls: []protocol.ToolCall{
			{ID: "call_1", Name: "create_note", Args: map[string]any{"title": "t"}},
		}},
	}
	s.Intent = IntentTask
	s.NextToolCall = &protocol.ToolCall{ID: "call_1", Name: "create_note", Args: map[string]any{"title": "t"}}
	s.AutoAcceptWrites = false

	raw, err := s.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalTurnState(raw)
	require.NoError(t, err)
	assert.Equal(t, IntentTask, decoded.Intent)
	assert.False(t, decoded.AutoAcceptWrites)
	require.NotNil(t, decoded.NextToolCall)
	assert.Equal(t, "create_note", decoded.NextToolCall.Name)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "call_1", decoded.Messages[1].ToolCalls[0].ID)
}

func TestApplyLiveReplacesUIFields(t *testing.T) {
	s := NewTurnState()
	s.ActiveNoteID = "old"
	s.AgentMode = ModeAgent

	s.ApplyLive(&LiveState{
		ActiveNoteID:     "new",
		AutoAcceptWrites: false,
		AgentMode:        ModeAsk,
		UseKnowledge:     true,
	})

	assert.Equal(t, "new", s.ActiveNoteID)
	assert.False(t, s.AutoAcceptWrites)
	assert.Equal(t, ModeAsk, s.AgentMode)
	assert.True(t, s.UseKnowledge)
}
