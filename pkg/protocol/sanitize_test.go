package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDeduplicatesByID(t *testing.T) {
	first := NewUserMessage("hello")
	log := Append(nil, []*Message{first})
	require.Len(t, log, 1)

	revised := first.Clone()
	revised.Content = "hello again"
	log = Append(log, []*Message{revised, NewAssistantMessage("hi")})

	require.Len(t, log, 2)
	assert.Equal(t, "hello again", log[0].Content)
	assert.Equal(t, RoleAssistant, log[1].Role)
}

func TestAppendAssignsMissingIDs(t *testing.T) {
	log := Append(nil, []*Message{{Role: RoleAssistant, Content: "x"}})
	require.Len(t, log, 1)
	assert.NotEmpty(t, log[0].ID)
}

func TestFilterStatusDropsOnlyStatusMessages(t *testing.T) {
	log := []*Message{
		NewUserMessage("rename this"),
		NewStatusMessage("[Done] Title updated"),
		NewAssistantMessage("Renamed."),
	}
	filtered := FilterStatus(log)
	require.Len(t, filtered, 2)
	assert.Equal(t, RoleUser, filtered[0].Role)
	assert.Equal(t, "Renamed.", filtered[1].Content)
}

func TestRepairOrphanToolCalls(t *testing.T) {
	answeredCall := &Message{
		ID: "m1", Role: RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call_ok", Name: "read_note_content", Args: map[string]any{"note_id": "1"}}},
	}
	orphanCall := &Message{
		ID: "m2", Role: RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call_lost", Name: "update_note", Args: map[string]any{}}},
	}

	log := []*Message{
		NewUserMessage("do it"),
		answeredCall,
		NewToolResult("call_ok", "Title: x"),
		orphanCall,
	}

	repaired := RepairOrphanToolCalls(log)
	require.Len(t, repaired, 4)

	assert.Len(t, repaired[1].ToolCalls, 1, "answered call untouched")
	assert.Empty(t, repaired[3].ToolCalls)
	assert.Equal(t, OrphanPlaceholder, repaired[3].Content)
	// Original log entry must not have been mutated.
	assert.Len(t, orphanCall.ToolCalls, 1)
}

func TestHasOrphanToolCalls(t *testing.T) {
	call := &Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "delete_note"}}}

	assert.True(t, HasOrphanToolCalls([]*Message{call}))
	assert.False(t, HasOrphanToolCalls([]*Message{call, NewToolResult("call_1", "done")}))
	assert.False(t, HasOrphanToolCalls(nil))
}

func TestSanitizeForProviderIsIdempotent(t *testing.T) {
	log := []*Message{
		NewUserMessage("hello"),
		NewStatusMessage("[Done] Search complete"),
		{
			ID: "m", Role: RoleAssistant, Content: "I'll do it",
			InvalidToolCalls: []InvalidToolCall{{ID: "call_bad", Name: "create_note", Args: `{"title":"x"}`}},
		},
		{
			ID: "m2", Role: RoleAssistant,
			ToolCalls: []ToolCall{{ID: "call_gone", Name: "rename_note"}},
		},
	}

	once := SanitizeForProvider(log)
	twice := SanitizeForProvider(once)
	assert.Equal(t, once, twice)

	require.Len(t, once, 3)
	assert.Empty(t, once[1].InvalidToolCalls)
	assert.Empty(t, once[2].ToolCalls)
	assert.Equal(t, OrphanPlaceholder, once[2].Content)
}

func TestLastUserText(t *testing.T) {
	log := []*Message{
		NewUserMessage("first"),
		NewAssistantMessage("hi"),
		NewUserMessage("second"),
		NewStatusMessage("[Done] Notes listed"),
	}
	assert.Equal(t, "second", LastUserText(log))
	assert.Equal(t, "", LastUserText(nil))
}

func TestNewUserMessageWithPartsJoinsText(t *testing.T) {
	msg := NewUserMessageWithParts([]ContentPart{
		{Type: "text", Text: "analyze this"},
		{Type: "image_url", ImageURL: "data:image/png;base64,abc"},
	})
	assert.Equal(t, "analyze this", msg.Content)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "image_url", msg.Parts[1].Type)
}
