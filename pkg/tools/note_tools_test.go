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

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/notes"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

type fakeStore struct {
	notes      map[string]*notes.Note
	categories []notes.Category

	updated   map[string]string
	renamed   map[string]string
	deleted   map[string]bool
	assigned  map[string]string
	createSeq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notes:    map[string]*notes.Note{},
		updated:  map[string]string{},
		renamed:  map[string]string{},
		deleted:  map[string]bool{},
		assigned: map[string]string{},
	}
}

func (f *fakeStore) GetNote(_ context.Context, id string) (*notes.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return n, nil
}

func (f *fakeStore) CreateNote(_ context.Context, title, markdown string) (*notes.Note, error) {
	f.createSeq++
	n := &notes.Note{ID: fmt.Sprintf("note_%d", f.createSeq), Title: title, MarkdownSource: markdown}
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeStore) UpdateNoteContent(_ context.Context, id, markdown string) error {
	f.updated[id] = markdown
	return nil
}

func (f *fakeStore) RenameNote(_ context.Context, id, title string) error {
	f.renamed[id] = title
	return nil
}

func (f *fakeStore) DeleteNote(_ context.Context, id string) error {
	if _, ok := f.notes[id]; !ok {
		return errors.New("not found")
	}
	f.deleted[id] = true
	return nil
}

func (f *fakeStore) SetNoteCategory(_ context.Context, id, categoryID string) error {
	f.assigned[id] = categoryID
	return nil
}

func (f *fakeStore) ListCategories(context.Context) ([]notes.Category, error) {
	return f.categories, nil
}

type fakeSearch struct {
	results []notes.SearchResult
	recent  []notes.NoteSummary
}

func (f *fakeSearch) Search(context.Context, string, int) ([]notes.SearchResult, error) {
	return f.results, nil
}

func (f *fakeSearch) ListRecent(context.Context, int) ([]notes.NoteSummary, error) {
	return f.recent, nil
}

type scriptedModel struct {
	reply string
}

func (m *scriptedModel) Invoke(context.Context, []*protocol.Message) (*protocol.Message, error) {
	return protocol.NewAssistantMessage(m.reply), nil
}

func (m *scriptedModel) Stream(ctx context.Context, msgs []*protocol.Message, onToken func(string)) (*protocol.Message, error) {
	resp, err := m.Invoke(ctx, msgs)
	if err == nil && onToken != nil {
		onToken(resp.Content)
	}
	return resp, err
}

func buildTools(t *testing.T, store *fakeStore, search *fakeSearch, model llms.Model) map[string]Tool {
	t.Helper()
	chat := func() (llms.Model, error) { return model, nil }
	out := map[string]Tool{}
	for _, tool := range NewNoteTools(store, search, chat) {
		out[tool.Name()] = tool
	}
	require.Len(t, out, 9)
	return out
}

func TestSearchKnowledgeFormatsResults(t *testing.T) {
	search := &fakeSearch{results: []notes.SearchResult{
		{ID: "n1", Title: "Go notes", Content: "goroutines and channels"},
	}}
	tools := buildTools(t, newFakeStore(), search, &scriptedModel{})

	result, err := tools["search_knowledge"].Call(context.Background(), map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Contains(t, result, "Title: Go notes")
	assert.Contains(t, result, "ID: n1")
	assert.Contains(t, result, "Snippet: goroutines and channels...")
}

func TestSearchKnowledgeTruncatesSnippetByRunes(t *testing.T) {
	search := &fakeSearch{results: []notes.SearchResult{
		{ID: "n1", Title: "长文", Content: strings.Repeat("长", 400)},
	}}
	tools := buildTools(t, newFakeStore(), search, &scriptedModel{})

	result, err := tools["search_knowledge"].Call(context.Background(), map[string]any{"query": "长"})
	require.NoError(t, err)
	assert.Contains(t, result, strings.Repeat("长", 300)+"...")
	assert.NotContains(t, result, strings.Repeat("长", 301))
}

func TestSearchKnowledgeEmpty(t *testing.T) {
	tools := buildTools(t, newFakeStore(), &fakeSearch{}, &scriptedModel{})
	result, err := tools["search_knowledge"].Call(context.Background(), map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "No relevant notes found for this query.", result)
}

func TestReadNoteContentPrefersMarkdownSource(t *testing.T) {
	store := newFakeStore()
	store.notes["n1"] = &notes.Note{ID: "n1", Title: "T", Content: "<p>html</p>", MarkdownSource: "# md body"}
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})

	result, err := tools["read_note_content"].Call(context.Background(), map[string]any{"note_id": "n1"})
	require.NoError(t, err)
	assert.Contains(t, result, "Title: T")
	assert.Contains(t, result, "# md body")
	assert.Contains(t, result, "DO NOT repeat this content")
}

func TestReadNoteContentMissingNote(t *testing.T) {
	tools := buildTools(t, newFakeStore(), &fakeSearch{}, &scriptedModel{})
	result, err := tools["read_note_content"].Call(context.Background(), map[string]any{"note_id": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "Error: Note with ID ghost not found.", result)
}

func TestRenameNoteReportsOldAndNewTitle(t *testing.T) {
	store := newFakeStore()
	store.notes["n1"] = &notes.Note{ID: "n1", Title: "Old"}
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})

	result, err := tools["rename_note"].Call(context.Background(), map[string]any{"note_id": "n1", "new_title": "New"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully renamed note from 'Old' to 'New'", result)
	assert.Equal(t, "New", store.renamed["n1"])
}

func TestListRecentNotesEmptyDatabase(t *testing.T) {
	tools := buildTools(t, newFakeStore(), &fakeSearch{}, &scriptedModel{})
	result, err := tools["list_recent_notes"].Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "There are no notes in the database yet.", result)
}

func TestUpdateNoteAppliesModelEdit(t *testing.T) {
	store := newFakeStore()
	store.notes["n1"] = &notes.Note{ID: "n1", Title: "T", MarkdownSource: "old body"}
	model := &scriptedModel{reply: "```markdown\nnew body\n```"}
	tools := buildTools(t, store, &fakeSearch{}, model)

	result, err := tools["update_note"].Call(context.Background(), map[string]any{
		"note_id":     "n1",
		"instruction": "polish it",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "Successfully updated note (ID: n1)")
	assert.Equal(t, "new body", store.updated["n1"])
}

func TestUpdateNoteDestructiveInstructionSkipsModel(t *testing.T) {
	store := newFakeStore()
	store.notes["n1"] = &notes.Note{ID: "n1", Title: "T", MarkdownSource: "body"}
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{reply: "should not be used"})

	result, err := tools["update_note"].Call(context.Background(), map[string]any{
		"note_id":     "n1",
		"instruction": "清空这篇笔记",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "content cleared as requested")
	require.Contains(t, store.updated, "n1")
	assert.Equal(t, "", store.updated["n1"])
}

func TestCreateNoteAllowsMissingContent(t *testing.T) {
	store := newFakeStore()
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})

	result, err := tools["create_note"].Call(context.Background(), map[string]any{"title": "测试空内容创建"})
	require.NoError(t, err)
	assert.Contains(t, result, "Successfully created note 「测试空内容创建」 with ID: note_1")
}

func TestDeleteNoteResults(t *testing.T) {
	store := newFakeStore()
	store.notes["n1"] = &notes.Note{ID: "n1"}
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})

	ok, err := tools["delete_note"].Call(context.Background(), map[string]any{"note_id": "n1"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted note n1.", ok)

	missing, err := tools["delete_note"].Call(context.Background(), map[string]any{"note_id": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "Error: Failed to delete note ghost. It might not exist.", missing)
}

func TestSetNoteCategoryResolvesNameAndRejectsUnknown(t *testing.T) {
	store := newFakeStore()
	store.categories = []notes.Category{{ID: "cat_1", Name: "工作"}}
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})
	ctx := context.Background()

	// Name instead of id resolves.
	result, err := tools["set_note_category"].Call(ctx, map[string]any{"note_id": "n1", "category_id": "工作"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully assigned note to category 「工作」", result)
	assert.Equal(t, "cat_1", store.assigned["n1"])

	// Unknown category lists valid ids.
	result, err = tools["set_note_category"].Call(ctx, map[string]any{"note_id": "n1", "category_id": "nope"})
	require.NoError(t, err)
	assert.Contains(t, result, "Error: Category 'nope' does not exist")
	assert.Contains(t, result, `"cat_1" (工作)`)
}

func TestSetNoteCategoryClearTokens(t *testing.T) {
	store := newFakeStore()
	tools := buildTools(t, store, &fakeSearch{}, &scriptedModel{})

	for _, token := range []string{"", "none", "null", "undefined"} {
		result, err := tools["set_note_category"].Call(context.Background(), map[string]any{
			"note_id": "n1", "category_id": token,
		})
		require.NoError(t, err)
		assert.Equal(t, "Successfully removed category from note (it is now Uncategorized).", result)
		assert.Equal(t, "", store.assigned["n1"])
	}
}

func TestRegistryReadOnlySubset(t *testing.T) {
	reg := NewRegistry([]string{"delete_note", "create_note", "rename_note", "update_note", "set_note_category"})
	for _, tool := range NewNoteTools(newFakeStore(), &fakeSearch{}, func() (llms.Model, error) { return &scriptedModel{}, nil }) {
		reg.Register(tool)
	}

	assert.Len(t, reg.All(), 9)
	readOnly := reg.ReadOnly()
	assert.Len(t, readOnly, 4)
	for _, tool := range readOnly {
		assert.False(t, reg.IsWrite(tool.Name()), tool.Name())
	}
	assert.True(t, reg.IsWrite("delete_note"))
}
