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
	"fmt"
	"regexp"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/notes"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// The result strings below are part of the client contract: the stream
// adapter extracts note ids from them by regex and the frontend keys
// refresh actions on the "Successfully ..." markers. Do not reword.

// ChatFunc supplies a chat model for tools that reason over content.
type ChatFunc func() (llms.Model, error)

// NewNoteTools builds the fixed nine-tool set over the note store and
// knowledge index collaborators.
func NewNoteTools(store notes.Service, search notes.SearchService, chat ChatFunc) []Tool {
	return []Tool{
		newSearchKnowledge(search),
		newReadNoteContent(store),
		newRenameNote(store),
		newListRecentNotes(search),
		newUpdateNote(store, chat),
		newCreateNote(store),
		newDeleteNote(store),
		newListCategories(store),
		newSetNoteCategory(store),
	}
}

func noteIDProperty() map[string]any {
	return map[string]any{"type": "string", "description": "The exact ID of the target note."}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func newSearchKnowledge(search notes.SearchService) Tool {
	return NewFunc(
		"search_knowledge",
		"Search across all user notes using semantic search. Use this when the user asks a question about their knowledge base or needs to find related information.",
		objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query derived from the user's question."},
		}, "query"),
		func(ctx context.Context, args map[string]any) (string, error) {
			query := StringArg(args, "query")
			results, err := search.Search(ctx, query, 5)
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}
			if len(results) == 0 {
				return "No relevant notes found for this query.", nil
			}
			blocks := make([]string, 0, len(results))
			for _, r := range results {
				snippet := r.Content
				if runes := []rune(snippet); len(runes) > 300 {
					snippet = string(runes[:300])
				}
				blocks = append(blocks, fmt.Sprintf("Title: %s\nID: %s\nSnippet: %s...", r.Title, r.ID, snippet))
			}
			return strings.Join(blocks, "\n\n---\n\n"), nil
		},
	)
}

func newReadNoteContent(store notes.Service) Tool {
	return NewFunc(
		"read_note_content",
		"Read the full, detailed content of a specific note by its ID. Use this when you need the exact text of the current note or a note found via search.",
		objectSchema(map[string]any{"note_id": noteIDProperty()}, "note_id"),
		func(ctx context.Context, args map[string]any) (string, error) {
			noteID := StringArg(args, "note_id")
			note, err := store.GetNote(ctx, noteID)
			if err != nil {
				return fmt.Sprintf("Error: Note with ID %s not found.", noteID), nil
			}
			body := notes.Markdown(note)
			return fmt.Sprintf(
				"Title: %s\nContent:\n%s\n\n[SYSTEM: Content retrieved successfully. DO NOT repeat this content in your response.]",
				note.Title, body,
			), nil
		},
	)
}

func newRenameNote(store notes.Service) Tool {
	return NewFunc(
		"rename_note",
		"Rename a note's title (NOT the content). To modify content, use update_note instead.",
		objectSchema(map[string]any{
			"note_id":   noteIDProperty(),
			"new_title": map[string]any{"type": "string", "description": "The new title for the note."},
		}, "note_id", "new_title"),
		func(ctx context.Context, args map[string]any) (string, error) {
			noteID := StringArg(args, "note_id")
			newTitle := StringArg(args, "new_title")
			note, err := store.GetNote(ctx, noteID)
			if err != nil {
				return fmt.Sprintf("Error: Note %s not found.", noteID), nil
			}
			oldTitle := note.Title
			if oldTitle == "" {
				oldTitle = "Untitled"
			}
			if err := store.RenameNote(ctx, noteID, newTitle); err != nil {
				return "", fmt.Errorf("rename failed: %w", err)
			}
			return fmt.Sprintf("Successfully renamed note from '%s' to '%s'", oldTitle, newTitle), nil
		},
	)
}

func newListRecentNotes(search notes.SearchService) Tool {
	return NewFunc(
		"list_recent_notes",
		"List the most recently updated or created notes. Use this when the user asks what they wrote recently or wants to see all notes.",
		objectSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of notes to list.", "default": 8},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			limit := IntArg(args, "limit", 8)
			listed, err := search.ListRecent(ctx, limit)
			if err != nil {
				return "", fmt.Errorf("list failed: %w", err)
			}
			if len(listed) == 0 {
				return "There are no notes in the database yet.", nil
			}
			lines := make([]string, 0, len(listed))
			for _, n := range listed {
				lines = append(lines, fmt.Sprintf("• 「%s」 (ID: %s)", n.Title, n.ID))
			}
			return "Recent Notes:\n" + strings.Join(lines, "\n"), nil
		},
	)
}

// Clearing intent markers: when the instruction asks to wipe the body,
// skip the LLM so the "edit" cannot come back as a summary.
var destructiveKeywords = []string{"清空", "删除所有内容", "clear all", "empty content"}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

func newUpdateNote(store notes.Service, chat ChatFunc) Tool {
	return NewFunc(
		"update_note",
		"Update an existing note's content based on instructions. Set force_rewrite to true ONLY if the user wants to start over with a new topic.",
		objectSchema(map[string]any{
			"note_id":       noteIDProperty(),
			"instruction":   map[string]any{"type": "string", "description": "Precise editing instructions (e.g. 'Add a paragraph', 'Fix typo')."},
			"force_rewrite": map[string]any{"type": "boolean", "description": "Replace the whole note with new content.", "default": false},
		}, "note_id", "instruction"),
		func(ctx context.Context, args map[string]any) (string, error) {
			noteID := StringArg(args, "note_id")
			instruction := StringArg(args, "instruction")
			forceRewrite := BoolArg(args, "force_rewrite")

			note, err := store.GetNote(ctx, noteID)
			if err != nil {
				return fmt.Sprintf("Error: Note %s not found.", noteID), nil
			}
			current := notes.Markdown(note)

			lowered := strings.ToLower(instruction)
			for _, kw := range destructiveKeywords {
				if !forceRewrite && strings.Contains(lowered, kw) {
					newContent := ""
					if strings.Contains(instruction, "保留标题") || strings.Contains(instruction, "标题") {
						newContent = fmt.Sprintf("# %s\n\n(内容已清空)", note.Title)
					}
					if err := store.UpdateNoteContent(ctx, noteID, newContent); err != nil {
						return "", fmt.Errorf("update failed: %w", err)
					}
					return fmt.Sprintf("Successfully updated note 「%s」. (Note content cleared as requested)", note.Title), nil
				}
			}

			model, err := chat()
			if err != nil {
				return "", fmt.Errorf("chat model unavailable: %w", err)
			}

			var sysPrompt, userPrompt string
			if forceRewrite {
				sysPrompt = "你是一个创意写作助手。输出要求：仅输出 Markdown 正文，严禁包含任何开场白或解释。"
				userPrompt = "写作要求：" + instruction
			} else {
				sysPrompt = "你是一个精确的文本编辑助手。\n规则：\n1. 仅输出最终完成修改后的 Markdown 完整正文。\n2. 严禁包含任何解释性文字、开场白或结尾总结。\n3. 如果指令要求清空或删除，请输出空字符串。\n4. 保持原有 Markdown 格式的严谨性。"
				userPrompt = fmt.Sprintf(
					"待修改的原始内容：\n---\n%s\n---\n修改指令：%s\n\n请直接输出修改后的全文本内容，严禁包含任何前言、摘要或 Markdown 以外的解释性文字：",
					current, instruction,
				)
			}

			resp, err := model.Invoke(ctx, []*protocol.Message{
				protocol.NewSystemMessage(sysPrompt),
				protocol.NewUserMessage(userPrompt),
			})
			if err != nil {
				return "", fmt.Errorf("edit generation failed: %w", err)
			}

			newContent := stripCodeFence(strings.TrimSpace(resp.Content))
			newContent = excessBlankLines.ReplaceAllString(newContent, "\n\n")

			if err := store.UpdateNoteContent(ctx, noteID, newContent); err != nil {
				return "", fmt.Errorf("update failed: %w", err)
			}
			return fmt.Sprintf(
				"Successfully updated note (ID: %s) 「%s」. The user can now see the changes in the editor. [SYSTEM: DO NOT output the note content. Just confirm the update briefly.]",
				noteID, note.Title,
			), nil
		},
	)
}

// stripCodeFence unwraps a body the model wrapped in ``` fences.
func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```markdown") {
		s = strings.TrimPrefix(s, "```markdown")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "\n"); i >= 0 && i < 20 {
			s = s[i+1:]
		}
	} else {
		return s
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func newCreateNote(store notes.Service) Tool {
	return NewFunc(
		"create_note",
		"Create a brand new note with a title and content. Only create content the user asked for.",
		objectSchema(map[string]any{
			"title":   map[string]any{"type": "string", "description": "Clear, concise title for the note."},
			"content": map[string]any{"type": "string", "description": "Full note body in Markdown."},
		}, "title"),
		func(ctx context.Context, args map[string]any) (string, error) {
			title := StringArg(args, "title")
			content := StringArg(args, "content")
			// Models occasionally omit content; an empty body is a valid note.
			content = excessBlankLines.ReplaceAllString(content, "\n\n")
			note, err := store.CreateNote(ctx, title, content)
			if err != nil {
				return "", fmt.Errorf("create failed: %w", err)
			}
			return fmt.Sprintf("Successfully created note 「%s」 with ID: %s", title, note.ID), nil
		},
	)
}

func newDeleteNote(store notes.Service) Tool {
	return NewFunc(
		"delete_note",
		"Delete a specific note by its ID. Use this ONLY when the user explicitly asks to delete, remove, or trash a note.",
		objectSchema(map[string]any{"note_id": noteIDProperty()}, "note_id"),
		func(ctx context.Context, args map[string]any) (string, error) {
			noteID := StringArg(args, "note_id")
			if err := store.DeleteNote(ctx, noteID); err != nil {
				return fmt.Sprintf("Error: Failed to delete note %s. It might not exist.", noteID), nil
			}
			return fmt.Sprintf("Successfully deleted note %s.", noteID), nil
		},
	)
}

func newListCategories(store notes.Service) Tool {
	return NewFunc(
		"list_categories",
		"List all available categories that notes can be organized into. When using set_note_category, you MUST use the exact category_id returned here.",
		objectSchema(map[string]any{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			categories, err := store.ListCategories(ctx)
			if err != nil {
				return "", fmt.Errorf("list categories failed: %w", err)
			}
			if len(categories) == 0 {
				return "No categories exist yet. The user can create categories in the sidebar.", nil
			}
			lines := make([]string, 0, len(categories))
			for _, c := range categories {
				lines = append(lines, fmt.Sprintf("• %s → category_id: %q", c.Name, c.ID))
			}
			return "Available Categories (use the category_id value for set_note_category):\n" + strings.Join(lines, "\n"), nil
		},
	)
}

func newSetNoteCategory(store notes.Service) Tool {
	return NewFunc(
		"set_note_category",
		"Assign a category to a note for organization. Use list_categories first to get the exact category_id. To remove a category, pass an empty string.",
		objectSchema(map[string]any{
			"note_id":     noteIDProperty(),
			"category_id": map[string]any{"type": "string", "description": "The exact ID of the category to assign, or \"\" to remove."},
		}, "note_id", "category_id"),
		func(ctx context.Context, args map[string]any) (string, error) {
			noteID := StringArg(args, "note_id")
			categoryID := StringArg(args, "category_id")

			if categoryID == "" || isNullToken(categoryID) {
				if err := store.SetNoteCategory(ctx, noteID, ""); err != nil {
					return fmt.Sprintf("Error: Failed to update note %s.", noteID), nil
				}
				return "Successfully removed category from note (it is now Uncategorized).", nil
			}

			categories, err := store.ListCategories(ctx)
			if err != nil {
				return "", fmt.Errorf("list categories failed: %w", err)
			}
			names := make(map[string]string, len(categories))
			nameToID := make(map[string]string, len(categories))
			valid := false
			for _, c := range categories {
				names[c.ID] = c.Name
				nameToID[c.Name] = c.ID
				if c.ID == categoryID {
					valid = true
				}
			}
			if !valid {
				// The model sometimes passes a category name instead of its id.
				if id, ok := nameToID[categoryID]; ok {
					categoryID = id
				} else {
					suggestions := make([]string, 0, len(categories))
					for _, c := range categories {
						suggestions = append(suggestions, fmt.Sprintf("%q (%s)", c.ID, c.Name))
					}
					return fmt.Sprintf(
						"Error: Category '%s' does not exist. Use a valid ID from list_categories or an empty string \"\" to remove. Valid IDs: %s",
						categoryID, strings.Join(suggestions, ", "),
					), nil
				}
			}

			if err := store.SetNoteCategory(ctx, noteID, categoryID); err != nil {
				return fmt.Sprintf("Error: Failed to update note %s. Note might not exist or is in trash.", noteID), nil
			}
			return fmt.Sprintf("Successfully assigned note to category 「%s」", names[categoryID]), nil
		},
	)
}

func isNullToken(s string) bool {
	switch strings.ToLower(s) {
	case "none", "null", "undefined":
		return true
	}
	return false
}
