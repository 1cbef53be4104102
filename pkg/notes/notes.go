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

// Package notes wraps the note store and knowledge search collaborators
// behind small interfaces. The agent core only ever reads Markdown: the
// store keeps HTML bodies, and note loads fall back to an HTML→Markdown
// conversion when a markdownSource is not available.
package notes

import (
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Note is the store's row shape.
type Note struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Content        string `json:"content"` // HTML body
	MarkdownSource string `json:"markdownSource,omitempty"`
	PlainText      string `json:"plainText,omitempty"`
	CategoryID     string `json:"categoryId,omitempty"`
	CategoryName   string `json:"categoryName,omitempty"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is the note store contract used by the tools and supervisor.
type Service interface {
	GetNote(ctx context.Context, id string) (*Note, error)
	CreateNote(ctx context.Context, title, markdown string) (*Note, error)
	UpdateNoteContent(ctx context.Context, id, markdown string) error
	RenameNote(ctx context.Context, id, title string) error
	DeleteNote(ctx context.Context, id string) error
	// SetNoteCategory with an empty categoryID clears the category.
	SetNoteCategory(ctx context.Context, id, categoryID string) error
	ListCategories(ctx context.Context) ([]Category, error)
}

type SearchResult struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type NoteSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SearchService is the knowledge index contract.
type SearchService interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
	ListRecent(ctx context.Context, limit int) ([]NoteSummary, error)
}

var htmlConverter = md.NewConverter("", true, nil)

// Markdown returns the best readable body of a note: the stored
// Markdown source when present, else the HTML body converted, else the
// extracted plain text.
func Markdown(n *Note) string {
	if n == nil {
		return ""
	}
	if strings.TrimSpace(n.MarkdownSource) != "" {
		return n.MarkdownSource
	}
	if strings.TrimSpace(n.Content) != "" {
		converted, err := htmlConverter.ConvertString(n.Content)
		if err == nil && strings.TrimSpace(converted) != "" {
			return converted
		}
	}
	return n.PlainText
}
