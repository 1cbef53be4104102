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

// Package config holds the typed configuration of the agent service and
// its YAML loader.
package config

import (
	"time"
)

// Config is the root configuration of the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	LLM        LLMConfig        `yaml:"llm"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Notes      NotesConfig      `yaml:"notes"`
	Agent      AgentConfig      `yaml:"agent"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig selects the chat-completion provider used for all graph
// nodes and classifiers.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Temperature    float32       `yaml:"temperature"`
}

type CheckpointConfig struct {
	// Path of the SQLite database holding per-thread checkpoints.
	Path string `yaml:"path"`
}

// NotesConfig points at the note store and search collaborators.
type NotesConfig struct {
	StoreURL  string        `yaml:"store_url"`
	SearchURL string        `yaml:"search_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AgentConfig carries the orchestration constants and lexicons.
type AgentConfig struct {
	MaxToolCalls      int `yaml:"max_tool_calls"`
	DoomLoopThreshold int `yaml:"doom_loop_threshold"`

	// WriteTools is the set of tool names whose execution mutates
	// persisted note data.
	WriteTools []string `yaml:"write_tools"`

	// StatusLabels maps tool names to the status-node completion text.
	StatusLabels map[string]string `yaml:"status_labels"`

	// ToolRunningLabels maps tool names to the stream adapter's
	// in-progress titles.
	ToolRunningLabels map[string]string `yaml:"tool_running_labels"`

	NoteContentLimit    int `yaml:"note_content_limit"`
	AttachmentTextLimit int `yaml:"attachment_text_limit"`

	Heuristics HeuristicsConfig `yaml:"heuristics"`
}

// HeuristicsConfig lifts the natural-language cue lexicons out of code.
// All matching is plain substring search over the lowercased user text.
type HeuristicsConfig struct {
	// ReferencedNoteCues mark the user as talking about the @-referenced
	// note rather than the one open in the editor.
	ReferencedNoteCues []string `yaml:"referenced_note_cues"`
	// CurrentNoteCues mark an explicit reference to the open note and
	// override ReferencedNoteCues unless negated ("不是当前笔记").
	CurrentNoteCues []string `yaml:"current_note_cues"`
	// CategoryFeedbackCues mark follow-up feedback about a previous
	// categorization action.
	CategoryFeedbackCues []string `yaml:"category_feedback_cues"`
	// CreateNoteCues mark an explicit request to create a new note.
	CreateNoteCues []string `yaml:"create_note_cues"`
	// ApproveTokens and RejectTokens form the inline approval lexicon.
	ApproveTokens []string `yaml:"approve_tokens"`
	RejectTokens  []string `yaml:"reject_tokens"`
}

// Default returns a fully populated configuration. Loaded files override
// individual fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "simple",
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    120 * time.Second,
			Temperature:    0.3,
		},
		Checkpoint: CheckpointConfig{
			Path: "checkpoints.db",
		},
		Notes: NotesConfig{
			StoreURL:  "http://127.0.0.1:8766",
			SearchURL: "http://127.0.0.1:8767",
			Timeout:   15 * time.Second,
		},
		Agent: AgentConfig{
			MaxToolCalls:      25,
			DoomLoopThreshold: 3,
			WriteTools: []string{
				"delete_note",
				"create_note",
				"rename_note",
				"update_note",
				"set_note_category",
			},
			StatusLabels: map[string]string{
				"delete_note":       "[Done] Note deleted",
				"create_note":       "[Done] Note created",
				"rename_note":       "[Done] Title updated",
				"update_note":       "[Done] Content updated",
				"set_note_category": "[Done] Category set",
				"list_recent_notes": "[Done] Notes listed",
				"search_knowledge":  "[Done] Search complete",
				"read_note_content": "[Done] Content loaded",
				"list_categories":   "[Done] Categories loaded",
			},
			ToolRunningLabels: map[string]string{
				"search_knowledge":  "Searching knowledge",
				"read_note_content": "Reading note",
				"rename_note":       "Renaming note",
				"list_recent_notes": "Listing notes",
				"update_note":       "Updating note",
				"create_note":       "Creating note",
				"delete_note":       "Deleting note",
				"list_categories":   "Loading categories",
				"set_note_category": "Setting category",
			},
			NoteContentLimit:    8000,
			AttachmentTextLimit: 12000,
			Heuristics: HeuristicsConfig{
				ReferencedNoteCues: []string{
					"附件", "这个笔记", "那个笔记", "引用的笔记", "@",
					"attached", "referenced note", "the attachment", "this note",
				},
				CurrentNoteCues: []string{
					"当前笔记", "当前页面", "正在编辑", "current note", "this page",
				},
				CategoryFeedbackCues: []string{
					"分类", "类别", "归类", "category", "categorize", "categorized",
				},
				CreateNoteCues: []string{
					"新建", "创建", "新笔记", "记录一下", "写一篇",
					"create", "new note", "make a note",
				},
				ApproveTokens: []string{
					"yes", "y", "ok", "approve", "accept", "confirm",
					"是", "好", "好的", "继续", "确认", "同意",
				},
				RejectTokens: []string{
					"no", "n", "reject", "cancel", "deny",
					"不", "不要", "取消", "拒绝", "算了",
				},
			},
		},
	}
}

// IsWriteTool reports whether name is in the configured write set.
func (c *AgentConfig) IsWriteTool(name string) bool {
	for _, t := range c.WriteTools {
		if t == name {
			return true
		}
	}
	return false
}

// ListenAddr joins host and port for http.Server.
func (c *ServerConfig) ListenAddr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 8765
	}
	return hostPort(host, port)
}
