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

// Package supervisor orchestrates one chat turn: checkpoint sanity,
// inline approvals, note context loading, attachment handling, and
// piping executor events through the stream adapter.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/checkpoint"
	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/graph"
	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/notes"
	"github.com/origin-notes/origin-agent/pkg/observability"
	"github.com/origin-notes/origin-agent/pkg/protocol"
	"github.com/origin-notes/origin-agent/pkg/stream"
)

// User-facing error strings. Deployed clients match on these.
const (
	errNoPendingApproval = "No pending approval found for this session."
	errApprovalGuidance  = "A write action is waiting for your approval. Reply with approve/reject (或：确认/取消) or use the approval controls."
	errSessionBroken     = "Session state is inconsistent. Please start a new conversation or clear this session."
)

// Attachment is one uploaded item of a chat request.
type Attachment struct {
	Kind        string `json:"kind"` // "image" or "file"
	Name        string `json:"name"`
	MimeType    string `json:"mime_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	DataURL     string `json:"data_url,omitempty"`
	TextContent string `json:"text_content,omitempty"`
}

// TurnRequest is one decoded chat turn.
type TurnRequest struct {
	ThreadID string
	Message  string

	Attachments []Attachment

	ActiveNoteID     string
	ActiveNoteTitle  string
	ContextNoteID    string
	ContextNoteTitle string
	NoteContext      string
	SelectedText     string

	UseKnowledge     bool
	AutoAcceptWrites *bool // nil means true
	AgentMode        string

	// Resume carries an approval decision instead of a new message.
	Resume any

	// Override switches the LLM provider/model before the turn runs.
	Override *llms.Override
}

// Supervisor wires the engine singleton, note collaborators, and model
// manager into the turn pipeline.
type Supervisor struct {
	cfg     *config.Config
	holder  *graph.Holder
	manager *llms.Manager
	svc     notes.Service
	metrics *observability.Recorder
}

func New(cfg *config.Config, holder *graph.Holder, manager *llms.Manager, svc notes.Service, metrics *observability.Recorder) *Supervisor {
	return &Supervisor{cfg: cfg, holder: holder, manager: manager, svc: svc, metrics: metrics}
}

// HandleTurn runs one turn end to end, emitting stream objects into
// sink. All failures surface as stream error objects; the method itself
// only reports transport-level problems.
func (sv *Supervisor) HandleTurn(ctx context.Context, req *TurnRequest, sink stream.Sink) {
	adapter := stream.NewAdapter(sv.cfg.Agent, sv.cfg.Agent.IsWriteTool, sv.svc, sink)
	defer adapter.Finish()

	if req.Override != nil {
		if _, _, err := sv.manager.Apply(req.Override); err != nil {
			adapter.Error("Cannot switch model: " + err.Error())
			sv.metrics.Turn("error")
			return
		}
	}

	engine, err := sv.holder.Get()
	if err != nil {
		adapter.Error("AI service error: " + err.Error())
		sv.metrics.Turn("error")
		return
	}
	store := engine.Store()

	unlock := store.LockThread(req.ThreadID)
	defer unlock()

	resume := req.Resume
	isResume := resume != nil

	pending, err := store.HasPendingInterrupt(ctx, req.ThreadID)
	if err != nil {
		adapter.Error("AI service error: " + err.Error())
		sv.metrics.Turn("error")
		return
	}

	switch {
	case isResume:
		if _, _, err := store.Latest(ctx, req.ThreadID); errors.Is(err, checkpoint.ErrNotFound) {
			adapter.Error(errNoPendingApproval)
			sv.metrics.Turn("error")
			return
		}
	case pending:
		// A plain message while an approval is pending may itself be the
		// decision ("好的" / "取消"); anything else gets guidance.
		decision := graph.InterpretInlineApproval(req.Message, sv.cfg.Agent.Heuristics)
		if decision == nil {
			adapter.Error(errApprovalGuidance)
			sv.metrics.Turn("error")
			return
		}
		slog.Info("Inline approval interpreted", "thread_id", req.ThreadID, "approved", *decision)
		resume = *decision
		isResume = true
	default:
		if err := sv.healCorruptedState(ctx, engine, req.ThreadID); err != nil {
			adapter.Error("AI service error: " + err.Error())
			sv.metrics.Turn("error")
			return
		}
	}

	userMessage, attachmentContext := buildUserMessage(req.Message, req.Attachments, sv.attachmentTextLimit())
	live := sv.buildLiveState(ctx, req, attachmentContext)

	input := &graph.Input{Live: live}
	if isResume {
		input.Resume = resume
	} else {
		input.UserMessage = userMessage
	}

	outcome, err := engine.Run(ctx, req.ThreadID, input, adapter.OnEvent)
	switch {
	case err == nil:
		sv.metrics.Turn(string(outcome))
	case ctx.Err() != nil:
		slog.Info("Turn cancelled by client", "thread_id", req.ThreadID)
	case errors.Is(err, graph.ErrNoPendingTool):
		adapter.Error(errNoPendingApproval)
		sv.metrics.Turn("error")
	case !isResume && strings.Contains(err.Error(), "tool_call"):
		slog.Error("Tool-call integrity failure", "thread_id", req.ThreadID, "error", err)
		adapter.Error(errSessionBroken)
		sv.metrics.Turn("error")
	default:
		slog.Error("Turn failed", "thread_id", req.ThreadID, "error", err)
		adapter.Error("AI service error: " + err.Error())
		sv.metrics.Turn("error")
	}
}

// healCorruptedState clears a thread whose latest checkpoint carries
// orphan tool calls with no pending interrupt. Happens pre-turn only;
// mid-turn integrity failures surface as errors instead.
func (sv *Supervisor) healCorruptedState(ctx context.Context, engine *graph.Engine, threadID string) error {
	state, err := engine.LoadState(ctx, threadID)
	if err != nil {
		return err
	}
	if !protocol.HasOrphanToolCalls(state.Messages) {
		return nil
	}
	slog.Warn("Clearing corrupted thread state (orphan tool calls)", "thread_id", threadID)
	return engine.Store().Clear(ctx, threadID)
}

func (sv *Supervisor) attachmentTextLimit() int {
	if sv.cfg.Agent.AttachmentTextLimit > 0 {
		return sv.cfg.Agent.AttachmentTextLimit
	}
	return 12000
}

// buildLiveState assembles the UI snapshot applied to the thread state.
// The active note body is fetched from the store when the request did
// not inline it; the referenced note body is folded into the attachment
// context so the agent can quote it without a tool roundtrip.
func (sv *Supervisor) buildLiveState(ctx context.Context, req *TurnRequest, attachmentContext string) *graph.LiveState {
	live := &graph.LiveState{
		ActiveNoteID:     req.ActiveNoteID,
		ActiveNoteTitle:  req.ActiveNoteTitle,
		ContextNoteID:    req.ContextNoteID,
		ContextNoteTitle: req.ContextNoteTitle,
		NoteContent:      req.NoteContext,
		SelectedText:     req.SelectedText,
		UseKnowledge:     req.UseKnowledge,
		AutoAcceptWrites: req.AutoAcceptWrites == nil || *req.AutoAcceptWrites,
		AgentMode:        req.AgentMode,
	}

	if live.NoteContent == "" && req.ActiveNoteID != "" && sv.svc != nil {
		if note, err := sv.svc.GetNote(ctx, req.ActiveNoteID); err == nil && note != nil {
			live.NoteContent = notes.Markdown(note)
			if live.ActiveNoteTitle == "" {
				live.ActiveNoteTitle = note.Title
			}
		}
	}

	if req.ContextNoteID != "" && sv.svc != nil {
		if note, err := sv.svc.GetNote(ctx, req.ContextNoteID); err == nil && note != nil {
			body := capRunes(notes.Markdown(note), sv.attachmentTextLimit())
			section := fmt.Sprintf("[Referenced note 「%s」 (ID: %s)]\n%s", note.Title, note.ID, body)
			if attachmentContext != "" {
				attachmentContext = attachmentContext + "\n\n" + section
			} else {
				attachmentContext = section
			}
			if live.ContextNoteTitle == "" {
				live.ContextNoteTitle = note.Title
			}
		}
	}

	live.AttachmentContext = attachmentContext
	return live
}

// buildUserMessage combines the user text with attachments. Images ride
// inline as data-URL blocks of a multimodal message; textual files are
// extracted into the attachment context string, capped per file.
func buildUserMessage(message string, attachments []Attachment, textLimit int) (*protocol.Message, string) {
	if len(attachments) == 0 {
		return protocol.NewUserMessage(message), ""
	}

	parts := []protocol.ContentPart{{Type: "text", Text: message}}
	hasImage := false
	var contextSections []string

	for _, att := range attachments {
		switch {
		case att.Kind == "image" && att.DataURL != "":
			parts = append(parts, protocol.ContentPart{Type: "image_url", ImageURL: att.DataURL})
			hasImage = true
		case att.TextContent != "":
			text := capRunes(att.TextContent, textLimit)
			contextSections = append(contextSections, fmt.Sprintf("[Attachment: %s]\n%s", att.Name, text))
		}
	}

	attachmentContext := strings.Join(contextSections, "\n\n")
	if hasImage {
		return protocol.NewUserMessageWithParts(parts), attachmentContext
	}
	return protocol.NewUserMessage(message), attachmentContext
}

// capRunes truncates at the rune limit; the caps are character counts,
// not bytes, so CJK text keeps its full budget.
func capRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
