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
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/origin-notes/origin-agent/pkg/checkpoint"
	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/observability"
	"github.com/origin-notes/origin-agent/pkg/protocol"
	"github.com/origin-notes/origin-agent/pkg/tools"
)

// Node names. They tag streamed tokens and update events; the stream
// adapter keys its filtering on them.
const (
	NodeRouter      = "router"
	NodeFastChat    = "fast_chat"
	NodeAgent       = "agent"
	NodePickOneTool = "pick_one_tool"
	NodeRunOneTool  = "run_one_tool"
	NodeStatus      = "status"

	nodeEnd = "__end__"
)

// EventKind discriminates executor stream events.
type EventKind string

const (
	EventToken     EventKind = "token"
	EventUpdate    EventKind = "update"
	EventInterrupt EventKind = "interrupt"
)

// Event is one executor stream item: a per-token delta, a node state
// update, or an approval interrupt.
type Event struct {
	Kind      EventKind
	Node      string
	Token     string
	Update    *Update
	State     *TurnState
	Interrupt *ApprovalPayload
}

// Emit receives events in emission order. It is called synchronously
// from the executor goroutine.
type Emit func(Event)

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeEnd       Outcome = "end"
	OutcomeInterrupt Outcome = "interrupt"
)

// Input is one turn's entry: either a new user message or a resume
// decision for a suspended approval, plus the request's live UI state.
type Input struct {
	UserMessage *protocol.Message
	Resume      any
	Live        *LiveState
}

// ErrNoPendingTool is returned when a resume arrives but the thread has
// no suspended tool call.
var ErrNoPendingTool = errors.New("no pending tool call to resume")

// Engine executes the graph for one thread at a time. The caller must
// hold the thread lock for the duration of a turn.
type Engine struct {
	cfg        config.AgentConfig
	provider   llms.Provider
	registry   *tools.Registry
	store      *checkpoint.Store
	policy     *Policy
	normalizer *Normalizer
	metrics    *observability.Recorder
}

func New(cfg config.AgentConfig, provider llms.Provider, registry *tools.Registry, store *checkpoint.Store, metrics *observability.Recorder) *Engine {
	return &Engine{
		cfg:        cfg,
		provider:   provider,
		registry:   registry,
		store:      store,
		policy:     NewPolicy(cfg.Heuristics, registry.IsWrite),
		normalizer: NewNormalizer(cfg.Heuristics, registry.IsWrite),
		metrics:    metrics,
	}
}

// Store exposes the checkpoint handle for thread locking and session
// administration.
func (e *Engine) Store() *checkpoint.Store { return e.store }

// Close releases the checkpoint handle. Called on singleton
// invalidation.
func (e *Engine) Close() error { return e.store.Close() }

func (e *Engine) maxToolCalls() int {
	if e.cfg.MaxToolCalls > 0 {
		return e.cfg.MaxToolCalls
	}
	return 25
}

func (e *Engine) doomLoopThreshold() int {
	if e.cfg.DoomLoopThreshold > 0 {
		return e.cfg.DoomLoopThreshold
	}
	return 3
}

// LoadState returns the thread's latest checkpointed state, or a fresh
// one for unknown threads.
func (e *Engine) LoadState(ctx context.Context, threadID string) (*TurnState, error) {
	_, raw, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return NewTurnState(), nil
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalTurnState(raw)
}

// Run executes one turn until END or an approval interrupt, persisting
// a checkpoint after every node.
func (e *Engine) Run(ctx context.Context, threadID string, input *Input, emit Emit) (Outcome, error) {
	state, err := e.LoadState(ctx, threadID)
	if err != nil {
		return "", err
	}
	state.ApplyLive(input.Live)

	var (
		node   string
		resume any
	)
	if input.Resume != nil {
		if state.NextToolCall == nil {
			return "", ErrNoPendingTool
		}
		// The decision consumes the pending interrupt.
		if err := e.store.ClearInterrupts(ctx, threadID); err != nil {
			return "", err
		}
		node = NodeRunOneTool
		resume = input.Resume
	} else {
		state.ResetTurn()
		if input.UserMessage != nil {
			state.Messages = protocol.Append(state.Messages, []*protocol.Message{input.UserMessage})
		}
		node = NodeRouter
	}

	if _, err := e.persist(ctx, threadID, state); err != nil {
		return "", err
	}

	for node != nodeEnd {
		e.metrics.NodeStep(node)
		update, interrupt, err := e.step(ctx, node, state, resume, emit)
		resume = nil
		if err != nil {
			return "", err
		}

		if interrupt != nil {
			cpID, err := e.persist(ctx, threadID, state)
			if err != nil {
				return "", err
			}
			payload, err := json.Marshal(interrupt)
			if err != nil {
				return "", fmt.Errorf("failed to encode interrupt payload: %w", err)
			}
			if err := e.store.PutInterrupt(ctx, threadID, cpID, payload); err != nil {
				return "", err
			}
			e.metrics.Interrupt()
			emit(Event{Kind: EventInterrupt, Node: node, Interrupt: interrupt, State: state})
			return OutcomeInterrupt, nil
		}

		state.Apply(update)
		if _, err := e.persist(ctx, threadID, state); err != nil {
			return "", err
		}
		emit(Event{Kind: EventUpdate, Node: node, Update: update, State: state})
		node = e.nextNode(node, state)
	}
	return OutcomeEnd, nil
}

func (e *Engine) persist(ctx context.Context, threadID string, state *TurnState) (int64, error) {
	raw, err := state.Marshal()
	if err != nil {
		return 0, err
	}
	return e.store.Put(ctx, threadID, raw)
}

func (e *Engine) step(ctx context.Context, node string, s *TurnState, resume any, emit Emit) (*Update, *ApprovalPayload, error) {
	switch node {
	case NodeRouter:
		return e.routerNode(ctx, s), nil, nil
	case NodeFastChat:
		u, err := e.fastChatNode(ctx, s, emit)
		return u, nil, err
	case NodeAgent:
		u, err := e.agentNode(ctx, s, emit)
		return u, nil, err
	case NodePickOneTool:
		return e.pickOneToolNode(s), nil, nil
	case NodeRunOneTool:
		return e.runOneToolNode(ctx, s, resume)
	case NodeStatus:
		return e.statusNode(s), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown graph node: %s", node)
}

// nextNode encodes the deterministic edge wiring.
func (e *Engine) nextNode(node string, s *TurnState) string {
	switch node {
	case NodeRouter:
		if s.Intent == IntentChat {
			return NodeFastChat
		}
		return NodeAgent
	case NodeAgent:
		last := s.LastMessage()
		if last != nil && last.Role == protocol.RoleAssistant && len(last.ToolCalls) > 0 &&
			s.ToolCallCount < e.maxToolCalls() {
			return NodePickOneTool
		}
		return nodeEnd
	case NodePickOneTool:
		return NodeRunOneTool
	case NodeRunOneTool:
		return NodeStatus
	case NodeStatus:
		return NodeAgent
	}
	return nodeEnd
}

// ----------------------------------------------------------------------------
// Nodes
// ----------------------------------------------------------------------------

func (e *Engine) routerNode(ctx context.Context, s *TurnState) *Update {
	intent := e.classifyIntent(ctx, s)
	slog.Debug("Router classified turn", "intent", intent)
	return &Update{Intent: &intent}
}

func (e *Engine) fastChatNode(ctx context.Context, s *TurnState, emit Emit) (*Update, error) {
	history := protocol.SanitizeForProvider(s.Messages)

	guardrail := agentModeGuardrail
	if strings.EqualFold(s.AgentMode, ModeAsk) {
		guardrail = askModeGuardrail
	}
	messages := append([]*protocol.Message{
		protocol.NewSystemMessage(fastChatPrompt),
		protocol.NewSystemMessage(guardrail),
		languageInstruction(history),
	}, history...)

	resp, err := e.provider.Chat().Stream(ctx, messages, func(delta string) {
		emit(Event{Kind: EventToken, Node: NodeFastChat, Token: delta})
	})
	if err != nil {
		return nil, fmt.Errorf("fast chat failed: %w", err)
	}
	return &Update{Messages: []*protocol.Message{resp}}, nil
}

func (e *Engine) agentNode(ctx context.Context, s *TurnState, emit Emit) (*Update, error) {
	history := protocol.SanitizeForProvider(s.Messages)

	writeAuthorized := false
	if !strings.EqualFold(s.AgentMode, ModeAsk) {
		if s.WriteAuthorized != nil {
			writeAuthorized = *s.WriteAuthorized
		} else {
			writeAuthorized = e.classifyWriteAuthorization(ctx, history)
		}
	}

	var bound llms.Model
	if writeAuthorized {
		bound = e.provider.BindTools(tools.Definitions(e.registry.All()), false)
	} else {
		bound = e.provider.BindTools(tools.Definitions(e.registry.ReadOnly()), false)
	}

	messages := append([]*protocol.Message{
		protocol.NewSystemMessage(agentPrompt),
		protocol.NewSystemMessage("[当前上下文]\n" + e.buildContextBlock(s)),
		languageInstruction(history),
	}, history...)

	if s.ToolCallCount >= e.maxToolCalls() {
		messages = append(messages, protocol.NewUserMessage(toolLimitInstruction))
	}

	resp, err := bound.Stream(ctx, messages, func(delta string) {
		emit(Event{Kind: EventToken, Node: NodeAgent, Token: delta})
	})
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	// A TASK turn that must use a tool gets exactly one retry with an
	// explicit instruction before we accept a plain-text answer.
	if s.Intent == IntentTask && s.ToolCallCount == 0 &&
		len(resp.ToolCalls) == 0 && len(resp.InvalidToolCalls) == 0 &&
		(s.UseKnowledge || writeAuthorized) {
		forced := append(append([]*protocol.Message{}, messages...), protocol.NewSystemMessage(forcedToolInstruction))
		forcedResp, err := bound.Invoke(ctx, forced)
		if err == nil && len(forcedResp.ToolCalls) > 0 {
			resp = forcedResp
		}
	}

	resp = normalizeAgentResponse(resp)
	return &Update{
		Messages:        []*protocol.Message{resp},
		WriteAuthorized: &writeAuthorized,
	}, nil
}

// normalizeAgentResponse enforces the one-tool discipline on a raw
// model response: recover a call from invalid_tool_calls when possible,
// keep only the first call, ensure it has an id, and strip pre-tool
// chatter.
func normalizeAgentResponse(resp *protocol.Message) *protocol.Message {
	out := resp.Clone()

	if len(out.ToolCalls) == 0 && len(out.InvalidToolCalls) > 0 {
		invalid := out.InvalidToolCalls[0]
		var args map[string]any
		if err := json.Unmarshal([]byte(invalid.Args), &args); err == nil && args != nil {
			out.ToolCalls = []protocol.ToolCall{{ID: invalid.ID, Name: invalid.Name, Args: args}}
		}
	}
	out.InvalidToolCalls = nil

	if len(out.ToolCalls) > 1 {
		out.ToolCalls = out.ToolCalls[:1]
	}
	if len(out.ToolCalls) == 1 {
		if out.ToolCalls[0].ID == "" {
			out.ToolCalls[0].ID = "call_" + uuid.NewString()
		}
		out.Content = ""
	}
	return out
}

func (e *Engine) buildContextBlock(s *TurnState) string {
	var parts []string

	if s.ActiveNoteID != "" {
		parts = append(parts, "CURRENT NOTE:")
		parts = append(parts, "  - ID: "+s.ActiveNoteID)
		if s.ActiveNoteTitle != "" {
			parts = append(parts, "  - Title: "+s.ActiveNoteTitle)
		}
		if s.ActiveNoteCategory != "" {
			parts = append(parts, "  - Category: "+s.ActiveNoteCategory)
		}
		parts = append(parts, "  - Content: (use read_note_content to view, update_note to modify)")
	}

	if s.ContextNoteID != "" && s.ContextNoteID != s.ActiveNoteID {
		parts = append(parts, "\nREFERENCED NOTE:")
		parts = append(parts, "  - ID: "+s.ContextNoteID)
		if s.ContextNoteTitle != "" {
			parts = append(parts, "  - Title: "+s.ContextNoteTitle)
		}
	}

	if s.NoteContent != "" {
		content := s.NoteContent
		limit := e.cfg.NoteContentLimit
		if limit <= 0 {
			limit = 8000
		}
		if runes := []rune(content); len(runes) > limit {
			content = string(runes[:limit]) + "\n...[Content truncated due to length]"
		}
		parts = append(parts, "\nFULL NOTE CONTENT:\n"+content)
	}

	if s.SelectedText != "" {
		parts = append(parts, "\nSELECTED TEXT:\n"+s.SelectedText)
	}

	if s.AttachmentContext != "" {
		parts = append(parts, "\nATTACHMENT CONTEXT:\n"+s.AttachmentContext)
	}

	if s.UseKnowledge {
		parts = append(parts,
			"\n[CRITICAL INSTRUCTION]",
			"  - The user explicitly requested to search the KNOWLEDGE BASE.",
			"  - You MUST call `search_knowledge` BEFORE answering.",
			"  - Use the user's query as the search term.")
	}

	parts = append(parts, `
NOTE STRUCTURE:
A note has two distinct parts:
- title: The note's name (modify with rename_note)
- content: The note's body text (modify with update_note)
These are SEPARATE. "Change the title" means rename_note, NOT adding a heading in content.`)
	parts = append(parts, `
TOOL USAGE:
When a tool requires note_id, ALWAYS use the exact ID shown in CURRENT NOTE or REFERENCED NOTE.
Do NOT use placeholders. If no ID is provided, ask for clarification.`)

	return strings.Join(parts, "\n")
}

func (e *Engine) pickOneToolNode(s *TurnState) *Update {
	last := s.LastMessage()
	if last == nil || last.Role != protocol.RoleAssistant {
		return &Update{ClearNextToolCall: true}
	}
	call := last.FirstToolCall()
	if call == nil {
		return &Update{ClearNextToolCall: true}
	}
	return &Update{NextToolCall: call}
}

func (e *Engine) runOneToolNode(ctx context.Context, s *TurnState, resume any) (*Update, *ApprovalPayload, error) {
	call := s.NextToolCall
	if call == nil {
		return &Update{ClearNextToolCall: true}, nil, nil
	}

	count := s.ToolCallCount
	lastUserText := strings.ToLower(protocol.LastUserText(s.Messages))
	args := e.normalizer.NormalizeNoteID(call.Args, s, call.Name, lastUserText)
	fingerprint := Fingerprint(args)

	decision := e.policy.Evaluate(s, call.Name, lastUserText, func() bool {
		return e.classifyWriteAuthorization(ctx, protocol.SanitizeForProvider(s.Messages))
	})
	if decision.Action == PolicyDeny {
		e.metrics.PolicyDenial(decision.Code)
		return toolStepUpdate(call, fmt.Sprintf("Write action blocked (%s): %s", decision.Code, decision.Reason),
			count+1, call.Name, fingerprint, false), nil, nil
	}

	if e.registry.IsWrite(call.Name) && !s.AutoAcceptWrites {
		if resume == nil {
			return nil, buildApprovalPayload(call.Name, call, args, s), nil
		}
		approved, resumedArgs := ParseApprovalDecision(resume, args, call.ID)
		if !approved {
			return toolStepUpdate(call, "Action rejected by user approval.",
				count+1, call.Name, fingerprint, false), nil, nil
		}
		args = e.normalizer.NormalizeNoteID(resumedArgs, s, call.Name, lastUserText)
		fingerprint = Fingerprint(args)
	}

	if call.Name == s.LastToolName && fingerprint == s.LastToolFingerprint {
		consecutive := count + 1
		if consecutive >= e.doomLoopThreshold() {
			e.metrics.DoomLoop()
			return toolStepUpdate(call,
				fmt.Sprintf("[DOOM LOOP DETECTED] Tool %s called repeatedly (%d); workflow stopped.", call.Name, consecutive),
				consecutive, call.Name, fingerprint, false), nil, nil
		}
	}

	tool, ok := e.registry.Get(call.Name)
	var content string
	if !ok {
		content = fmt.Sprintf("Error: unknown tool %q.", call.Name)
	} else {
		result, err := tool.Call(ctx, args)
		if err != nil {
			content = "Error: " + err.Error()
		} else {
			content = result
		}
	}

	success := !strings.HasPrefix(strings.TrimSpace(content), "Error:")
	e.metrics.ToolRun(call.Name, success)
	return toolStepUpdate(call, content, count+1, call.Name, fingerprint, success), nil, nil
}

func toolStepUpdate(call *protocol.ToolCall, content string, count int, name, fingerprint string, success bool) *Update {
	return &Update{
		Messages:            []*protocol.Message{protocol.NewToolResult(call.ID, content)},
		ToolCallCount:       &count,
		LastToolName:        &name,
		LastToolFingerprint: &fingerprint,
		LastToolSuccess:     &success,
		ClearNextToolCall:   true,
	}
}

func (e *Engine) statusNode(s *TurnState) *Update {
	text := e.cfg.StatusLabels[s.LastToolName]
	if text == "" {
		text = s.LastToolName + " 执行完成"
	}
	if !s.LastToolSuccess {
		text = "[Blocked] " + s.LastToolName
	}
	return &Update{Messages: []*protocol.Message{protocol.NewStatusMessage(text)}}
}

// Fingerprint hashes a tool call's arguments deterministically:
// md5 over JSON with sorted keys.
func Fingerprint(args map[string]any) string {
	canonical, err := json.Marshal(args)
	if err != nil {
		canonical = []byte("{}")
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}
