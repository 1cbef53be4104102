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
	"fmt"
	"regexp"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/config"
)

// PolicyAction is the outcome kind of a write-policy decision.
type PolicyAction string

const (
	PolicyAllow PolicyAction = "allow"
	PolicyDeny  PolicyAction = "deny"
)

// Stable decision codes. They appear in synthetic tool results and in
// metrics labels; treat them as part of the external surface.
const (
	CodeNonWriteTool         = "non_write_tool"
	CodeAskModeReadOnly      = "ask_mode_read_only"
	CodeMissingUserIntent    = "missing_user_intent"
	CodeManualReviewRequired = "manual_review_required"
	CodeSemanticAllowWrite   = "semantic_allow_write"
	CodeSemanticDenyWrite    = "semantic_deny_write"
	CodeDuplicateCreate      = "duplicate_create_blocked_for_category_feedback"
)

// PolicyDecision is the normalized result the approval and execution
// steps consume.
type PolicyDecision struct {
	Action PolicyAction `json:"action"`
	Code   string       `json:"code"`
	Reason string       `json:"reason"`
}

func allow(code, reason string) PolicyDecision {
	return PolicyDecision{Action: PolicyAllow, Code: code, Reason: reason}
}

func deny(code, reason string) PolicyDecision {
	return PolicyDecision{Action: PolicyDeny, Code: code, Reason: reason}
}

// Policy centralizes the per-tool-call write gate. It is stateless and
// deterministic for a given (mode, user text, cached classification,
// tool name) tuple.
type Policy struct {
	heuristics config.HeuristicsConfig
	isWrite    func(name string) bool
}

func NewPolicy(heuristics config.HeuristicsConfig, isWrite func(string) bool) *Policy {
	return &Policy{heuristics: heuristics, isWrite: isWrite}
}

// Evaluate decides whether the candidate tool call may proceed this
// turn. classify is consulted only when the state carries no cached
// write authorization.
func (p *Policy) Evaluate(s *TurnState, toolName, lastUserText string, classify func() bool) PolicyDecision {
	if !p.isWrite(toolName) {
		return allow(CodeNonWriteTool, "Read-only tool is always allowed.")
	}

	if strings.TrimSpace(strings.ToLower(s.AgentMode)) == ModeAsk {
		return deny(CodeAskModeReadOnly, "Current interaction mode is ask (read-only); write tools are disabled.")
	}

	if lastUserText == "" {
		return deny(CodeMissingUserIntent, "No latest user intent found for a write operation.")
	}

	// Manual review defers the decision to the human approval gate.
	if !s.AutoAcceptWrites {
		return allow(CodeManualReviewRequired, "Write will be submitted for manual approval.")
	}

	authorized := false
	if s.WriteAuthorized != nil {
		authorized = *s.WriteAuthorized
	} else if classify != nil {
		authorized = classify()
	}
	if authorized {
		return allow(CodeSemanticAllowWrite, "Semantic policy indicates explicit write authorization.")
	}

	if toolName == "create_note" && p.isCategoryFeedbackWithoutCreate(lastUserText) {
		reason := "Last message is feedback about a previous categorization; creating another note would duplicate it."
		if hint := ExtractRequestedCategoryHint(lastUserText); hint != "" {
			reason += fmt.Sprintf(" Use set_note_category to move the existing note to 「%s」 instead.", hint)
		}
		return deny(CodeDuplicateCreate, reason)
	}

	return deny(CodeSemanticDenyWrite, "No explicit write authorization in user intent for this turn.")
}

// isCategoryFeedbackWithoutCreate detects follow-up remarks about a
// previous categorization action that carry no explicit request to
// create a note. The cue lexicons live in configuration.
func (p *Policy) isCategoryFeedbackWithoutCreate(userText string) bool {
	lowered := strings.ToLower(userText)
	if !containsAny(lowered, p.heuristics.CategoryFeedbackCues) {
		return false
	}
	return !containsAny(lowered, p.heuristics.CreateNoteCues)
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if cue != "" && strings.Contains(text, strings.ToLower(cue)) {
			return true
		}
	}
	return false
}

var categoryHintPattern = regexp.MustCompile(`(?:归类到|分类到|归入|categorize (?:to|into)\s*)\s*([^\s，。,.!！?？]+)`)

// ExtractRequestedCategoryHint pulls the category name the user asked
// for out of free text, e.g. "……归类到工作" yields "工作".
func ExtractRequestedCategoryHint(userText string) string {
	m := categoryHintPattern.FindStringSubmatch(userText)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
