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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/origin-notes/origin-agent/pkg/protocol"
)

var (
	cjkPattern        = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	writeTokenPattern = regexp.MustCompile(`^\s*(ALLOW_WRITE|DENY_WRITE|ALLOW|DENY)\b`)
)

// detectUserLanguage inspects the latest user message; CJK characters
// mean zh, everything else en.
func detectUserLanguage(messages []*protocol.Message) string {
	if cjkPattern.MatchString(protocol.LastUserText(messages)) {
		return "zh"
	}
	return "en"
}

func languageInstruction(messages []*protocol.Message) *protocol.Message {
	return protocol.NewSystemMessage(
		fmt.Sprintf("Always respond in the user's language (%s).", detectUserLanguage(messages)),
	)
}

// classifyIntent runs the router classification. Errors default to TASK,
// which is safe because it only grants tool access.
func (e *Engine) classifyIntent(ctx context.Context, s *TurnState) string {
	if s.UseKnowledge {
		return IntentTask
	}
	if len(s.Messages) == 0 {
		return IntentTask
	}

	last := s.LastMessage()
	summary := fmt.Sprintf("User just said: '%s'", last.Content)
	if len(s.Messages) > 1 {
		prev := s.Messages[len(s.Messages)-2]
		if prev.Content != "" {
			summary = fmt.Sprintf("Context: Last AI said '%s'. Now user says: '%s'", prev.Content, last.Content)
		}
	}

	resp, err := e.provider.Chat().Invoke(ctx, []*protocol.Message{
		protocol.NewUserMessage(fmt.Sprintf(routerPrompt, summary)),
	})
	if err != nil {
		slog.Warn("Router classification failed, defaulting to TASK", "error", err)
		return IntentTask
	}
	if strings.Contains(strings.ToUpper(resp.Content), IntentTask) {
		return IntentTask
	}
	return IntentChat
}

// classifyWriteAuthorization asks the strict classifier whether the last
// user text explicitly authorizes persisted changes. Ambiguity, empty
// output, and errors all deny.
func (e *Engine) classifyWriteAuthorization(ctx context.Context, history []*protocol.Message) bool {
	userText := protocol.LastUserText(history)
	if userText == "" {
		return false
	}
	resp, err := e.provider.Chat().Invoke(ctx, []*protocol.Message{
		protocol.NewUserMessage(fmt.Sprintf(writeClassifierPrompt, userText)),
	})
	if err != nil {
		slog.Warn("Write-authorization classify failed, denying", "error", err)
		return false
	}
	m := writeTokenPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(resp.Content)))
	if m == nil {
		return false
	}
	return m[1] == "ALLOW_WRITE" || m[1] == "ALLOW"
}
