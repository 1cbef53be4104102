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

package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/protocol"
)

// OpenAI implements Provider over any OpenAI-compatible endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		},
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

func (o *OpenAI) Name() string      { return "openai" }
func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) Chat() Model {
	return &openAIModel{provider: o}
}

func (o *OpenAI) BindTools(tools []ToolDefinition, parallelToolCalls bool) Model {
	converted := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		converted = append(converted, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return &openAIModel{provider: o, tools: converted, parallel: parallelToolCalls}
}

type openAIModel struct {
	provider *OpenAI
	tools    []openai.Tool
	parallel bool
}

func (m *openAIModel) request(messages []*protocol.Message) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       m.provider.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: m.provider.temperature,
	}
	if len(m.tools) > 0 {
		req.Tools = m.tools
		req.ParallelToolCalls = m.parallel
	}
	return req
}

func (m *openAIModel) Invoke(ctx context.Context, messages []*protocol.Message) (*protocol.Message, error) {
	resp, err := m.provider.client.CreateChatCompletion(ctx, m.request(messages))
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

func (m *openAIModel) Stream(ctx context.Context, messages []*protocol.Message, onToken func(string)) (*protocol.Message, error) {
	stream, err := m.provider.client.CreateChatCompletionStream(ctx, m.request(messages))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var (
		content   string
		toolCalls []openai.ToolCall
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat completion stream read failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			if onToken != nil {
				onToken(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			toolCalls = accumulateToolCallDelta(toolCalls, tc)
		}
	}

	return fromOpenAIMessage(openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}), nil
}

// accumulateToolCallDelta folds streamed tool-call fragments into full
// calls, keyed by the provider-supplied index.
func accumulateToolCallDelta(calls []openai.ToolCall, delta openai.ToolCall) []openai.ToolCall {
	idx := len(calls)
	if delta.Index != nil {
		idx = *delta.Index
	}
	for len(calls) <= idx {
		calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
	}
	if delta.ID != "" {
		calls[idx].ID = delta.ID
	}
	if delta.Function.Name != "" {
		calls[idx].Function.Name = delta.Function.Name
	}
	calls[idx].Function.Arguments += delta.Function.Arguments
	return calls
}

func toOpenAIMessages(messages []*protocol.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case protocol.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		case protocol.RoleUser:
			if len(m.Parts) > 0 {
				out = append(out, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: toOpenAIParts(m.Parts),
				})
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		case protocol.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case protocol.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAIParts(parts []protocol.ContentPart) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			out = append(out, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
			})
		default:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return out
}

// fromOpenAIMessage converts a provider response to an assistant
// message. Tool-call arguments that fail to parse land in
// InvalidToolCalls so the agent node can attempt recovery.
func fromOpenAIMessage(msg openai.ChatCompletionMessage) *protocol.Message {
	out := protocol.NewAssistantMessage(msg.Content)
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw != "" && raw != "{}" && (json.Unmarshal([]byte(raw), &args) != nil || args == nil) {
			out.InvalidToolCalls = append(out.InvalidToolCalls, protocol.InvalidToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
				Error: "malformed tool arguments",
			})
			continue
		}
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
