// Package agenttest provides scripted chat models for tests.
package agenttest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ScriptedModel replies with Replies in order, repeating the last one. It
// records every prompt it receives.
type ScriptedModel struct {
	Replies          []string
	Err              error
	PromptTokens     int
	CompletionTokens int

	mu      sync.Mutex
	Prompts [][]*schema.Message
}

func (m *ScriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, input)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Replies) == 0 {
		return nil, errors.New("scripted model has no replies")
	}
	idx := len(m.Prompts) - 1
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	msg := schema.AssistantMessage(m.Replies[idx], nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.PromptTokens + m.CompletionTokens,
	}}
	return msg, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls reports how many prompts the model has received.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// LastPrompt joins the contents of the most recent prompt.
func (m *ScriptedModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Prompts) == 0 {
		return ""
	}
	var out string
	for _, msg := range m.Prompts[len(m.Prompts)-1] {
		out += msg.Content + "\n"
	}
	return out
}
