package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/models"
)

const deepseekOpenAIBaseURL = "https://api.deepseek.com/v1"

// LLM is a chat model plus the name reported in usage metrics.
type LLM struct {
	Model model.BaseChatModel
	Name  string
}

// Models holds the quick model used by branches and the evaluator and the
// deep model used for synthesis.
type Models struct {
	Quick *LLM
	Deep  *LLM
}

func NewModels(ctx context.Context, cfg *config.Config) (*Models, error) {
	quick, err := NewLLM(ctx, cfg, cfg.QuickThinkLLM, 2048)
	if err != nil {
		return nil, fmt.Errorf("quick model: %w", err)
	}
	if cfg.DeepThinkLLM == cfg.QuickThinkLLM {
		return &Models{Quick: quick, Deep: quick}, nil
	}
	deep, err := NewLLM(ctx, cfg, cfg.DeepThinkLLM, 4096)
	if err != nil {
		return nil, fmt.Errorf("deep model: %w", err)
	}
	return &Models{Quick: quick, Deep: deep}, nil
}

// NewLLM builds a chat model for the configured provider. "deepseek" uses
// the native client; "openai" uses the OpenAI-compatible client against
// backend_url (DeepSeek's compatible endpoint when unset).
func NewLLM(ctx context.Context, cfg *config.Config, name string, maxTokens int) (*LLM, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, errors.New("no API key configured for provider " + cfg.LLMProvider)
	}
	switch cfg.LLMProvider {
	case "openai":
		baseURL := cfg.BackendURL
		if baseURL == "" {
			baseURL = deepseekOpenAIBaseURL
		}
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   baseURL,
			APIKey:    apiKey,
			Model:     name,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI-compatible model: %w", err)
		}
		return &LLM{Model: m, Name: name}, nil
	case "deepseek", "":
		m, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    apiKey,
			Model:     name,
			MaxTokens: maxTokens,
			BaseURL:   cfg.BackendURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return &LLM{Model: m, Name: name}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

// Chat formats tpl with vars, calls the model and returns the reply text
// with its token usage.
func (l *LLM) Chat(ctx context.Context, tpl prompt.ChatTemplate, vars map[string]any) (string, models.Usage, error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", models.Usage{}, fmt.Errorf("format prompt: %w", err)
	}
	reply, err := l.Model.Generate(ctx, msgs)
	if err != nil {
		return "", models.Usage{Model: l.Name}, err
	}
	usage := models.Usage{Model: l.Name}
	if reply.ResponseMeta != nil && reply.ResponseMeta.Usage != nil {
		usage.PromptTokens = reply.ResponseMeta.Usage.PromptTokens
		usage.CompletionTokens = reply.ResponseMeta.Usage.CompletionTokens
	}
	return reply.Content, usage, nil
}

// Template builds a system+user chat template using {placeholder} syntax.
// Literal braces must be doubled.
func Template(system, user string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
}
