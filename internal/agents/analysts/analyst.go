package analysts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/utils"
	"github.com/dyike/CortexThesis/models"
)

// ErrNoEvidence means a branch found nothing to reason over.
var ErrNoEvidence = errors.New("no evidence available")

const userTemplate = `Ticker: {ticker}
Company: {company}
Industry: {industry}
Position: {direction}, {horizon}
As of: {as_of}

Evidence:
{evidence}`

// Gatherer collects the evidence text one branch reasons over.
type Gatherer interface {
	Gather(ctx context.Context, s agents.Subject) (string, error)
}

type GathererFunc func(ctx context.Context, s agents.Subject) (string, error)

func (f GathererFunc) Gather(ctx context.Context, s agents.Subject) (string, error) {
	return f(ctx, s)
}

// LLMAnalyst gathers evidence for a branch and asks the model for a
// structured sentiment over it.
type LLMAnalyst struct {
	branch   consts.Branch
	gatherer Gatherer
	llm      *agents.LLM
	tpl      prompt.ChatTemplate
}

// NewLLMAnalyst loads the branch role prompt from prompts/analysts.
func NewLLMAnalyst(b consts.Branch, g Gatherer, llm *agents.LLM) (*LLMAnalyst, error) {
	role, err := utils.LoadPrompt("analysts/" + b.String())
	if err != nil {
		return nil, err
	}
	return &LLMAnalyst{
		branch:   b,
		gatherer: g,
		llm:      llm,
		tpl:      agents.Template(role+"\n\n"+agents.SentimentInstructions, userTemplate),
	}, nil
}

func (a *LLMAnalyst) Analyze(ctx context.Context, s agents.Subject) (models.Sentiment, models.Usage, error) {
	if a.gatherer == nil {
		return models.Sentiment{}, models.Usage{}, fmt.Errorf("%s: no evidence gatherer", a.branch)
	}
	evidence, err := a.gatherer.Gather(ctx, s)
	if err != nil {
		return models.Sentiment{}, models.Usage{}, fmt.Errorf("%s evidence: %w", a.branch, err)
	}
	return a.AnalyzeEvidence(ctx, s, evidence)
}

// AnalyzeEvidence asks the model about evidence gathered elsewhere.
func (a *LLMAnalyst) AnalyzeEvidence(ctx context.Context, s agents.Subject, evidence string) (models.Sentiment, models.Usage, error) {
	if strings.TrimSpace(evidence) == "" {
		return models.Sentiment{}, models.Usage{}, fmt.Errorf("%s: %w", a.branch, ErrNoEvidence)
	}
	reply, usage, err := a.llm.Chat(ctx, a.tpl, PromptVars(s, evidence))
	if err != nil {
		return models.Sentiment{}, usage, fmt.Errorf("%s chat: %w", a.branch, err)
	}
	sent, err := agents.ParseSentiment(reply)
	if err != nil {
		return models.Sentiment{}, usage, fmt.Errorf("%s: %w", a.branch, err)
	}
	return sent, usage, nil
}

// PromptVars are the template variables shared by every branch prompt.
func PromptVars(s agents.Subject, evidence string) map[string]any {
	industry := s.Industry
	if industry == "" {
		industry = "unknown"
	}
	asOf := s.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return map[string]any{
		"ticker":    s.Ticker,
		"company":   s.DisplayName(),
		"industry":  industry,
		"direction": string(s.TradeDirection),
		"horizon":   s.TradeDuration.Horizon(),
		"as_of":     asOf.UTC().Format("2006-01-02"),
		"evidence":  evidence,
	}
}
