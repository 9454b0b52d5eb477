package managers

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/utils"
	"github.com/dyike/CortexThesis/models"
)

const reviewTemplate = `Ticker: {ticker}
Review round: {iteration}

Thesis:
{combined}`

// RiskManager reviews a combined thesis for compliance.
type RiskManager struct {
	llm *agents.LLM
	tpl prompt.ChatTemplate
}

func NewRiskManager(llm *agents.LLM) (*RiskManager, error) {
	system, err := utils.LoadPrompt("managers/evaluator")
	if err != nil {
		return nil, err
	}
	return &RiskManager{llm: llm, tpl: agents.Template(system, reviewTemplate)}, nil
}

func (m *RiskManager) Evaluate(ctx context.Context, in agents.EvaluateInput) (models.Review, models.Usage, error) {
	reply, usage, err := m.llm.Chat(ctx, m.tpl, map[string]any{
		"ticker":    in.Subject.Ticker,
		"iteration": in.Iteration,
		"combined":  in.Combined,
	})
	if err != nil {
		return models.Review{}, usage, fmt.Errorf("evaluate: %w", err)
	}
	var review models.Review
	if err := agents.DecodeReply(reply, &review); err != nil {
		return models.Review{}, usage, fmt.Errorf("parse review: %w", err)
	}
	if review.Compliant {
		review.Feedback = ""
	}
	return review, usage, nil
}
