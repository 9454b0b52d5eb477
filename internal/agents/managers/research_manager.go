package managers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/agents/analysts"
	"github.com/dyike/CortexThesis/internal/utils"
	"github.com/dyike/CortexThesis/models"
)

const synthesizeTemplate = `Ticker: {ticker}
Company: {company}
Industry: {industry}
As of: {as_of}

Research by branch:
{evidence}`

const reviseTemplate = `Ticker: {ticker}
Company: {company}
Industry: {industry}
As of: {as_of}

Previous thesis:
{previous}

Reviewer feedback:
{feedback}
{evidence}`

// ResearchManager synthesizes branch research into one thesis and revises
// it against reviewer feedback.
type ResearchManager struct {
	llm    *agents.LLM
	first  prompt.ChatTemplate
	revise prompt.ChatTemplate
}

func NewResearchManager(llm *agents.LLM) (*ResearchManager, error) {
	system, err := utils.LoadPrompt("managers/aggregator")
	if err != nil {
		return nil, err
	}
	reviser, err := utils.LoadPrompt("managers/reviser")
	if err != nil {
		return nil, err
	}
	return &ResearchManager{
		llm:    llm,
		first:  agents.Template(system, synthesizeTemplate),
		revise: agents.Template(reviser, reviseTemplate),
	}, nil
}

// Aggregate runs one pass. Revision passes only see branch evidence when
// the caller put it in the input.
func (m *ResearchManager) Aggregate(ctx context.Context, in agents.AggregateInput) (string, models.Usage, error) {
	tpl := m.first
	vars := analysts.PromptVars(in.Subject, RenderEvidence(in.Evidence))
	if in.Revision() {
		tpl = m.revise
		vars["previous"] = in.Previous
		vars["feedback"] = strings.TrimSpace(in.Feedback)
		if vars["feedback"] == "" {
			vars["feedback"] = "(none given)"
		}
		if len(in.Evidence) > 0 {
			vars["evidence"] = "\nOriginal research by branch:\n" + RenderEvidence(in.Evidence)
		} else {
			vars["evidence"] = ""
		}
	}
	text, usage, err := m.llm.Chat(ctx, tpl, vars)
	if err != nil {
		return "", usage, fmt.Errorf("aggregate pass %d: %w", in.Pass, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", usage, agents.ErrEmptyReply
	}
	return text, usage, nil
}

// RenderEvidence lists branch texts in report order.
func RenderEvidence(evidence map[consts.Branch]string) string {
	var b strings.Builder
	for _, br := range consts.Branches {
		text, ok := evidence[br]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", br, strings.TrimSpace(text))
	}
	return strings.TrimSpace(b.String())
}
