package filings

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/utils"
	"github.com/dyike/CortexThesis/models"
)

// QueryBuilder turns a request identity into corpus search queries.
type QueryBuilder interface {
	Queries(ctx context.Context, id models.Identity) ([]string, models.Usage, error)
}

var (
	longQueries = []string{
		"revenue growth trends performance",
		"competitive advantages market position",
		"management guidance positive outlook",
		"strategic initiatives growth drivers",
		"strong cash flow financial health",
	}
	shortQueries = []string{
		"risk factors material risks",
		"debt obligations liquidity concerns",
		"competitive threats market challenges",
		"declining revenue margin pressure",
		"management turnover governance issues",
	}
	horizonQueries = map[consts.TradeDuration]string{
		consts.DurationShort:  "recent quarter results near-term outlook",
		consts.DurationMedium: "fiscal year guidance segment trends",
		consts.DurationLong:   "long-term strategy capital allocation",
	}
)

// DefaultQueries are the fixed queries for a direction and duration.
func DefaultQueries(id models.Identity) []string {
	base := longQueries
	if id.TradeDirection == consts.DirectionShort {
		base = shortQueries
	}
	out := append([]string(nil), base...)
	if q, ok := horizonQueries[id.TradeDuration]; ok {
		out = append(out, q)
	}
	return out
}

// StaticQueries always returns DefaultQueries.
type StaticQueries struct{}

func (StaticQueries) Queries(_ context.Context, id models.Identity) ([]string, models.Usage, error) {
	return DefaultQueries(id), models.Usage{}, nil
}

// LLMQueries asks the model for contextual queries.
type LLMQueries struct {
	llm *agents.LLM
	tpl prompt.ChatTemplate
	max int
}

func NewLLMQueries(llm *agents.LLM) (*LLMQueries, error) {
	system, err := utils.LoadPrompt("filings/queries")
	if err != nil {
		return nil, err
	}
	return &LLMQueries{llm: llm, tpl: agents.Template(system, "Ticker: {ticker}"), max: 6}, nil
}

func (q *LLMQueries) Queries(ctx context.Context, id models.Identity) ([]string, models.Usage, error) {
	reply, usage, err := q.llm.Chat(ctx, q.tpl, map[string]any{
		"ticker":    id.Ticker,
		"direction": string(id.TradeDirection),
		"horizon":   id.TradeDuration.Horizon(),
	})
	if err != nil {
		return nil, usage, err
	}
	var body struct {
		Queries []string `json:"queries"`
	}
	if err := agents.DecodeReply(reply, &body); err != nil {
		return nil, usage, fmt.Errorf("parse queries: %w", err)
	}
	out := make([]string, 0, len(body.Queries))
	for _, s := range body.Queries {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == q.max {
			break
		}
	}
	if len(out) == 0 {
		return nil, usage, fmt.Errorf("model returned no queries")
	}
	return out, usage, nil
}
