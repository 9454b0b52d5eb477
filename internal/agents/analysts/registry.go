package analysts

import (
	"fmt"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/dataflows"
)

// Sources are the market data clients the branch gatherers read from.
type Sources struct {
	Finnhub *dataflows.FinnhubClient
	Fred    *dataflows.FredClient
	Yahoo   *dataflows.YahooFinanceClient
	News    *dataflows.NewsScraperClient
	// Longport, when set, is preferred over Yahoo for daily bars.
	Longport *dataflows.LongportClient
}

func NewSources(cfg *config.Config) *Sources {
	return &Sources{
		Finnhub: dataflows.NewFinnhubClient(cfg.FinnhubAPIKey, ""),
		Fred:    dataflows.NewFredClient(cfg.FredAPIKey, ""),
		Yahoo:   dataflows.NewYahooFinanceClient(),
		News:    dataflows.NewNewsScraperClient(""),
	}
}

// Gatherers maps every non-filings branch to its evidence gatherer.
func (s *Sources) Gatherers() map[consts.Branch]Gatherer {
	return map[consts.Branch]Gatherer{
		consts.BranchFundamental: &FundamentalGatherer{Metrics: s.Finnhub, Equities: s.Yahoo},
		consts.BranchTechnical:   &TechnicalGatherer{History: s.history()},
		consts.BranchMacro:       &MacroGatherer{Series: s.Fred},
		consts.BranchIndustry:    &IndustryGatherer{News: s.News},
		consts.BranchPeer:        &PeerGatherer{Peers: s.Finnhub, Quotes: s.Yahoo},
		consts.BranchHeadline:    &HeadlineGatherer{News: s.Finnhub},
	}
}

func (s *Sources) history() HistorySource {
	if s.Longport == nil {
		return s.Yahoo
	}
	return FallbackHistory{s.Longport, s.Yahoo}
}

// New wraps each gatherer in an LLM analyst.
func New(gatherers map[consts.Branch]Gatherer, llm *agents.LLM) (map[consts.Branch]agents.Analyst, error) {
	out := make(map[consts.Branch]agents.Analyst, len(gatherers))
	for b, g := range gatherers {
		if !b.Valid() {
			return nil, fmt.Errorf("unknown branch %q", b)
		}
		a, err := NewLLMAnalyst(b, g, llm)
		if err != nil {
			return nil, err
		}
		out[b] = a
	}
	return out, nil
}
