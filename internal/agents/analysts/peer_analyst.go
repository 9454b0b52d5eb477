package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/logging"
)

// PeerSource lists same-industry symbols.
type PeerSource interface {
	Peers(ctx context.Context, symbol string) ([]string, error)
}

// PeerGatherer renders a comparison table of the subject against up to Max
// peers. Peers whose quote fails are left out.
type PeerGatherer struct {
	Peers  PeerSource
	Quotes agents.EquitySource
	Max    int
}

func (g *PeerGatherer) Gather(ctx context.Context, s agents.Subject) (string, error) {
	limit := g.Max
	if limit <= 0 {
		limit = 5
	}
	peers, err := g.Peers.Peers(ctx, s.Ticker)
	if err != nil {
		return "", err
	}
	if len(peers) == 0 {
		return "", fmt.Errorf("%w: no peers for %s", ErrNoEvidence, s.Ticker)
	}
	if len(peers) > limit {
		peers = peers[:limit]
	}

	logger := logging.FromContext(ctx)
	var b strings.Builder
	b.WriteString("| Symbol | Name | Price | Change % | Market cap | Trailing P/E |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	rows := 0
	for i, sym := range append([]string{s.Ticker}, peers...) {
		q, _, err := g.Quotes.Equity(ctx, sym)
		if err != nil || q == nil {
			logger.Debug().Err(err).Str(logging.FieldTicker, sym).Msg("peer quote unavailable")
			continue
		}
		name := q.Name
		if i == 0 {
			name += " (subject)"
		}
		pe, mcap := "n/a", "n/a"
		if q.MarketCap > 0 {
			mcap = humanize(q.MarketCap)
		}
		if q.TrailingPE > 0 {
			pe = fmt.Sprintf("%.1f", q.TrailingPE)
		}
		fmt.Fprintf(&b, "| %s | %s | %.2f | %.2f | %s | %s |\n", q.Symbol, name, q.Price, q.ChangePercent, mcap, pe)
		if i > 0 {
			rows++
		}
	}
	if rows == 0 {
		return "", fmt.Errorf("%w: no peer quotes for %s", ErrNoEvidence, s.Ticker)
	}
	return b.String(), nil
}
