package analysts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/dataflows"
)

// SeriesSource returns the newest n observations of an economic series.
type SeriesSource interface {
	Latest(ctx context.Context, series string, n int) ([]dataflows.Observation, error)
}

// MacroGatherer renders the latest and prior valid reading of each series.
// The evidence does not depend on the subject.
type MacroGatherer struct {
	Series SeriesSource
	// Names maps series id to description; dataflows.MacroSeries when nil.
	Names map[string]string
}

func (g *MacroGatherer) Gather(ctx context.Context, _ agents.Subject) (string, error) {
	names := g.Names
	if names == nil {
		names = dataflows.MacroSeries
	}
	ids := make([]string, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	var errs []error
	for _, id := range ids {
		raw, err := g.Series.Latest(ctx, id, 4)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		obs := raw[:0]
		for _, o := range raw {
			if o.Valid {
				obs = append(obs, o)
			}
		}
		if len(obs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %.2f (%s)", names[id], obs[0].Value, obs[0].Date.Format("2006-01-02"))
		if len(obs) > 1 {
			fmt.Fprintf(&b, ", prior %.2f (%s)", obs[1].Value, obs[1].Date.Format("2006-01-02"))
		}
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		if len(errs) > 0 {
			return "", errors.Join(errs...)
		}
		return "", ErrNoEvidence
	}
	return b.String(), nil
}
