package filings

import (
	"context"
	"errors"
	"sort"

	"github.com/dyike/CortexThesis/models"
)

const (
	DefaultTopK        = 3
	DefaultMaxPassages = 15
	dedupePrefix       = 100
)

// Retrieve searches every query and merges the hits: passages sharing
// their first 100 bytes are kept once, the rest are ordered by score
// (ties keep retrieval order) and cut to limit. A query that fails is
// skipped; Retrieve fails only when every query does.
func Retrieve(ctx context.Context, c Corpus, ticker string, queries []string, topK, limit int) ([]models.Passage, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if limit <= 0 {
		limit = DefaultMaxPassages
	}
	seen := make(map[string]bool)
	var (
		out  []models.Passage
		errs []error
	)
	for _, q := range queries {
		hits, err := c.Search(ctx, ticker, q, topK)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range hits {
			key := p.Text
			if len(key) > dedupePrefix {
				key = key[:dedupePrefix]
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	if len(errs) > 0 && len(errs) == len(queries) {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
