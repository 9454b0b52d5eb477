package analysts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/models"
)

// NewsSearcher runs a free-text headline search.
type NewsSearcher interface {
	Search(ctx context.Context, query string, within time.Duration, limit int) ([]models.NewsArticle, error)
}

// IndustryGatherer collects recent industry-wide headlines. Without an
// industry label it searches on the company name instead.
type IndustryGatherer struct {
	News   NewsSearcher
	Within time.Duration
	Limit  int
}

func (g *IndustryGatherer) Gather(ctx context.Context, s agents.Subject) (string, error) {
	within, limit := g.Within, g.Limit
	if within <= 0 {
		within = 14 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 12
	}
	query := s.Industry + " industry outlook"
	if s.Industry == "" {
		query = s.DisplayName() + " sector outlook"
	}
	articles, err := g.News.Search(ctx, query, within, limit)
	if err != nil {
		return "", err
	}
	return renderArticles(articles)
}

func renderArticles(articles []models.NewsArticle) (string, error) {
	if len(articles) == 0 {
		return "", ErrNoEvidence
	}
	var b strings.Builder
	for _, a := range articles {
		date := "undated"
		if !a.PublishedAt.IsZero() {
			date = a.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "- [%s] %s", date, strings.TrimSpace(a.Title))
		if a.Source != "" {
			fmt.Fprintf(&b, " (%s)", a.Source)
		}
		if summary := strings.TrimSpace(a.Summary); summary != "" {
			if len(summary) > 280 {
				summary = summary[:280] + "..."
			}
			fmt.Fprintf(&b, ": %s", summary)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
