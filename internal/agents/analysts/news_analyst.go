package analysts

import (
	"context"
	"time"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/models"
)

// CompanyNewsSource lists a company's headlines in a date range, newest
// first.
type CompanyNewsSource interface {
	CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]models.NewsArticle, error)
}

// HeadlineGatherer collects the company's own recent headlines.
type HeadlineGatherer struct {
	News   CompanyNewsSource
	Within time.Duration
	Limit  int
}

func (g *HeadlineGatherer) Gather(ctx context.Context, s agents.Subject) (string, error) {
	within, limit := g.Within, g.Limit
	if within <= 0 {
		within = 7 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 15
	}
	to := s.AsOf
	if to.IsZero() {
		to = time.Now()
	}
	articles, err := g.News.CompanyNews(ctx, s.Ticker, to.Add(-within), to)
	if err != nil {
		return "", err
	}
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return renderArticles(articles)
}
