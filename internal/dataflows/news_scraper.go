package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/dyike/CortexThesis/models"
)

const googleNewsBaseURL = "https://news.google.com"

// NewsScraperClient searches Google News. The RSS search feed is parsed
// with goquery so the scraper does not depend on the HTML page layout.
type NewsScraperClient struct {
	client *resty.Client
	retry  *RetryConfig
}

func NewNewsScraperClient(baseURL string) *NewsScraperClient {
	if baseURL == "" {
		baseURL = googleNewsBaseURL
	}
	return &NewsScraperClient{
		client: newRestClient(baseURL, 20*time.Second, "Mozilla/5.0 (compatible; CortexThesis/1.0)"),
		retry:  DefaultRetryConfig(),
	}
}

// Search returns up to limit articles matching query published within
// the last `within`.
func (ns *NewsScraperClient) Search(ctx context.Context, query string, within time.Duration, limit int) ([]models.NewsArticle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}
	q := query
	if within > 0 {
		q += fmt.Sprintf(" when:%dd", max(1, int(within.Hours()/24)))
	}

	var articles []models.NewsArticle
	err := WithRetry(ctx, ns.retry, func() error {
		resp, err := ns.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"q": q, "hl": "en-US", "gl": "US", "ceid": "US:en"}).
			Get("/rss/search")
		if err := checkResponse(resp, err, "google news"); err != nil {
			return err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("failed to parse feed: %w", err)
		}
		articles = parseNewsFeed(doc, limit)
		return nil
	})
	return articles, err
}

func parseNewsFeed(doc *goquery.Document, limit int) []models.NewsArticle {
	var out []models.NewsArticle
	doc.Find("item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find("title").First().Text())
		if title == "" {
			return true
		}
		source := voidText(s, "source")
		if source == "" {
			source = "Google News"
		}
		// the feed appends " - Source" to every title
		title = strings.TrimSuffix(title, " - "+source)

		link := voidText(s, "link")
		if u, err := url.Parse(link); err != nil || u.Scheme == "" {
			link = ""
		}

		published, _ := time.Parse(time.RFC1123, strings.TrimSpace(s.Find("pubdate").Text()))
		summary := ""
		if desc := strings.TrimSpace(s.Find("description").Text()); desc != "" {
			if d, err := goquery.NewDocumentFromReader(strings.NewReader(desc)); err == nil {
				summary = strings.TrimSpace(d.Text())
			}
		}

		out = append(out, models.NewsArticle{
			Title:       title,
			Summary:     summary,
			Source:      source,
			URL:         link,
			PublishedAt: published.UTC(),
		})
		return len(out) < limit
	})
	return out
}

// voidText reads RSS elements that share a name with HTML void elements
// (<link>, <source>). The HTML parser closes those immediately, so their
// content ends up in the following text node.
func voidText(s *goquery.Selection, tag string) string {
	el := s.Find(tag).First()
	if text := strings.TrimSpace(el.Text()); text != "" {
		return text
	}
	if len(el.Nodes) == 0 {
		return ""
	}
	if next := el.Nodes[0].NextSibling; next != nil && next.Type == html.TextNode {
		return strings.TrimSpace(next.Data)
	}
	return ""
}
